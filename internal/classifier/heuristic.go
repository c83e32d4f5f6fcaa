package classifier

import (
	"context"
	"fmt"
	"strings"

	"opsassist/internal/domain"
)

// rule maps message keywords to a classification. Rules are tried in order
// and the first one with a matching keyword wins.
type rule struct {
	category string
	severity string
	keywords []string
	summary  string // format verb receives the service name
	actions  []string
}

var rules = []rule{
	{
		category: CategoryDatabase,
		severity: SeverityP1,
		keywords: []string{"database", "connection", "timeout", "sql", "query"},
		summary:  "Database connection issues detected in %s",
		actions:  []string{"restart_db_service", "check_connection_pool", "verify_db_credentials"},
	},
	{
		category: CategoryMemory,
		severity: SeverityP1,
		keywords: []string{"memory", "oom", "heap", "out of memory"},
		summary:  "Memory exhaustion detected in %s",
		actions:  []string{"restart_service", "increase_memory_limit", "analyze_heap_dump"},
	},
	{
		category: CategoryAPITimeout,
		severity: SeverityP2,
		keywords: []string{"timeout", "503", "502", "504", "connection refused"},
		summary:  "API timeout issues in %s",
		actions:  []string{"check_network_connectivity", "verify_upstream_services", "scale_service"},
	},
	{
		category: CategoryAuthentication,
		severity: SeverityP2,
		keywords: []string{"authentication", "unauthorized", "401", "forbidden", "403"},
		summary:  "Authentication failures in %s",
		actions:  []string{"verify_credentials", "check_token_expiry", "review_auth_config"},
	},
	{
		category: CategoryDisk,
		severity: SeverityP1,
		keywords: []string{"disk", "no space", "quota", "filesystem"},
		summary:  "Disk space issues in %s",
		actions:  []string{"clear_old_logs", "increase_disk_quota", "archive_data"},
	},
	{
		category: CategoryCPU,
		severity: SeverityP2,
		keywords: []string{"cpu", "throttle", "high load", "overload"},
		summary:  "High CPU usage detected in %s",
		actions:  []string{"scale_horizontally", "optimize_queries", "review_resource_limits"},
	},
}

// Heuristic classifies incidents by keyword matching over event messages.
// It needs no network access and always succeeds, which makes it the usual
// fallback for the LLM classifier.
type Heuristic struct{}

// NewHeuristic creates a keyword classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name implements Classifier.
func (h *Heuristic) Name() string {
	return ProviderHeuristic
}

// Classify implements Classifier.
func (h *Heuristic) Classify(ctx context.Context, c *Context) (*domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := make([]string, 0, len(c.Events))
	for _, e := range c.Events {
		messages = append(messages, strings.ToLower(e.Message))
	}
	text := strings.Join(messages, " ")

	for _, r := range rules {
		if containsAny(text, r.keywords) {
			return &domain.Classification{
				Category:           r.category,
				Severity:           r.severity,
				Summary:            fmt.Sprintf(r.summary, c.Service),
				RecommendedActions: append([]string(nil), r.actions...),
			}, nil
		}
	}

	return &domain.Classification{
		Category:           CategoryOther,
		Severity:           SeverityP2,
		Summary:            fmt.Sprintf("Multiple errors detected in %s", c.Service),
		RecommendedActions: []string{"investigate_logs", "check_service_health"},
	}, nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
