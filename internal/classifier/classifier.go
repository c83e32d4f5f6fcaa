// Package classifier enriches opened incidents with a category, a severity,
// a short summary and recommended actions.
//
// Classification never blocks grouping: it runs on the processor's workers
// after the incident is committed, and every failure leaves the incident
// unclassified.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"opsassist/internal/config"
	"opsassist/internal/domain"
)

// Provider names accepted in configuration and used as metric labels.
const (
	ProviderHeuristic = config.ProviderHeuristic
	ProviderAnthropic = config.ProviderAnthropic
)

// Context limits.
const (
	DefaultMaxEvents  = 10
	MaxMessageLength  = 200
	maxActionsPerCall = 5
)

// Categories a classifier may assign.
const (
	CategoryDatabase       = "database_issue"
	CategoryMemory         = "memory_leak"
	CategoryAPITimeout     = "api_timeout"
	CategoryAuthentication = "authentication_error"
	CategoryPermission     = "permission_denied"
	CategoryNetwork        = "network_error"
	CategoryConfiguration  = "configuration_error"
	CategoryDisk           = "disk_full"
	CategoryCPU            = "cpu_overload"
	CategoryOther          = "other"
)

// Severities, P1 being the most urgent.
const (
	SeverityP1 = "P1"
	SeverityP2 = "P2"
	SeverityP3 = "P3"
)

var categories = []string{
	CategoryDatabase,
	CategoryMemory,
	CategoryAPITimeout,
	CategoryAuthentication,
	CategoryPermission,
	CategoryNetwork,
	CategoryConfiguration,
	CategoryDisk,
	CategoryCPU,
	CategoryOther,
}

// Classifier assigns a classification to an incident.
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Classify analyzes the incident context. It must honor ctx cancellation.
	Classify(ctx context.Context, c *Context) (*domain.Classification, error)
}

// New builds the classifier chain selected by configuration. The anthropic
// provider is always backed by the heuristic.
func New(cfg *config.ClassifierConfig, logger *slog.Logger) (Classifier, error) {
	switch cfg.Provider {
	case ProviderHeuristic, "":
		return NewHeuristic(), nil
	case ProviderAnthropic:
		llm, err := NewAnthropic(AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return NewFallback(llm, NewHeuristic(), logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown classifier provider %q", domain.ErrValidation, cfg.Provider)
	}
}

// EventSummary is the part of an event a classifier gets to see.
type EventSummary struct {
	Timestamp time.Time
	Message   string
}

// Context is the bounded view of an incident handed to a classifier.
type Context struct {
	IncidentID  string
	Service     string
	CreatedAt   time.Time
	TotalEvents int

	// Events holds the most recent events, newest first.
	Events []EventSummary
}

// BuildContext builds a classification context from an incident and its
// events in ascending timestamp order. At most maxEvents of the most recent
// events are kept and each message is cut to MaxMessageLength characters.
func BuildContext(incident *domain.Incident, events []*domain.Event, maxEvents int) *Context {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	c := &Context{
		IncidentID:  incident.ID,
		Service:     incident.Service,
		CreatedAt:   incident.CreatedAt,
		TotalEvents: len(events),
	}

	for i := len(events) - 1; i >= 0 && len(c.Events) < maxEvents; i-- {
		c.Events = append(c.Events, EventSummary{
			Timestamp: events[i].Timestamp,
			Message:   truncate(events[i].Message, MaxMessageLength),
		})
	}

	return c
}

// Omitted returns how many events were left out of the context.
func (c *Context) Omitted() int {
	if n := c.TotalEvents - len(c.Events); n > 0 {
		return n
	}
	return 0
}

// Validate checks that a classification uses a known category and severity,
// has a summary and carries at least one action. Actions beyond the fifth
// are dropped.
func Validate(c *domain.Classification) error {
	if c == nil {
		return fmt.Errorf("empty classification")
	}

	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.Severity = strings.ToUpper(strings.TrimSpace(c.Severity))
	c.Summary = strings.TrimSpace(c.Summary)

	if !IsKnownCategory(c.Category) {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	switch c.Severity {
	case SeverityP1, SeverityP2, SeverityP3:
	default:
		return fmt.Errorf("unknown severity %q", c.Severity)
	}
	if c.Summary == "" {
		return fmt.Errorf("summary is required")
	}

	actions := make([]string, 0, len(c.RecommendedActions))
	for _, a := range c.RecommendedActions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return fmt.Errorf("at least one recommended action is required")
	}
	if len(actions) > maxActionsPerCall {
		actions = actions[:maxActionsPerCall]
	}
	c.RecommendedActions = actions

	return nil
}

// IsKnownCategory reports whether category is one a classifier may assign.
func IsKnownCategory(category string) bool {
	return slices.Contains(categories, category)
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
