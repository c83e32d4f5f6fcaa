package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"opsassist/internal/domain"
)

const systemPrompt = "You are an expert DevOps engineer analyzing production incidents. " +
	"Answer with a single JSON object and nothing else."

// AnthropicConfig configures the Claude classifier.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// Anthropic classifies incidents with the Claude Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a Claude classifier. Extra request options are
// appended after the API key, so tests can point the client elsewhere.
func NewAnthropic(cfg AnthropicConfig, opts ...option.RequestOption) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", domain.ErrValidation)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name implements Classifier.
func (a *Anthropic) Name() string {
	return ProviderAnthropic
}

// Classify implements Classifier. Transport failures and unusable answers
// are reported as domain.ErrUnavailable.
func (a *Anthropic) Classify(ctx context.Context, c *Context) (*domain.Classification, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(c))),
		},
		Temperature: anthropic.Float(0.3),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic request failed: %w", domain.ErrUnavailable, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	classification, err := parseAnswer(text.String())
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic answer rejected: %w", domain.ErrUnavailable, err)
	}

	return classification, nil
}

func buildPrompt(c *Context) string {
	var b strings.Builder

	b.WriteString("Analyze this production incident and provide a structured assessment.\n\n")
	b.WriteString("Incident details:\n")
	fmt.Fprintf(&b, "- Service: %s\n", c.Service)
	fmt.Fprintf(&b, "- Total events: %d\n", c.TotalEvents)
	fmt.Fprintf(&b, "- Created: %s\n\n", c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))

	b.WriteString("Recent error messages:\n")
	if len(c.Events) == 0 {
		b.WriteString("No event details available\n")
	}
	for i, e := range c.Events {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), e.Message)
	}
	if n := c.Omitted(); n > 0 {
		fmt.Fprintf(&b, "... and %d more similar events\n", n)
	}

	b.WriteString("\nRequired output (JSON):\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"category\": \"<one of: %s>\",\n", strings.Join(categories, ", "))
	b.WriteString("  \"severity\": \"<one of: P1, P2, P3>\",\n")
	b.WriteString("  \"summary\": \"<concise 1-2 sentence description of the root cause>\",\n")
	b.WriteString("  \"recommended_actions\": [\"<action1>\", \"<action2>\", \"<action3>\"]\n")
	b.WriteString("}\n\n")

	b.WriteString("Severity guidelines:\n")
	b.WriteString("- P1 (critical): service down, data loss, security breach\n")
	b.WriteString("- P2 (high): degraded performance, intermittent failures\n")
	b.WriteString("- P3 (medium): minor issues, warnings, non-critical errors\n")

	return b.String()
}

// parseAnswer extracts and validates the JSON object of a model answer.
// Surrounding prose and markdown code fences are ignored.
func parseAnswer(text string) (*domain.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in answer")
	}

	var c domain.Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &c); err != nil {
		return nil, fmt.Errorf("failed to decode answer: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}

	return &c, nil
}
