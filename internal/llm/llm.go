// Package llm generates structured report content through the Anthropic
// Messages API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/prdigest/prdigest/internal/models"
)

var (
	// ErrEmptyResponse means the endpoint returned no text at all.
	ErrEmptyResponse = errors.New("llm returned an empty response")
	// ErrMalformedResponse means the returned text was not valid report
	// JSON or was missing required fields.
	ErrMalformedResponse = errors.New("llm returned malformed content")
)

// reportSchema is the fixed output contract for report generation.
// Required: title, summary, sections (each with title and content).
// Optional: per-section items, recommendations, testScenarios.
const reportSchema = `{
  "type": "object",
  "properties": {
    "title": { "type": "string" },
    "summary": { "type": "string" },
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": { "type": "string" },
          "content": { "type": "string" },
          "items": { "type": "array", "items": { "type": "string" } }
        },
        "required": ["title", "content"]
      }
    },
    "recommendations": { "type": "array", "items": { "type": "string" } },
    "testScenarios": { "type": "array", "items": { "type": "string" } }
  },
  "required": ["title", "summary", "sections"]
}`

const insightsSchema = `{
  "type": "object",
  "properties": {
    "insights": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category": { "type": "string" },
          "title": { "type": "string" },
          "description": { "type": "string" },
          "severity": { "type": "string", "enum": ["info", "warning", "error"] }
        },
        "required": ["category", "title", "severity"]
      }
    }
  },
  "required": ["insights"]
}`

// InsightItem is one observation from the insight call.
type InsightItem struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Generator is the content-generation contract consumed by the report
// pipeline. Implementations make exactly one LLM call per invocation and
// do not retry.
type Generator interface {
	GenerateReport(ctx context.Context, systemPrompt, userPrompt string) (*models.ReportContent, error)
	GenerateInsights(ctx context.Context, systemPrompt, userPrompt string) ([]InsightItem, error)
}

// Client calls the Anthropic Messages API.
type Client struct {
	anthropic anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		anthropic: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 4096,
	}
}

// complete issues a single message request constrained by a JSON schema
// and returns the concatenated text blocks of the response.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt, schema string) (string, error) {
	system := systemPrompt +
		"\n\nRespond with ONLY a JSON object matching this schema. No markdown, no explanation, no preamble.\n\n" + schema

	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling llm: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}

func (c *Client) GenerateReport(ctx context.Context, systemPrompt, userPrompt string) (*models.ReportContent, error) {
	text, err := c.complete(ctx, systemPrompt, userPrompt, reportSchema)
	if err != nil {
		return nil, err
	}
	return ParseReportContent(text)
}

func (c *Client) GenerateInsights(ctx context.Context, systemPrompt, userPrompt string) ([]InsightItem, error) {
	text, err := c.complete(ctx, systemPrompt, userPrompt, insightsSchema)
	if err != nil {
		return nil, err
	}
	return ParseInsights(text)
}

// stripFences removes a surrounding markdown code fence, which models
// sometimes add despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ParseReportContent parses and validates LLM output against the report
// content contract.
func ParseReportContent(text string) (*models.ReportContent, error) {
	var content models.ReportContent
	if err := json.Unmarshal([]byte(stripFences(text)), &content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if content.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedResponse)
	}
	if content.Summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	if len(content.Sections) == 0 {
		return nil, fmt.Errorf("%w: missing sections", ErrMalformedResponse)
	}
	for i, s := range content.Sections {
		if s.Title == "" || s.Content == "" {
			return nil, fmt.Errorf("%w: section %d missing title or content", ErrMalformedResponse, i)
		}
	}
	return &content, nil
}

// ParseInsights parses and validates the insight call output. Unknown
// severities are coerced to "info".
func ParseInsights(text string) ([]InsightItem, error) {
	var wrapper struct {
		Insights []InsightItem `json:"insights"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for i, item := range wrapper.Insights {
		if item.Title == "" || item.Category == "" {
			return nil, fmt.Errorf("%w: insight %d missing title or category", ErrMalformedResponse, i)
		}
		switch item.Severity {
		case models.SeverityInfo, models.SeverityWarning, models.SeverityError:
		default:
			wrapper.Insights[i].Severity = models.SeverityInfo
		}
	}
	return wrapper.Insights, nil
}
