package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

const systemPrompt = `You are an IT helpdesk triage engine. Given a support ticket as JSON, answer with ONE JSON object and nothing else:
{
  "confidence": number between 0 and 1,
  "recommended_action": one of "auto_resolve", "escalate", "assign_to_team", "request_clarification",
  "analysis": {"severity": "low|medium|high|critical", "category": string, "suggested_team": string, "clarification_questions": [string]},
  "solution": {"steps": [string], "success_probability": number between 0 and 1, "estimated_time": string such as "15 minutes"},
  "reasoning": string
}
Rules:
- Recommend auto_resolve only when the steps can be followed by the user without admin rights
- Security incidents, outages and data loss are at least "high" severity
- Return valid JSON only, no markdown fencing or explanation`

// AnthropicAnalyzer serves the analysis contract with a Claude model.
type AnthropicAnalyzer struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicAnalyzer creates an analyzer. Extra options (base URL, HTTP
// client) are passed through to the SDK.
func NewAnthropicAnalyzer(apiKey, model string, maxTokens int64, opts ...option.RequestOption) *AnthropicAnalyzer {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicAnalyzer{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, req Request) (*domain.AnalysisResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "analysis.anthropic")
	defer span.End()

	ticket, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	msg, err := a.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Ticket:\n" + string(ticket))),
		},
	})
	if err != nil {
		span.RecordError(err)
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &TransientError{Op: "anthropic call", StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, &TransientError{Op: "anthropic call", Err: err}
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &TransientError{Op: "decode response", Err: errors.New("no text content in response")}
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(stripFence(text)), &result); err != nil {
		return nil, &TransientError{Op: "decode response", Err: err}
	}
	return &result, nil
}

// stripFence removes a surrounding markdown code fence if the model added one.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
