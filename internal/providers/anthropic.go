// Package providers implements AI provider integrations for the conversation
// loop. Each provider converts between the engine's conversation format and
// its API's native format, retries transient failures, and normalizes tool
// calls into the shared envelope.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements engine.Provider for Anthropic's Claude API.
// Safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider creates a provider from config. The API key is
// required.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	p := &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}
	if p.defaultModel == "" {
		p.defaultModel = defaultAnthropicModel
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	return p, nil
}

// Name implements engine.Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements engine.Provider. Transient API failures are retried
// with exponential backoff before surfacing an error.
func (p *AnthropicProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (*engine.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var message *anthropic.Message
	delay := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		message, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return p.convertResponse(message)
}

func (p *AnthropicProvider) buildParams(req *engine.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	// System sections are separate from messages in the Anthropic API.
	for _, section := range req.System {
		params.System = append(params.System, anthropic.TextBlockParam{
			Type: "text",
			Text: section,
		})
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) convertResponse(message *anthropic.Message) (*engine.Completion, error) {
	completion := &engine.Completion{
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool input for %s: %w", toolUse.Name, err)
				}
			}
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	completion.Content = text.String()
	return completion, nil
}

func convertAnthropicMessages(messages []models.ConversationMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		// Tool-role messages carry results as native blocks; the readable
		// Content rendering is for providers without tool result support.
		if msg.Role == models.RoleTool {
			for _, res := range msg.ToolResults {
				content = append(content, anthropic.NewToolResultBlock(
					res.ToolCallID,
					res.Content,
					res.IsError,
				))
			}
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, call := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(
				call.ID,
				call.Arguments,
				call.Name,
			))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// isRetryable reports whether an API error is worth retrying: rate limits,
// server errors, timeouts, and connection failures.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}
