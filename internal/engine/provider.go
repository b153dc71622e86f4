package engine

import (
	"context"

	"github.com/datamachine/engine/pkg/models"
)

// Provider defines the interface for AI model backends.
//
// Implementations handle the specifics of communicating with different AI APIs
// (Anthropic, OpenAI, etc.) while presenting a unified request/response
// interface to the conversation loop. The loop is provider-agnostic; any
// conforming adapter can be substituted.
//
// Implementations must be safe for concurrent use: multiple loop invocations
// may call Complete simultaneously.
type Provider interface {
	// Complete sends the directive stack, conversation, and tool definitions
	// to the model and returns its response. A returned error is fatal to the
	// calling loop invocation; the loop never retries.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Name returns the provider identifier used for routing and logging.
	Name() string
}

// CompletionRequest contains all parameters for one provider call.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider default applies.
	Model string `json:"model"`

	// System is the composed directive stack, ordered lowest tier first.
	// Providers concatenate or pass the blocks through as their API allows.
	System []string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.ConversationMessage `json:"messages"`

	// Tools defines the callable capabilities visible to the model this turn.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Completion is a provider response: either final content, or one or more
// tool-call requests (possibly alongside partial content).
type Completion struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// HasToolCalls reports whether the response requested tool execution.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}
