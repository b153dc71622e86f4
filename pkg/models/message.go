package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConversationMessage is the unified message format shared by the pipeline and
// chat agents. Conversation history is append-only and chronological: the loop
// never reorders or mutates prior messages, only appends new ones.
type ConversationMessage struct {
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// UserMessage builds a plain user-role conversation message.
func UserMessage(content string) ConversationMessage {
	return ConversationMessage{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// ToolCall represents the model's request to execute a tool, emitted inside an
// assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the normalized envelope every tool execution returns. Tool
// failures are carried here (IsError), never as Go errors: the model is the
// consumer of that information, not the calling code.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Content    string         `json:"content"`
	Data       map[string]any `json:"data,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`

	// Pending marks an async tool that queued background work instead of
	// producing a final result. JobID references the queued job.
	Pending bool   `json:"pending,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}
