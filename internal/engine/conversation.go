package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/datamachine/engine/pkg/models"
)

// Conversation state transitions. The history is append-only: every provider
// response and every tool outcome becomes a new trailing message, and prior
// messages are never rewritten. Tool failures enter the history as readable
// content so the model can see what went wrong and adjust.

// AssistantMessage builds the conversation message recording one provider
// response, including any tool calls the model requested.
func AssistantMessage(completion *Completion) models.ConversationMessage {
	msg := models.ConversationMessage{
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	}
	if completion != nil {
		msg.Content = completion.Content
		msg.ToolCalls = completion.ToolCalls
	}
	return msg
}

// ToolTurnMessage builds the conversation message feeding one turn's tool
// results back to the model. The structured envelopes ride along for
// providers that support native tool-result blocks; Content carries the
// readable rendering for those that do not.
func ToolTurnMessage(results []models.ToolResult) models.ConversationMessage {
	var sb strings.Builder
	for i, res := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(renderToolResult(res))
	}
	return models.ConversationMessage{
		Role:        models.RoleTool,
		Content:     sb.String(),
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
}

// renderToolResult produces the human-readable turn content for one result.
func renderToolResult(res models.ToolResult) string {
	switch {
	case res.Pending:
		return fmt.Sprintf("Tool %s is running in the background (job %s). Do not call it again for this item.", res.ToolName, res.JobID)
	case res.IsError:
		return fmt.Sprintf("Tool %s failed: %s", res.ToolName, res.Content)
	case res.Content != "":
		return fmt.Sprintf("Tool %s succeeded: %s", res.ToolName, res.Content)
	default:
		return fmt.Sprintf("Tool %s succeeded.", res.ToolName)
	}
}

// LastToolCalls extracts the tool calls from the most recent assistant
// message, or nil when the trailing assistant turn made none.
func LastToolCalls(messages []models.ConversationMessage) []models.ToolCall {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].ToolCalls
		}
	}
	return nil
}
