package engine

import (
	"strings"
	"testing"

	"github.com/datamachine/engine/pkg/models"
)

func TestAssistantMessage(t *testing.T) {
	completion := &Completion{
		Content: "posting now",
		ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "twitter_publish", Arguments: map[string]any{"text": "hi"}},
		},
	}
	msg := AssistantMessage(completion)

	if msg.Role != models.RoleAssistant {
		t.Errorf("role = %s", msg.Role)
	}
	if msg.Content != "posting now" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "twitter_publish" {
		t.Errorf("tool calls = %+v", msg.ToolCalls)
	}
}

func TestToolTurnMessage(t *testing.T) {
	msg := ToolTurnMessage([]models.ToolResult{
		{ToolCallID: "c1", ToolName: "twitter_publish", Content: "posted id 42"},
		{ToolCallID: "c2", ToolName: "web_search", Content: "no results", IsError: true},
		{ToolCallID: "c3", ToolName: "transcode", Pending: true, JobID: "job-7"},
	})

	if msg.Role != models.RoleTool {
		t.Errorf("role = %s", msg.Role)
	}
	if len(msg.ToolResults) != 3 {
		t.Errorf("results = %d", len(msg.ToolResults))
	}
	if !strings.Contains(msg.Content, "Tool twitter_publish succeeded: posted id 42") {
		t.Errorf("success rendering missing:\n%s", msg.Content)
	}
	if !strings.Contains(msg.Content, "Tool web_search failed: no results") {
		t.Errorf("failure rendering missing:\n%s", msg.Content)
	}
	if !strings.Contains(msg.Content, "job job-7") {
		t.Errorf("pending rendering missing:\n%s", msg.Content)
	}
	if !strings.Contains(msg.Content, "Do not call it again") {
		t.Errorf("pending guidance missing:\n%s", msg.Content)
	}
}

func TestLastToolCalls(t *testing.T) {
	messages := []models.ConversationMessage{
		models.UserMessage("go"),
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "early"}}},
		{Role: models.RoleTool},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c2", Name: "late"}}},
	}
	calls := LastToolCalls(messages)
	if len(calls) != 1 || calls[0].Name != "late" {
		t.Errorf("calls = %+v, want the trailing assistant turn", calls)
	}
	if LastToolCalls(nil) != nil {
		t.Error("no messages must yield nil")
	}
}
