// Package pipeline runs flow AI steps through the conversation loop: it
// projects data packets into the conversation, renders the workflow position,
// and converts loop outcomes back into packets for downstream steps.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/pkg/models"
)

// Visualize renders the flow's step sequence with the current position
// marked, so the model knows where it sits in the workflow and what comes
// next.
//
//	RSS FETCH -> AI (YOU ARE HERE) -> TWITTER PUBLISH
func Visualize(flow *models.Flow, current int) string {
	if flow == nil || len(flow.Steps) == 0 {
		return ""
	}
	labels := make([]string, 0, len(flow.Steps))
	for i, step := range flow.Steps {
		label := stepLabel(&step)
		if i == current {
			label += " (YOU ARE HERE)"
		}
		labels = append(labels, label)
	}
	return strings.Join(labels, " -> ")
}

// stepLabel renders one step as "HANDLER STEP_TYPE", or just the type for
// steps without a handler.
func stepLabel(step *models.FlowStep) string {
	stepType := strings.ToUpper(string(step.Type))
	if step.HandlerSlug == "" {
		return stepType
	}
	handler := strings.ToUpper(strings.ReplaceAll(step.HandlerSlug, "_", " "))
	if step.Type == models.StepAI {
		return stepType
	}
	return handler + " " + stepType
}

// WorkflowDirective returns a pipeline-tier directive rendering the flow's
// workflow position. It rides in the system prompt alongside the step's
// configured goals, not in the user message.
func WorkflowDirective() engine.DirectiveFunc {
	return func(ctx context.Context, in *engine.DirectiveInput) string {
		if in == nil || in.Flow == nil {
			return ""
		}
		viz := Visualize(in.Flow, in.StepIndex)
		if viz == "" {
			return ""
		}
		return "WORKFLOW: " + viz
	}
}

// ProjectPackets renders the data packets feeding an AI step as the opening
// user message. The first packet carries the primary content; later packets
// are prior step outputs and tool results, oldest last.
func ProjectPackets(packets []models.DataPacket) models.ConversationMessage {
	if len(packets) == 0 {
		return models.UserMessage("No input data is available for this step.")
	}

	var sb strings.Builder
	for i, packet := range packets {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "=== DATA PACKET %d (%s) ===\n", i+1, packet.Type)
		if packet.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", packet.Title)
		}
		if packet.Metadata.SourceURL != "" {
			fmt.Fprintf(&sb, "Source: %s\n", packet.Metadata.SourceURL)
		}
		sb.WriteString(packet.Content)
	}
	return models.UserMessage(sb.String())
}

// ToolResultPacket converts one tool execution into a data packet appended to
// the step's output, so downstream steps see what the AI step did.
func ToolResultPacket(record models.ToolResult, flowStepID, jobID string) models.DataPacket {
	title := fmt.Sprintf("Tool: %s", record.ToolName)
	if record.IsError {
		title = fmt.Sprintf("Tool failed: %s", record.ToolName)
	}
	return models.DataPacket{
		Type:    "tool_result",
		Title:   title,
		Content: record.Content,
		Metadata: models.PacketMetadata{
			JobID:      jobID,
			FlowStepID: flowStepID,
			Extra: map[string]any{
				"tool_name": record.ToolName,
				"is_error":  record.IsError,
				"pending":   record.Pending,
			},
		},
		CreatedAt: time.Now(),
	}
}
