// Package system provides the built-in general tools: item skipping, async
// job inspection, and engine status. These are registered as global tools
// (job listing as chat-only) and are subject to the same availability gating
// as any other tool.
package system

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datamachine/engine/internal/dedup"
	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/internal/jobs"
	"github.com/datamachine/engine/pkg/models"
)

// NewSkipItemTool builds the skip_item tool. The model calls it when the
// current item should not be published: the item is marked processed so the
// flow never fetches it again.
func NewSkipItemTool(store dedup.Store) engine.Tool {
	def := models.ToolDefinition{
		Name:        "skip_item",
		Description: "Skip the current item and prevent it from being processed again. Use when the content is not suitable for this flow.",
		Parameters: []models.ParameterSpec{
			{Name: "reason", Type: "string", Required: true, Description: "Why this item is being skipped"},
			{Name: "source_type", Type: "string", Description: "Source type of the item being skipped"},
			{Name: "item_id", Type: "string", Description: "Identifier of the item being skipped"},
		},
	}
	return engine.NewTool(def, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		reason, _ := params["reason"].(string)
		flowStepID, _ := params["flow_step_id"].(string)
		sourceType, _ := params["source_type"].(string)
		itemID, _ := params["item_id"].(string)

		if store != nil && flowStepID != "" && itemID != "" {
			if err := store.MarkProcessed(ctx, flowStepID, sourceType, itemID); err != nil {
				return &models.ToolResult{
					Content: fmt.Sprintf("Failed to record skip: %v", err),
					IsError: true,
				}, nil
			}
		}
		return &models.ToolResult{
			Content: fmt.Sprintf("Item skipped: %s", reason),
			Data: map[string]any{
				"reason":  reason,
				"skipped": true,
			},
		}, nil
	})
}

// NewJobStatusTool builds the job_status tool for checking on async tool
// executions the model queued earlier.
func NewJobStatusTool(store jobs.Store) engine.Tool {
	def := models.ToolDefinition{
		Name:        "job_status",
		Description: "Check the status of a background job started by an asynchronous tool.",
		Parameters: []models.ParameterSpec{
			{Name: "async_job_id", Type: "string", Required: true, Description: "The job id returned when the tool was queued"},
		},
	}
	return engine.NewTool(def, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		jobID, _ := params["async_job_id"].(string)
		if store == nil {
			return &models.ToolResult{Content: "Job tracking is not enabled.", IsError: true}, nil
		}
		job, err := store.Get(ctx, jobID)
		if err != nil {
			return &models.ToolResult{Content: fmt.Sprintf("Failed to look up job: %v", err), IsError: true}, nil
		}
		if job == nil {
			return &models.ToolResult{Content: fmt.Sprintf("No job found with id %s", jobID), IsError: true}, nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Job %s (%s) is %s.", job.ID, job.ToolName, job.Status)
		if job.Status == jobs.StatusSucceeded && job.Result != nil && job.Result.Content != "" {
			fmt.Fprintf(&sb, " Result: %s", job.Result.Content)
		}
		if job.Status == jobs.StatusFailed && job.Error != "" {
			fmt.Fprintf(&sb, " Error: %s", job.Error)
		}
		if !job.Terminal() {
			sb.WriteString(" Check again shortly.")
		}
		return &models.ToolResult{
			Content: sb.String(),
			Data: map[string]any{
				"job_id":   job.ID,
				"status":   string(job.Status),
				"terminal": job.Terminal(),
			},
		}, nil
	})
}

// NewStatusTool builds the engine_status tool reporting the current
// invocation context.
func NewStatusTool() engine.Tool {
	def := models.ToolDefinition{
		Name:        "engine_status",
		Description: "Report the current execution context: agent type, step, and server time.",
	}
	return engine.NewTool(def, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		actx, ok := engine.AgentContextFrom(ctx)
		if !ok {
			actx = engine.CurrentAgent()
		}
		return &models.ToolResult{
			Content: fmt.Sprintf("Agent type: %s. Context: %s. Time: %s.",
				actx.Type, actx.ContextID, time.Now().Format(time.RFC3339)),
			Data: map[string]any{
				"agent_type": string(actx.Type),
				"context_id": actx.ContextID,
			},
		}, nil
	})
}

// NewRecentJobsTool builds the chat-only recent_jobs tool listing the latest
// background jobs.
func NewRecentJobsTool(store jobs.Store) engine.Tool {
	def := models.ToolDefinition{
		Name:        "recent_jobs",
		Description: "List recent background jobs and their statuses.",
		Parameters: []models.ParameterSpec{
			{Name: "limit", Type: "integer", Description: "Maximum number of jobs to list (default 10)"},
		},
	}
	return engine.NewTool(def, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		if store == nil {
			return &models.ToolResult{Content: "Job tracking is not enabled.", IsError: true}, nil
		}
		limit := 10
		if v, ok := params["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		list, err := store.Recent(ctx, limit)
		if err != nil {
			return &models.ToolResult{Content: fmt.Sprintf("Failed to list jobs: %v", err), IsError: true}, nil
		}
		if len(list) == 0 {
			return &models.ToolResult{Content: "No background jobs recorded."}, nil
		}

		var sb strings.Builder
		for _, job := range list {
			fmt.Fprintf(&sb, "%s  %s  %s\n", job.ID, job.ToolName, job.Status)
		}
		return &models.ToolResult{Content: strings.TrimRight(sb.String(), "\n")}, nil
	})
}

// Register wires the system tools into discovery: skip_item and the status
// tools globally, job listing for chat sessions only.
func Register(d *engine.Discovery, jobStore jobs.Store, dedupStore dedup.Store) {
	global := []engine.Tool{
		NewSkipItemTool(dedupStore),
		NewJobStatusTool(jobStore),
		NewStatusTool(),
	}
	d.RegisterGlobalProvider(engine.ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []engine.Tool {
		return global
	}))

	chat := []engine.Tool{NewRecentJobsTool(jobStore)}
	d.RegisterChatProvider(engine.ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []engine.Tool {
		return chat
	}))
}
