package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/datamachine/engine/internal/jobs"
	"github.com/datamachine/engine/pkg/models"
)

func availableWith(tools ...Tool) map[string]*DiscoveredTool {
	available := make(map[string]*DiscoveredTool)
	for _, tool := range tools {
		def := tool.Definition()
		available[def.Name] = &DiscoveredTool{Definition: def, Runner: tool}
	}
	return available
}

func TestDispatcher_ToolNotFound(t *testing.T) {
	d := NewDispatcher(quietLogger())

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "missing"},
		map[string]*DiscoveredTool{}, nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if result.Content != "Tool 'missing' not found" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.Data["error_type"] != "not_found" {
		t.Errorf("error_type = %v, want not_found", result.Data["error_type"])
	}
	if result.ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q, want c1", result.ToolCallID)
	}
}

func TestDispatcher_AllMissingParamsListed(t *testing.T) {
	d := NewDispatcher(quietLogger())
	tool := NewTool(models.ToolDefinition{
		Name: "publish",
		Parameters: []models.ParameterSpec{
			{Name: "account", Type: "string", Required: true},
			{Name: "visibility", Type: "string", Required: true},
			{Name: "tags", Type: "array"},
		},
	}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		t.Fatal("tool must not run with missing parameters")
		return nil, nil
	})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "publish", Arguments: map[string]any{}},
		availableWith(tool), nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if !strings.Contains(result.Content, "account, visibility") {
		t.Errorf("Content = %q, want both missing parameters in one message", result.Content)
	}
	if result.Data["error_type"] != "missing_params" {
		t.Errorf("error_type = %v", result.Data["error_type"])
	}
}

func TestDispatcher_EngineParamsSatisfyRequired(t *testing.T) {
	d := NewDispatcher(quietLogger())
	var got map[string]any
	tool := NewTool(models.ToolDefinition{
		Name: "summarize",
		Parameters: []models.ParameterSpec{
			{Name: "content_string", Type: "string", Required: true},
		},
	}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		got = params
		return &models.ToolResult{Content: "ok"}, nil
	})

	payload := &ExecutionPayload{
		JobID:   "job-1",
		Packets: []models.DataPacket{{Title: "T", Content: "the body"}},
	}
	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "summarize", Arguments: map[string]any{}},
		availableWith(tool), payload)

	if result.IsError {
		t.Fatalf("IsError = true: %s", result.Content)
	}
	if got["content_string"] != "the body" {
		t.Errorf("content_string = %v", got["content_string"])
	}
}

func TestDispatcher_EngineParamsOverrideModelArgs(t *testing.T) {
	d := NewDispatcher(quietLogger())
	var got map[string]any
	tool := NewTool(models.ToolDefinition{Name: "audit"}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		got = params
		return &models.ToolResult{Content: "ok"}, nil
	})

	payload := &ExecutionPayload{JobID: "real-job", FlowStepID: "real-step"}
	d.Execute(context.Background(),
		models.ToolCall{
			ID:   "c1",
			Name: "audit",
			Arguments: map[string]any{
				"job_id":       "spoofed",
				"flow_step_id": "spoofed",
			},
		},
		availableWith(tool), payload)

	if got["job_id"] != "real-job" {
		t.Errorf("job_id = %v, want real-job", got["job_id"])
	}
	if got["flow_step_id"] != "real-step" {
		t.Errorf("flow_step_id = %v, want real-step", got["flow_step_id"])
	}
}

func TestDispatcher_InvalidArgumentType(t *testing.T) {
	d := NewDispatcher(quietLogger())
	tool := NewTool(models.ToolDefinition{
		Name: "fetch_page",
		Parameters: []models.ParameterSpec{
			{Name: "count", Type: "integer"},
		},
	}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		t.Fatal("tool must not run with invalid arguments")
		return nil, nil
	})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "fetch_page", Arguments: map[string]any{"count": "three"}},
		availableWith(tool), nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if result.Data["error_type"] != "invalid_input" {
		t.Errorf("error_type = %v", result.Data["error_type"])
	}
}

func TestDispatcher_UnresolvableExecutable(t *testing.T) {
	d := NewDispatcher(quietLogger())
	tool := DefinitionOnly(models.ToolDefinition{Name: "ghost"})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "ghost"},
		availableWith(tool), nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if result.Data["error_type"] != "unresolvable" {
		t.Errorf("error_type = %v, want unresolvable (distinct from not_found)", result.Data["error_type"])
	}
	if !strings.Contains(result.Content, "could not be resolved") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	d := NewDispatcher(quietLogger(), WithToolTimeout(20*time.Millisecond))
	tool := NewTool(models.ToolDefinition{Name: "slow"}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &models.ToolResult{Content: "late"}, nil
		}
	})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "slow"},
		availableWith(tool), nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if !strings.Contains(result.Content, "timed out") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	d := NewDispatcher(quietLogger())
	tool := NewTool(models.ToolDefinition{Name: "bomb"}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		panic("kaboom")
	})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "bomb"},
		availableWith(tool), nil)

	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
	if !strings.Contains(result.Content, "panicked") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestDispatcher_AsyncReturnsPending(t *testing.T) {
	store := jobs.NewMemoryStore()
	d := NewDispatcher(quietLogger(), WithJobStore(store))
	tool := NewTool(models.ToolDefinition{Name: "transcode", Async: true}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		return &models.ToolResult{Content: "transcoded"}, nil
	})

	result := d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "transcode"},
		availableWith(tool), nil)

	if result.IsError {
		t.Fatalf("IsError = true: %s", result.Content)
	}
	if !result.Pending {
		t.Fatal("Pending = false, want true")
	}
	if result.JobID == "" {
		t.Fatal("JobID is empty")
	}

	// The background job completes independently of the call.
	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := store.Get(context.Background(), result.JobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job != nil && job.Status == jobs.StatusSucceeded {
			if job.Result == nil || job.Result.Content != "transcoded" {
				t.Fatalf("job result = %+v", job.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed, status %v", job)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_EventLifecycle(t *testing.T) {
	var stages []models.ToolEventStage
	sink := ToolEventSinkFunc(func(event models.ToolEvent) {
		stages = append(stages, event.Stage)
	})
	d := NewDispatcher(quietLogger(), WithEventSink(sink))
	tool := NewTool(models.ToolDefinition{Name: "ok"}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		return &models.ToolResult{Content: "fine"}, nil
	})

	d.Execute(context.Background(),
		models.ToolCall{ID: "c1", Name: "ok"},
		availableWith(tool), nil)

	want := []models.ToolEventStage{models.ToolEventRequested, models.ToolEventStarted, models.ToolEventSucceeded}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i], want[i])
		}
	}
}
