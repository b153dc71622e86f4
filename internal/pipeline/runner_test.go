package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/internal/tools/availability"
	"github.com/datamachine/engine/pkg/models"
)

type stepTestProvider struct {
	responses   []*engine.Completion
	currentCall int32
	lastRequest atomic.Pointer[engine.CompletionRequest]
}

func (p *stepTestProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (*engine.Completion, error) {
	call := int(atomic.AddInt32(&p.currentCall, 1)) - 1
	p.lastRequest.Store(req)
	if call >= len(p.responses) {
		call = len(p.responses) - 1
	}
	return p.responses[call], nil
}

func (p *stepTestProvider) Name() string { return "step-test" }

func newRunnerHarness(t *testing.T, provider engine.Provider, handlerTools map[string][]engine.Tool) *StepRunner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := availability.NewGate(availability.NewMemoryStore(), nil, logger)
	discovery := engine.NewDiscovery(gate, logger)
	for slug, tools := range handlerTools {
		provider := &stubHandlerProvider{slug: slug, tools: tools}
		if err := discovery.RegisterHandlerProvider(provider); err != nil {
			t.Fatal(err)
		}
	}
	dispatcher := engine.NewDispatcher(logger)
	composer := engine.NewComposer()
	composer.Register(engine.TierPipeline, engine.StepPromptDirective())
	composer.Register(engine.TierPipeline, WorkflowDirective())
	loop := engine.NewConversationLoop(discovery, dispatcher, composer, nil, logger)
	return NewStepRunner(loop, provider, "test-model", 5, logger)
}

type stubHandlerProvider struct {
	slug  string
	tools []engine.Tool
}

func (p *stubHandlerProvider) HandlerSlug() string { return p.slug }
func (p *stubHandlerProvider) HandlerTools(ctx context.Context, step *models.FlowStep) []engine.Tool {
	return p.tools
}

func TestRunStep_TextOnly(t *testing.T) {
	provider := &stepTestProvider{
		responses: []*engine.Completion{{Content: "A concise summary."}},
	}
	runner := newRunnerHarness(t, provider, nil)

	inputs := []models.DataPacket{{Type: "fetch", Title: "T", Content: "body"}}
	outcome, err := runner.RunStep(context.Background(), sampleFlow(), 1, "job-1", inputs)
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}

	if !outcome.Loop.Completed {
		t.Error("loop not completed")
	}
	if len(outcome.Packets) != 2 {
		t.Fatalf("packets = %d, want ai output plus input passthrough", len(outcome.Packets))
	}
	if outcome.Packets[0].Type != "ai" || outcome.Packets[0].Content != "A concise summary." {
		t.Errorf("ai packet = %+v", outcome.Packets[0])
	}
	if outcome.Packets[1].Type != "fetch" {
		t.Errorf("input packet not passed through: %+v", outcome.Packets[1])
	}
}

func TestRunStep_HandlerToolRun(t *testing.T) {
	var published atomic.Bool
	publish := engine.NewTool(models.ToolDefinition{
		Name:           "twitter_publish",
		Description:    "Publish a tweet",
		HandlerBinding: "twitter",
	}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		published.Store(true)
		return &models.ToolResult{Content: "posted id 42"}, nil
	})

	provider := &stepTestProvider{
		responses: []*engine.Completion{
			{ToolCalls: []models.ToolCall{{ID: "c1", Name: "twitter_publish", Arguments: map[string]any{}}}},
			{Content: "Published."},
		},
	}
	runner := newRunnerHarness(t, provider, map[string][]engine.Tool{
		"twitter": {publish},
	})

	outcome, err := runner.RunStep(context.Background(), sampleFlow(), 1, "job-1", nil)
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if !published.Load() {
		t.Fatal("handler tool from the next step never ran")
	}

	var toolPackets int
	for _, packet := range outcome.Packets {
		if packet.Type == "tool_result" {
			toolPackets++
			if packet.Metadata.Extra["tool_name"] != "twitter_publish" {
				t.Errorf("tool packet = %+v", packet)
			}
		}
	}
	if toolPackets != 1 {
		t.Errorf("tool_result packets = %d, want 1", toolPackets)
	}
}

func TestRunStep_WorkflowInSystemPrompt(t *testing.T) {
	provider := &stepTestProvider{
		responses: []*engine.Completion{{Content: "ok"}},
	}
	runner := newRunnerHarness(t, provider, nil)

	inputs := []models.DataPacket{{Type: "fetch", Content: "body"}}
	if _, err := runner.RunStep(context.Background(), sampleFlow(), 1, "job-1", inputs); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}

	req := provider.lastRequest.Load()
	if req == nil {
		t.Fatal("provider saw no request")
	}
	var hasWorkflow bool
	for _, section := range req.System {
		if strings.Contains(section, "WORKFLOW: RSS FETCH -> AI (YOU ARE HERE) -> TWITTER PUBLISH") {
			hasWorkflow = true
		}
	}
	if !hasWorkflow {
		t.Errorf("system sections missing workflow position: %q", req.System)
	}
	for _, msg := range req.Messages {
		if strings.Contains(msg.Content, "WORKFLOW:") {
			t.Errorf("workflow position leaked into the conversation: %q", msg.Content)
		}
	}
}

func TestRunStep_RejectsNonAIStep(t *testing.T) {
	provider := &stepTestProvider{responses: []*engine.Completion{{Content: "x"}}}
	runner := newRunnerHarness(t, provider, nil)

	if _, err := runner.RunStep(context.Background(), sampleFlow(), 0, "job-1", nil); err == nil {
		t.Fatal("running a fetch step must fail")
	}
	if _, err := runner.RunStep(context.Background(), sampleFlow(), 9, "job-1", nil); err == nil {
		t.Fatal("out of range index must fail")
	}
}
