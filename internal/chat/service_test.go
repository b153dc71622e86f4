package chat

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/internal/tools/availability"
	"github.com/datamachine/engine/pkg/models"
)

type chatTestProvider struct {
	responses   []*engine.Completion
	currentCall int32
}

func (p *chatTestProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (*engine.Completion, error) {
	call := int(atomic.AddInt32(&p.currentCall, 1)) - 1
	if call >= len(p.responses) {
		call = len(p.responses) - 1
	}
	return p.responses[call], nil
}

func (p *chatTestProvider) Name() string { return "chat-test" }

func newTestService(t *testing.T, provider engine.Provider, chatTools ...engine.Tool) (*Service, *MemorySessionStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := availability.NewGate(availability.NewMemoryStore(), nil, logger)
	discovery := engine.NewDiscovery(gate, logger)
	if len(chatTools) > 0 {
		discovery.RegisterChatProvider(engine.ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []engine.Tool {
			return chatTools
		}))
	}
	dispatcher := engine.NewDispatcher(logger)
	loop := engine.NewConversationLoop(discovery, dispatcher, engine.NewComposer(), nil, logger)
	sessions := NewMemorySessionStore()
	return NewService(loop, provider, "test-model", sessions, logger), sessions
}

func TestService_SimpleExchange(t *testing.T) {
	provider := &chatTestProvider{
		responses: []*engine.Completion{{Content: "Hello there."}},
	}
	service, sessions := newTestService(t, provider)
	ctx := context.Background()

	session, err := service.NewSession(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	turn, err := service.Send(ctx, session.ID, "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !turn.Completed {
		t.Error("Completed = false, want true without tool calls")
	}
	if turn.Content != "Hello there." {
		t.Errorf("Content = %q", turn.Content)
	}

	saved, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Messages) != 2 {
		t.Errorf("saved messages = %d, want user + assistant", len(saved.Messages))
	}
}

func TestService_PollUntilComplete(t *testing.T) {
	tool := engine.NewTool(models.ToolDefinition{Name: "lookup", Description: "Look something up"},
		func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "found it"}, nil
		})
	provider := &chatTestProvider{
		responses: []*engine.Completion{
			{ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup", Arguments: map[string]any{}}}},
			{Content: "It is found."},
		},
	}
	service, sessions := newTestService(t, provider, tool)
	ctx := context.Background()

	session, err := service.NewSession(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	turn, err := service.Send(ctx, session.ID, "find it")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if turn.Completed {
		t.Fatal("first turn must not complete while tools are pending")
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "lookup" {
		t.Errorf("ToolCalls = %+v", turn.ToolCalls)
	}

	turn, err = service.Continue(ctx, session.ID)
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if !turn.Completed {
		t.Error("Completed = false after final turn")
	}
	if turn.Content != "It is found." {
		t.Errorf("Content = %q", turn.Content)
	}

	saved, _ := sessions.Get(ctx, session.ID)
	// user, assistant(tool call), tool, assistant(final)
	if len(saved.Messages) != 4 {
		t.Errorf("saved messages = %d, want 4", len(saved.Messages))
	}
}

func TestService_ContinueWithoutHistory(t *testing.T) {
	provider := &chatTestProvider{responses: []*engine.Completion{{Content: "x"}}}
	service, _ := newTestService(t, provider)
	ctx := context.Background()

	session, err := service.NewSession(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := service.Continue(ctx, session.ID); err == nil {
		t.Fatal("Continue() on an empty session must fail")
	}
}
