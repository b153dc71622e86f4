package engine

import (
	"context"
	"testing"

	"github.com/datamachine/engine/internal/tools/availability"
	"github.com/datamachine/engine/pkg/models"
)

type fakeHandlerProvider struct {
	slug  string
	tools []Tool
}

func (p *fakeHandlerProvider) HandlerSlug() string { return p.slug }
func (p *fakeHandlerProvider) HandlerTools(ctx context.Context, step *models.FlowStep) []Tool {
	return p.tools
}

func handlerTool(name, binding string) Tool {
	return NewTool(models.ToolDefinition{
		Name:           name,
		Description:    "handler tool",
		HandlerBinding: binding,
	}, func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		return &models.ToolResult{Content: name}, nil
	})
}

func globalTool(name string) Tool {
	return NewTool(models.ToolDefinition{Name: name, Description: "global tool"},
		func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
			return &models.ToolResult{Content: name}, nil
		})
}

func newTestDiscovery(t *testing.T, store *availability.MemoryStore) *Discovery {
	t.Helper()
	gate := availability.NewGate(store, nil, quietLogger())
	return NewDiscovery(gate, quietLogger())
}

func TestDiscovery_AdjacencyUnion(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "rss", tools: []Tool{handlerTool("rss_read", "rss")},
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "twitter", tools: []Tool{handlerTool("twitter_publish", "twitter")},
	}); err != nil {
		t.Fatal(err)
	}
	d.RegisterGlobalProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{globalTool("web_search")}
	}))

	prev := &models.FlowStep{ID: "s1", Type: models.StepFetch, HandlerSlug: "rss",
		HandlerConfig: map[string]any{"feed": "https://example.com/rss"}}
	next := &models.FlowStep{ID: "s3", Type: models.StepPublish, HandlerSlug: "twitter"}

	available := d.AvailableTools(context.Background(), prev, next, models.PipelineContext("s2"))

	for _, name := range []string{"rss_read", "twitter_publish", "web_search"} {
		if _, ok := available[name]; !ok {
			t.Errorf("missing %s in availability map", name)
		}
	}
	if got := available["rss_read"].HandlerConfig["feed"]; got != "https://example.com/rss" {
		t.Errorf("handler config not attached: %v", got)
	}
}

func TestDiscovery_DuplicateNameFirstWins(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "rss", tools: []Tool{NewTool(models.ToolDefinition{
			Name: "shared", Description: "from handler", HandlerBinding: "rss",
		}, nil)},
	}); err != nil {
		t.Fatal(err)
	}
	d.RegisterGlobalProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{NewTool(models.ToolDefinition{Name: "shared", Description: "from global"}, nil)}
	}))

	prev := &models.FlowStep{ID: "s1", HandlerSlug: "rss"}
	available := d.AvailableTools(context.Background(), prev, nil, models.PipelineContext("s2"))

	if got := available["shared"].Definition.Description; got != "from handler" {
		t.Errorf("description = %q, want the earlier source to win", got)
	}
}

func TestDiscovery_DuplicateHandlerSlugRejected(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{slug: "rss"}); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{slug: "rss"}); err == nil {
		t.Fatal("second registration for the same slug must fail")
	}
}

func TestDiscovery_BindingMismatchSkipped(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "rss", tools: []Tool{handlerTool("twitter_publish", "twitter")},
	}); err != nil {
		t.Fatal(err)
	}

	prev := &models.FlowStep{ID: "s1", HandlerSlug: "rss"}
	available := d.AvailableTools(context.Background(), prev, nil, models.PipelineContext("s2"))

	if _, ok := available["twitter_publish"]; ok {
		t.Error("tool bound to another handler must not surface through this adjacency")
	}
}

func TestDiscovery_ChatGetsNoHandlerTools(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "rss", tools: []Tool{handlerTool("rss_read", "rss")},
	}); err != nil {
		t.Fatal(err)
	}
	d.RegisterChatProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{globalTool("recent_jobs")}
	}))

	available := d.AvailableTools(context.Background(), nil, nil, models.ChatContext())

	if _, ok := available["rss_read"]; ok {
		t.Error("handler tools must not surface for chat agents")
	}
	if _, ok := available["recent_jobs"]; !ok {
		t.Error("chat-only tools must surface for chat agents")
	}
}

func TestDiscovery_PipelineGetsNoChatTools(t *testing.T) {
	d := newTestDiscovery(t, availability.NewMemoryStore())
	d.RegisterChatProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{globalTool("recent_jobs")}
	}))

	available := d.AvailableTools(context.Background(), nil, nil, models.PipelineContext("s2"))
	if _, ok := available["recent_jobs"]; ok {
		t.Error("chat-only tools must not surface for pipeline agents")
	}
}

func TestDiscovery_StepDisableIsAbsolute(t *testing.T) {
	store := availability.NewMemoryStore()
	store.DisableForStep("s2", "rss_read", "web_search")

	d := newTestDiscovery(t, store)
	if err := d.RegisterHandlerProvider(&fakeHandlerProvider{
		slug: "rss", tools: []Tool{handlerTool("rss_read", "rss")},
	}); err != nil {
		t.Fatal(err)
	}
	d.RegisterGlobalProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{globalTool("web_search"), globalTool("skip_item")}
	}))

	prev := &models.FlowStep{ID: "s1", HandlerSlug: "rss"}
	available := d.AvailableTools(context.Background(), prev, nil, models.PipelineContext("s2"))

	if _, ok := available["rss_read"]; ok {
		t.Error("per-step disable must exclude handler tools too")
	}
	if _, ok := available["web_search"]; ok {
		t.Error("per-step disable must exclude global tools")
	}
	if _, ok := available["skip_item"]; !ok {
		t.Error("tools outside the disable list must remain available")
	}
}

func TestDiscovery_GlobalOptOut(t *testing.T) {
	store := availability.NewMemoryStore()
	store.SetEnabled("web_search", false)

	d := newTestDiscovery(t, store)
	d.RegisterGlobalProvider(ToolProviderFunc(func(ctx context.Context, actx models.AgentContext) []Tool {
		return []Tool{globalTool("web_search"), globalTool("skip_item")}
	}))

	available := d.AvailableTools(context.Background(), nil, nil, models.PipelineContext("s2"))
	if _, ok := available["web_search"]; ok {
		t.Error("globally disabled tool must not surface")
	}
	if _, ok := available["skip_item"]; !ok {
		t.Error("tools without an override are enabled by default")
	}
}
