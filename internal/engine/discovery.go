package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/datamachine/engine/internal/tools/availability"
	"github.com/datamachine/engine/pkg/models"
)

// ToolProvider enumerates tool contributions from one source. Global and
// chat-only sources implement this directly.
type ToolProvider interface {
	ListTools(ctx context.Context, actx models.AgentContext) []Tool
}

// ToolProviderFunc adapts a function to the ToolProvider interface.
type ToolProviderFunc func(ctx context.Context, actx models.AgentContext) []Tool

// ListTools implements ToolProvider.
func (f ToolProviderFunc) ListTools(ctx context.Context, actx models.AgentContext) []Tool {
	return f(ctx, actx)
}

// HandlerToolProvider contributes tools on behalf of one handler (Twitter,
// WordPress, RSS, ...). Contributions are scoped to the adjacent step's
// handler configuration.
type HandlerToolProvider interface {
	HandlerSlug() string
	HandlerTools(ctx context.Context, step *models.FlowStep) []Tool
}

// Discovery aggregates tool contributions from handler, global, and chat-only
// sources into the per-invocation availability map, consulting the gate for
// each candidate. Providers are registered at startup; explicit registration
// replaces implicit hook ordering with testable composition.
type Discovery struct {
	mu       sync.RWMutex
	handlers map[string]HandlerToolProvider
	global   []ToolProvider
	chat     []ToolProvider

	gate   *availability.Gate
	logger *slog.Logger
}

// NewDiscovery creates an empty discovery aggregator over the given gate.
func NewDiscovery(gate *availability.Gate, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{
		handlers: make(map[string]HandlerToolProvider),
		gate:     gate,
		logger:   logger,
	}
	if gate != nil {
		gate.SetCatalog(d.lookupGlobal)
	}
	return d
}

// RegisterHandlerProvider registers a handler's tool source by slug.
// Registering the same slug twice is a startup bug and returns an error.
func (d *Discovery) RegisterHandlerProvider(p HandlerToolProvider) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	slug := p.HandlerSlug()
	if _, exists := d.handlers[slug]; exists {
		return fmt.Errorf("handler tool provider already registered for %q", slug)
	}
	d.handlers[slug] = p
	return nil
}

// RegisterGlobalProvider registers a source of globally visible tools.
func (d *Discovery) RegisterGlobalProvider(p ToolProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = append(d.global, p)
}

// RegisterChatProvider registers a source of chat-only tools. Chat tools are
// always surfaced for chat agents, with no gating.
func (d *Discovery) RegisterChatProvider(p ToolProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chat = append(d.chat, p)
}

// lookupGlobal resolves a global tool definition by name for the gate's
// existence layer.
func (d *Discovery) lookupGlobal(name string) (models.ToolDefinition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.global {
		for _, tool := range p.ListTools(context.Background(), models.AgentContext{}) {
			if def := tool.Definition(); def.Name == name {
				return def, true
			}
		}
	}
	return models.ToolDefinition{}, false
}

// AvailableTools resolves the set of tools visible to one loop invocation.
//
// For pipeline agents the union covers both neighbors of the AI step: an AI
// step consumes structured output from the previous fetch handler's tool
// surface and produces output for the next publish handler's surface. Global
// tools are merged in, each individually gated. For chat agents there is no
// adjacency; chat-only tools are included unconditionally instead.
//
// Duplicate names across sources resolve first-registration-wins in source
// order (previous handler, next handler, global, chat), which keeps the merge
// deterministic.
func (d *Discovery) AvailableTools(ctx context.Context, prev, next *models.FlowStep, actx models.AgentContext) map[string]*DiscoveredTool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	available := make(map[string]*DiscoveredTool)

	if actx.Type == models.AgentPipeline {
		d.collectHandlerTools(ctx, prev, actx, available)
		d.collectHandlerTools(ctx, next, actx, available)
	}

	for _, p := range d.global {
		for _, tool := range p.ListTools(ctx, actx) {
			def := tool.Definition()
			if _, taken := available[def.Name]; taken {
				continue
			}
			if d.gate != nil && !d.gate.Admits(ctx, def, actx) {
				continue
			}
			available[def.Name] = &DiscoveredTool{Definition: def, Runner: tool}
		}
	}

	if actx.Type == models.AgentChat {
		for _, p := range d.chat {
			for _, tool := range p.ListTools(ctx, actx) {
				def := tool.Definition()
				if _, taken := available[def.Name]; taken {
					continue
				}
				available[def.Name] = &DiscoveredTool{Definition: def, Runner: tool}
			}
		}
	}

	return available
}

func (d *Discovery) collectHandlerTools(ctx context.Context, step *models.FlowStep, actx models.AgentContext, available map[string]*DiscoveredTool) {
	if step == nil || step.HandlerSlug == "" {
		return
	}
	provider, ok := d.handlers[step.HandlerSlug]
	if !ok {
		return
	}
	for _, tool := range provider.HandlerTools(ctx, step) {
		def := tool.Definition()
		if _, taken := available[def.Name]; taken {
			continue
		}
		// Handler tools bound to a different handler never surface through
		// this adjacency.
		if def.HandlerBinding != "" && def.HandlerBinding != step.HandlerSlug {
			d.logger.Warn("discovery: handler tool binding mismatch",
				"tool", def.Name, "binding", def.HandlerBinding, "handler", step.HandlerSlug)
			continue
		}
		if d.gate != nil && !d.gate.Admits(ctx, def, actx) {
			continue
		}
		available[def.Name] = &DiscoveredTool{
			Definition:    def,
			Runner:        tool,
			HandlerConfig: step.HandlerConfig,
		}
	}
}
