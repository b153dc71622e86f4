package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/datamachine/engine/pkg/models"
)

// Tool is one callable capability: a definition plus the unit that performs
// the call. Dispatch parameters arrive as the flat map built by the parameter
// builder; results come back in the normalized ToolResult envelope.
type Tool interface {
	Definition() models.ToolDefinition
	Run(ctx context.Context, params map[string]any) (*models.ToolResult, error)
}

// RunFunc is the executable unit of a tool.
type RunFunc func(ctx context.Context, params map[string]any) (*models.ToolResult, error)

type staticTool struct {
	def models.ToolDefinition
	run RunFunc
}

// NewTool builds a Tool from a definition and run function.
func NewTool(def models.ToolDefinition, run RunFunc) Tool {
	return &staticTool{def: def, run: run}
}

func (t *staticTool) Definition() models.ToolDefinition { return t.def }

func (t *staticTool) Run(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
	if t.run == nil {
		return nil, NewToolError(t.def.Name, ToolErrorUnresolvable, ErrUnresolvableTool)
	}
	return t.run(ctx, params)
}

// DefinitionThunk defers building a tool definition until first use.
type DefinitionThunk func() models.ToolDefinition

type lazyTool struct {
	once  sync.Once
	thunk DefinitionThunk
	def   models.ToolDefinition
	run   RunFunc
}

// NewLazyTool builds a Tool whose definition is resolved once and memoized.
// Providers use this when assembling a definition is costly relative to how
// often the tool is actually surfaced.
func NewLazyTool(thunk DefinitionThunk, run RunFunc) Tool {
	return &lazyTool{thunk: thunk, run: run}
}

func (t *lazyTool) Definition() models.ToolDefinition {
	t.once.Do(func() {
		t.def = t.thunk()
	})
	return t.def
}

func (t *lazyTool) Run(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
	if t.run == nil {
		return nil, NewToolError(t.Definition().Name, ToolErrorUnresolvable, ErrUnresolvableTool)
	}
	return t.run(ctx, params)
}

// DefinitionOnly builds a Tool with no resolvable executable. Dispatching it
// is a registration error, distinguishable from "tool not found".
func DefinitionOnly(def models.ToolDefinition) Tool {
	return &staticTool{def: def}
}

// DiscoveredTool is one entry in the per-invocation availability map: the
// resolved definition, the executable (nil when unresolvable), and the
// handler configuration snapshot for handler-scoped tools.
type DiscoveredTool struct {
	Definition    models.ToolDefinition
	Runner        Tool
	HandlerConfig map[string]any
}

// Resolvable reports whether dispatch can actually invoke the tool.
func (t *DiscoveredTool) Resolvable() bool {
	if t == nil || t.Runner == nil {
		return false
	}
	if st, ok := t.Runner.(*staticTool); ok {
		return st.run != nil
	}
	if lt, ok := t.Runner.(*lazyTool); ok {
		return lt.run != nil
	}
	return true
}

// Definitions flattens an availability map into a deterministic definition
// list for provider requests, ordered by name.
func Definitions(available map[string]*DiscoveredTool) []models.ToolDefinition {
	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, available[name].Definition)
	}
	return defs
}
