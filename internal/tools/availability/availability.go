// Package availability decides which tools an agent context may see.
// It applies three gating layers in order: existence in the global catalog,
// the per-step disabled list (absolute for pipeline contexts), and global
// enablement plus configuration status.
package availability

import (
	"context"
	"log/slog"

	"github.com/datamachine/engine/pkg/models"
)

// SelectionStore is the persisted tool-selection boundary. The gate reads it;
// nothing in the engine writes it. Implementations live in internal/selection
// (SQLite) and MemoryStore below.
type SelectionStore interface {
	// DisabledTools returns the per-flow-step exclusion list.
	DisabledTools(ctx context.Context, flowStepID string) ([]string, error)

	// GlobalSelection returns explicit per-tool enablement overrides and
	// whether the store has ever been initialized. Tools absent from the map
	// are enabled by default (opt-out model); an explicit false disables.
	GlobalSelection(ctx context.Context) (overrides map[string]bool, initialized bool, err error)

	// Configured reports whether a tool that requires configuration has it
	// (required API keys present, etc.).
	Configured(ctx context.Context, toolID string) (bool, error)
}

// Catalog looks up global tool definitions by name. Handler-scoped tools are
// not in the catalog; they exist only through step adjacency.
type Catalog func(name string) (models.ToolDefinition, bool)

// Gate answers availability questions. It never returns errors: absence of
// availability is expressed only via false, with store failures logged and
// treated as unavailable.
type Gate struct {
	store   SelectionStore
	catalog Catalog
	logger  *slog.Logger
}

// NewGate creates a gate over a selection store and global catalog.
func NewGate(store SelectionStore, catalog Catalog, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, catalog: catalog, logger: logger}
}

// SetCatalog installs the global catalog. Discovery wires itself in after
// both it and the gate are constructed.
func (g *Gate) SetCatalog(catalog Catalog) {
	g.catalog = catalog
}

// IsAvailable reports whether the named global tool is visible to the agent
// context. Unknown tools are unavailable.
func (g *Gate) IsAvailable(ctx context.Context, toolID string, actx models.AgentContext) bool {
	if g.catalog == nil {
		return false
	}
	def, ok := g.catalog(toolID)
	if !ok {
		return false
	}
	return g.Admits(ctx, def, actx)
}

// Admits applies layers two and three to a definition the caller already
// resolved. Discovery uses this for handler-contributed definitions, which
// never appear in the catalog.
func (g *Gate) Admits(ctx context.Context, def models.ToolDefinition, actx models.AgentContext) bool {
	// Per-step exclusion is absolute for pipeline contexts: no fall-through
	// to global checks.
	if actx.Type == models.AgentPipeline && actx.ContextID != "" {
		disabled, err := g.store.DisabledTools(ctx, actx.ContextID)
		if err != nil {
			g.logger.Warn("availability: disabled-tools lookup failed",
				"flow_step_id", actx.ContextID, "tool", def.Name, "error", err)
			return false
		}
		for _, id := range disabled {
			if id == def.Name {
				return false
			}
		}
	}

	// Handler-bound tools are gated only by step adjacency, which the caller
	// has already established. The global opt-out list does not apply.
	if def.IsHandlerTool() {
		return true
	}

	overrides, initialized, err := g.store.GlobalSelection(ctx)
	if err != nil {
		g.logger.Warn("availability: global selection lookup failed",
			"tool", def.Name, "error", err)
		return false
	}

	configured := true
	if def.RequiresConfig {
		configured, err = g.store.Configured(ctx, def.Name)
		if err != nil {
			g.logger.Warn("availability: config status lookup failed",
				"tool", def.Name, "error", err)
			return false
		}
	}

	// Fresh install: an uninitialized store hides nothing that is usable.
	if !initialized {
		return configured
	}

	if enabled, ok := overrides[def.Name]; ok && !enabled {
		return false
	}
	return configured
}
