package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/datamachine/engine/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func catalogOf(defs ...models.ToolDefinition) Catalog {
	return func(name string) (models.ToolDefinition, bool) {
		for _, def := range defs {
			if def.Name == name {
				return def, true
			}
		}
		return models.ToolDefinition{}, false
	}
}

func TestGate_UnknownToolUnavailable(t *testing.T) {
	gate := NewGate(NewMemoryStore(), catalogOf(), testLogger())
	if gate.IsAvailable(context.Background(), "nope", models.ChatContext()) {
		t.Error("unknown tool must be unavailable")
	}
}

func TestGate_FreshInstallAdmitsByDefault(t *testing.T) {
	store := NewMemoryStore()
	plain := models.ToolDefinition{Name: "web_search"}
	needsKeys := models.ToolDefinition{Name: "image_gen", RequiresConfig: true}
	gate := NewGate(store, catalogOf(plain, needsKeys), testLogger())
	ctx := context.Background()

	if !gate.IsAvailable(ctx, "web_search", models.ChatContext()) {
		t.Error("fresh install must admit tools without config requirements")
	}
	if gate.IsAvailable(ctx, "image_gen", models.ChatContext()) {
		t.Error("unconfigured tool must be hidden even on fresh install")
	}

	store.SetConfigured("image_gen", true)
	if !gate.IsAvailable(ctx, "image_gen", models.ChatContext()) {
		t.Error("configured tool must be admitted on fresh install")
	}
}

func TestGate_GlobalOptOut(t *testing.T) {
	store := NewMemoryStore()
	store.SetEnabled("web_search", false)

	def := models.ToolDefinition{Name: "web_search"}
	other := models.ToolDefinition{Name: "skip_item"}
	gate := NewGate(store, catalogOf(def, other), testLogger())
	ctx := context.Background()

	if gate.IsAvailable(ctx, "web_search", models.ChatContext()) {
		t.Error("explicit disable must hide the tool")
	}
	// Opt-out model: absence from the overrides means enabled.
	if !gate.IsAvailable(ctx, "skip_item", models.ChatContext()) {
		t.Error("tool without an override must stay enabled")
	}
}

func TestGate_StepDisableAbsoluteForPipeline(t *testing.T) {
	store := NewMemoryStore()
	store.DisableForStep("step-1", "web_search")

	def := models.ToolDefinition{Name: "web_search"}
	gate := NewGate(store, catalogOf(def), testLogger())
	ctx := context.Background()

	if gate.IsAvailable(ctx, "web_search", models.PipelineContext("step-1")) {
		t.Error("step disable must hide the tool for that step")
	}
	if !gate.IsAvailable(ctx, "web_search", models.PipelineContext("step-2")) {
		t.Error("step disable must not leak to other steps")
	}
	if !gate.IsAvailable(ctx, "web_search", models.ChatContext()) {
		t.Error("step disable must not apply to chat contexts")
	}
}

func TestGate_StepDisableCoversHandlerTools(t *testing.T) {
	store := NewMemoryStore()
	store.DisableForStep("step-1", "twitter_publish")

	def := models.ToolDefinition{Name: "twitter_publish", HandlerBinding: "twitter"}
	gate := NewGate(store, nil, testLogger())
	ctx := context.Background()

	if gate.Admits(ctx, def, models.PipelineContext("step-1")) {
		t.Error("step disable must be absolute, handler binding does not bypass it")
	}
	if !gate.Admits(ctx, def, models.PipelineContext("step-2")) {
		t.Error("handler tool must pass on other steps without global checks")
	}
}

func TestGate_HandlerToolsSkipGlobalOptOut(t *testing.T) {
	store := NewMemoryStore()
	store.SetEnabled("twitter_publish", false)

	def := models.ToolDefinition{Name: "twitter_publish", HandlerBinding: "twitter"}
	gate := NewGate(store, nil, testLogger())

	if !gate.Admits(context.Background(), def, models.PipelineContext("step-1")) {
		t.Error("the global opt-out list must not apply to handler-bound tools")
	}
}

// failingStore returns errors from every lookup.
type failingStore struct{}

func (failingStore) DisabledTools(ctx context.Context, flowStepID string) ([]string, error) {
	return nil, errors.New("db down")
}
func (failingStore) GlobalSelection(ctx context.Context) (map[string]bool, bool, error) {
	return nil, false, errors.New("db down")
}
func (failingStore) Configured(ctx context.Context, toolID string) (bool, error) {
	return false, errors.New("db down")
}

func TestGate_StoreFailureFailsClosed(t *testing.T) {
	def := models.ToolDefinition{Name: "web_search"}
	gate := NewGate(failingStore{}, catalogOf(def), testLogger())
	ctx := context.Background()

	if gate.IsAvailable(ctx, "web_search", models.ChatContext()) {
		t.Error("store failure must make the tool unavailable")
	}
	if gate.IsAvailable(ctx, "web_search", models.PipelineContext("step-1")) {
		t.Error("store failure must make the tool unavailable for pipelines")
	}
}
