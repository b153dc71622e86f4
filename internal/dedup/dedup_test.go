package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_MarkAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seen, err := store.IsProcessed(ctx, "step-1", "rss", "item-1")
	if err != nil {
		t.Fatalf("IsProcessed() error = %v", err)
	}
	if seen {
		t.Error("unmarked item reported processed")
	}

	if err := store.MarkProcessed(ctx, "step-1", "rss", "item-1"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	seen, err = store.IsProcessed(ctx, "step-1", "rss", "item-1")
	if err != nil {
		t.Fatalf("IsProcessed() error = %v", err)
	}
	if !seen {
		t.Error("marked item not reported processed")
	}
}

func TestMemoryStore_KeyIsScoped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.MarkProcessed(ctx, "step-1", "rss", "item-1")

	// The same item id under a different step or source is distinct.
	if seen, _ := store.IsProcessed(ctx, "step-2", "rss", "item-1"); seen {
		t.Error("item leaked across flow steps")
	}
	if seen, _ := store.IsProcessed(ctx, "step-1", "reddit", "item-1"); seen {
		t.Error("item leaked across source types")
	}
}

func TestMemoryStore_ClearStep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.MarkProcessed(ctx, "step-1", "rss", "item-1")
	store.MarkProcessed(ctx, "step-1", "rss", "item-2")
	store.MarkProcessed(ctx, "step-2", "rss", "item-1")

	if err := store.ClearStep(ctx, "step-1"); err != nil {
		t.Fatalf("ClearStep() error = %v", err)
	}

	if seen, _ := store.IsProcessed(ctx, "step-1", "rss", "item-1"); seen {
		t.Error("cleared step still reports processed items")
	}
	if seen, _ := store.IsProcessed(ctx, "step-2", "rss", "item-1"); !seen {
		t.Error("ClearStep removed another step's records")
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.MarkProcessed(ctx, "step-1", "rss", "old")
	store.items[memoryKey{"step-1", "rss", "old"}] = time.Now().Add(-48 * time.Hour)
	store.MarkProcessed(ctx, "step-1", "rss", "recent")

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if seen, _ := store.IsProcessed(ctx, "step-1", "rss", "recent"); !seen {
		t.Error("recent record pruned")
	}
}
