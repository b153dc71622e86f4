// Package dedup tracks processed item identifiers so fetch steps never feed
// the same item through a flow twice.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store records which source items a flow has already processed.
type Store interface {
	// MarkProcessed records an item as processed by a flow step.
	MarkProcessed(ctx context.Context, flowStepID, sourceType, itemID string) error

	// IsProcessed reports whether an item was already processed.
	IsProcessed(ctx context.Context, flowStepID, sourceType, itemID string) (bool, error)

	// ClearStep forgets all processed items for a flow step.
	ClearStep(ctx context.Context, flowStepID string) error

	// Prune removes records older than the given duration.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

type memoryKey struct {
	flowStepID string
	sourceType string
	itemID     string
}

// MemoryStore keeps processed item records in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[memoryKey]time.Time
}

// NewMemoryStore returns a new in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[memoryKey]time.Time)}
}

// MarkProcessed records an item as processed.
func (s *MemoryStore) MarkProcessed(ctx context.Context, flowStepID, sourceType, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[memoryKey{flowStepID, sourceType, itemID}] = time.Now()
	return nil
}

// IsProcessed reports whether an item was already processed.
func (s *MemoryStore) IsProcessed(ctx context.Context, flowStepID, sourceType, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[memoryKey{flowStepID, sourceType, itemID}]
	return ok, nil
}

// ClearStep forgets all processed items for a flow step.
func (s *MemoryStore) ClearStep(ctx context.Context, flowStepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if key.flowStepID == flowStepID {
			delete(s.items, key)
		}
	}
	return nil
}

// Prune removes records older than the given duration.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	for key, at := range s.items {
		if at.Before(cutoff) {
			delete(s.items, key)
			pruned++
		}
	}
	return pruned, nil
}
