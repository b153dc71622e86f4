package availability

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory SelectionStore for tests and single-process runs.
type MemoryStore struct {
	mu           sync.RWMutex
	stepDisabled map[string][]string
	overrides    map[string]bool
	configured   map[string]bool
	initialized  bool
}

// NewMemoryStore returns an empty, uninitialized selection store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stepDisabled: make(map[string][]string),
		overrides:    make(map[string]bool),
		configured:   make(map[string]bool),
	}
}

// DisableForStep sets the per-step exclusion list for a flow step.
func (s *MemoryStore) DisableForStep(flowStepID string, toolIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepDisabled[flowStepID] = append(s.stepDisabled[flowStepID], toolIDs...)
}

// SetEnabled records an explicit global enable/disable override and marks the
// store initialized.
func (s *MemoryStore) SetEnabled(toolID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[toolID] = enabled
	s.initialized = true
}

// SetConfigured records a tool's configuration status.
func (s *MemoryStore) SetConfigured(toolID string, configured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured[toolID] = configured
}

// DisabledTools implements SelectionStore.
func (s *MemoryStore) DisabledTools(ctx context.Context, flowStepID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	disabled := s.stepDisabled[flowStepID]
	out := make([]string, len(disabled))
	copy(out, disabled)
	return out, nil
}

// GlobalSelection implements SelectionStore.
func (s *MemoryStore) GlobalSelection(ctx context.Context) (map[string]bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out, s.initialized, nil
}

// Configured implements SelectionStore.
func (s *MemoryStore) Configured(ctx context.Context, toolID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configured[toolID], nil
}
