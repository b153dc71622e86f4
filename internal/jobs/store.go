// Package jobs persists async tool executions. Tools declared async return a
// pending marker with a job reference; the job completes in the background and
// any follow-up notification is outside the engine's responsibility. The
// dispatcher writes records through Create and Update; the job inspection
// tools read them back through Get and Recent.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/datamachine/engine/pkg/models"
)

// Status is a job's position in its lifecycle. Queued and running jobs are
// still in flight; succeeded and failed are terminal.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job records one async tool execution from the pending marker handed back to
// the conversation through its terminal result.
type Job struct {
	ID         string             `json:"id"`
	ToolName   string             `json:"tool_name"`
	ToolCallID string             `json:"tool_call_id"`
	FlowStepID string             `json:"flow_step_id,omitempty"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  time.Time          `json:"started_at,omitempty"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
	Result     *models.ToolResult `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Store persists job records.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	// Get returns the job with the given id, or nil when absent.
	Get(ctx context.Context, id string) (*Job, error)
	// Recent returns up to limit jobs, most recently created first.
	Recent(ctx context.Context, limit int) ([]*Job, error)
	// Prune removes jobs older than the given duration and reports how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryStore keeps jobs in memory. Suited to single-process runs and tests;
// records are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Job
	jobs []*Job // creation order, oldest first
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Job)}
}

// Create stores a job.
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
	return nil
}

// Update rewrites a job record, inserting it when absent.
func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(job)
	return nil
}

// put replaces the stored record in place so the creation-order slice and the
// id index always point at the same snapshot. Caller holds the write lock.
func (s *MemoryStore) put(job *Job) {
	if stored, ok := s.byID[job.ID]; ok {
		*stored = *snapshot(job)
		return
	}
	stored := snapshot(job)
	s.byID[job.ID] = stored
	s.jobs = append(s.jobs, stored)
}

// Get returns a job by id, or nil when absent.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return snapshot(stored), nil
}

// Recent returns up to limit jobs, most recently created first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.jobs) {
		limit = len(s.jobs)
	}
	out := make([]*Job, 0, limit)
	for i := len(s.jobs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, snapshot(s.jobs[i]))
	}
	return out, nil
}

// Prune removes jobs older than the given duration.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	kept := s.jobs[:0]
	for _, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.byID, job.ID)
			pruned++
			continue
		}
		kept = append(kept, job)
	}
	s.jobs = kept
	return pruned, nil
}

// snapshot copies a job so stored records and returned records never share
// mutable state with the caller.
func snapshot(job *Job) *Job {
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
