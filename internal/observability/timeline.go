package observability

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/datamachine/engine/pkg/models"
)

// Timeline records tool lifecycle events in arrival order. It is bounded: once
// capacity is reached the oldest events are dropped. Safe for concurrent use.
type Timeline struct {
	mu     sync.Mutex
	events []models.ToolEvent
	max    int
}

// DefaultTimelineCapacity bounds in-memory event retention.
const DefaultTimelineCapacity = 1000

// NewTimeline creates a timeline retaining up to max events. A max of zero or
// less uses DefaultTimelineCapacity.
func NewTimeline(max int) *Timeline {
	if max <= 0 {
		max = DefaultTimelineCapacity
	}
	return &Timeline{max: max}
}

// Emit appends one event, evicting the oldest when full.
func (t *Timeline) Emit(event models.ToolEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) >= t.max {
		copy(t.events, t.events[1:])
		t.events = t.events[:len(t.events)-1]
	}
	t.events = append(t.events, event)
}

// Events returns a snapshot of recorded events.
func (t *Timeline) Events() []models.ToolEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.ToolEvent, len(t.events))
	copy(out, t.events)
	return out
}

// ForTool returns recorded events for one tool name.
func (t *Timeline) ForTool(name string) []models.ToolEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.ToolEvent
	for _, ev := range t.events {
		if ev.ToolName == name {
			out = append(out, ev)
		}
	}
	return out
}

// Failures returns events for failed or rejected invocations.
func (t *Timeline) Failures() []models.ToolEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.ToolEvent
	for _, ev := range t.events {
		if ev.Stage == models.ToolEventFailed || ev.Stage == models.ToolEventRejected {
			out = append(out, ev)
		}
	}
	return out
}

// Len reports the number of retained events.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Clear discards all recorded events.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// WriteJSON streams the recorded events as a JSON array, one event per entry.
// Useful for dumping a run's tool activity for offline inspection.
func (t *Timeline) WriteJSON(w io.Writer) error {
	events := t.Events()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// Summary aggregates recorded events per tool.
type Summary struct {
	Tool      string        `json:"tool"`
	Calls     int           `json:"calls"`
	Failures  int           `json:"failures"`
	TotalTime time.Duration `json:"total_time"`
}

// Summarize reduces the timeline to per-tool call counts and durations.
// Durations only accumulate for events that carry both timestamps.
func (t *Timeline) Summarize() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	byTool := make(map[string]*Summary)
	var order []string
	for _, ev := range t.events {
		s, ok := byTool[ev.ToolName]
		if !ok {
			s = &Summary{Tool: ev.ToolName}
			byTool[ev.ToolName] = s
			order = append(order, ev.ToolName)
		}
		switch ev.Stage {
		case models.ToolEventRequested:
			s.Calls++
		case models.ToolEventFailed, models.ToolEventRejected:
			s.Failures++
		}
		if !ev.StartedAt.IsZero() && !ev.FinishedAt.IsZero() {
			s.TotalTime += ev.FinishedAt.Sub(ev.StartedAt)
		}
	}

	out := make([]Summary, 0, len(order))
	for _, name := range order {
		out = append(out, *byTool[name])
	}
	return out
}
