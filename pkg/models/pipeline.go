package models

import "time"

// StepType is the kind of work a pipeline position performs.
type StepType string

const (
	StepFetch   StepType = "fetch"
	StepAI      StepType = "ai"
	StepPublish StepType = "publish"
	StepUpdate  StepType = "update"
)

// Pipeline is a reusable template of ordered step types.
type Pipeline struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one templated position in a pipeline.
type Step struct {
	ID          string   `json:"id" yaml:"id"`
	Type        StepType `json:"type" yaml:"type"`
	HandlerSlug string   `json:"handler_slug,omitempty" yaml:"handler_slug,omitempty"`
}

// Flow is a per-execution instantiation of a pipeline with concrete handler
// configuration per step. Steps are ordered in execution order.
type Flow struct {
	ID         string     `json:"id" yaml:"id"`
	PipelineID string     `json:"pipeline_id" yaml:"pipeline_id"`
	Name       string     `json:"name" yaml:"name"`
	Steps      []FlowStep `json:"steps" yaml:"steps"`
}

// FlowStep is a configured position in a flow. DisabledTools is the per-step
// tool exclusion list consulted by the availability gate; it is absolute for
// pipeline contexts.
type FlowStep struct {
	ID            string         `json:"id" yaml:"id"`
	StepID        string         `json:"step_id" yaml:"step_id"`
	Type          StepType       `json:"type" yaml:"type"`
	HandlerSlug   string         `json:"handler_slug,omitempty" yaml:"handler_slug,omitempty"`
	HandlerConfig map[string]any `json:"handler_config,omitempty" yaml:"handler_config,omitempty"`
	DisabledTools []string       `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`

	// SystemPrompt is the pipeline-specific goal text injected for AI steps.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// StepByIndex returns the flow step at the given position, or nil when out of
// range. Used for previous/next adjacency lookups around an AI step.
func (f *Flow) StepByIndex(i int) *FlowStep {
	if f == nil || i < 0 || i >= len(f.Steps) {
		return nil
	}
	return &f.Steps[i]
}

// DataPacket is the content unit flowing between pipeline steps.
type DataPacket struct {
	Type      string         `json:"type"` // fetch, ai, tool_result
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  PacketMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// PacketMetadata carries engine attribution for a data packet.
type PacketMetadata struct {
	JobID      string         `json:"job_id,omitempty"`
	FlowStepID string         `json:"flow_step_id,omitempty"`
	SourceURL  string         `json:"source_url,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}
