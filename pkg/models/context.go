package models

// AgentType identifies which consumer of the engine a loop invocation serves.
type AgentType string

const (
	// AgentPipeline is an automated pipeline AI step.
	AgentPipeline AgentType = "pipeline"

	// AgentChat is an interactive chat session.
	AgentChat AgentType = "chat"
)

// AgentContext scopes one loop invocation to an agent. For pipeline agents
// ContextID carries the flow step identifier whose disabled-tools list applies;
// chat agents have no step scope. The context is set at loop entry and cleared
// on every exit path, so it must never be cached across requests.
type AgentContext struct {
	Type      AgentType `json:"agent_type"`
	ContextID string    `json:"context_id,omitempty"`
}

// PipelineContext returns an agent context scoped to a flow step.
func PipelineContext(flowStepID string) AgentContext {
	return AgentContext{Type: AgentPipeline, ContextID: flowStepID}
}

// ChatContext returns the chat agent context.
func ChatContext() AgentContext {
	return AgentContext{Type: AgentChat}
}

// IsZero reports whether the context is unset.
func (c AgentContext) IsZero() bool {
	return c.Type == ""
}
