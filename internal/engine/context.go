package engine

import (
	"context"
	"sync"

	"github.com/datamachine/engine/pkg/models"
)

type agentContextKey struct{}

// WithAgentContext stores the agent context on a request context. This is the
// primary mechanism: discovery and dispatch thread the agent context through
// explicit arguments or context values, never by inferring it independently.
func WithAgentContext(ctx context.Context, actx models.AgentContext) context.Context {
	if actx.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, agentContextKey{}, actx)
}

// AgentContextFrom retrieves the agent context from a request context.
func AgentContextFrom(ctx context.Context) (models.AgentContext, bool) {
	actx, ok := ctx.Value(agentContextKey{}).(models.AgentContext)
	if !ok || actx.IsZero() {
		return models.AgentContext{}, false
	}
	return actx, true
}

// ambientAgent is the process-wide current agent context, kept only for
// executables that cannot receive a context.Context. It is best effort:
// concurrent loop invocations overwrite each other here, and only explicit
// context passing via WithAgentContext is reliable under concurrency. The
// engine never blocks one invocation on another for this value.
var ambientAgent struct {
	mu      sync.Mutex
	current models.AgentContext
	epoch   uint64
}

// EnterAgentScope installs actx as the ambient agent context and returns a
// release function that must run on every exit path. Release clears the
// ambient value only when no later invocation has overwritten it, so one
// invocation's cleanup never wipes out another's context.
func EnterAgentScope(actx models.AgentContext) (release func()) {
	ambientAgent.mu.Lock()
	ambientAgent.epoch++
	epoch := ambientAgent.epoch
	ambientAgent.current = actx
	ambientAgent.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ambientAgent.mu.Lock()
			if ambientAgent.epoch == epoch {
				ambientAgent.current = models.AgentContext{}
			}
			ambientAgent.mu.Unlock()
		})
	}
}

// CurrentAgent returns the ambient agent context, or a zero context when no
// loop is executing. Under concurrent invocations it reflects the most
// recent scope entry. Tools should prefer AgentContextFrom on their
// context.Context; this exists for executables without one.
func CurrentAgent() models.AgentContext {
	ambientAgent.mu.Lock()
	defer ambientAgent.mu.Unlock()
	return ambientAgent.current
}
