package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/datamachine/engine/pkg/models"
)

// Directive tiers. Lower priorities render first; the model reads core
// behavior before anything context-specific.
const (
	TierCore     = 10
	TierGlobal   = 20
	TierPipeline = 30
	TierTools    = 40
	TierSite     = 50
)

// DirectiveInput is the snapshot a directive source renders from. Flow and
// StepIndex locate the executing step within its flow for pipeline
// invocations; both are zero for chat.
type DirectiveInput struct {
	Agent     models.AgentContext
	Flow      *models.Flow
	StepIndex int
	Step      *models.FlowStep
	Available map[string]*DiscoveredTool
}

// DirectiveFunc produces one prompt section. Returning an empty string omits
// the section entirely.
type DirectiveFunc func(ctx context.Context, in *DirectiveInput) string

type directiveEntry struct {
	priority int
	seq      int
	fn       DirectiveFunc
}

// Composer assembles the system prompt from registered directive sources.
// Sources register once at startup; Compose runs them fresh per invocation so
// step config and tool availability are always current.
type Composer struct {
	entries []directiveEntry
	seq     int
}

// NewComposer creates a Composer pre-loaded with the core behavior and tool
// definition directives.
func NewComposer() *Composer {
	c := &Composer{}
	c.Register(TierCore, coreDirective)
	c.Register(TierTools, toolDirective)
	return c
}

// Register adds a directive source at the given priority. Sources at the same
// priority render in registration order.
func (c *Composer) Register(priority int, fn DirectiveFunc) {
	c.entries = append(c.entries, directiveEntry{priority: priority, seq: c.seq, fn: fn})
	c.seq++
}

// Compose renders all directive sections in priority order. Empty sections
// are dropped, never rendered as blank separators.
func (c *Composer) Compose(ctx context.Context, in *DirectiveInput) []string {
	entries := make([]directiveEntry, len(c.entries))
	copy(entries, c.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	var sections []string
	for _, e := range entries {
		if section := strings.TrimSpace(e.fn(ctx, in)); section != "" {
			sections = append(sections, section)
		}
	}
	return sections
}

// coreDirective states the agent's base operating contract.
func coreDirective(ctx context.Context, in *DirectiveInput) string {
	var sb strings.Builder
	sb.WriteString("You are an automated content processing agent.\n")
	sb.WriteString("Work only with the data provided in the conversation. ")
	sb.WriteString("Use tools when they are the right way to act on the content; ")
	sb.WriteString("respond with plain text when no tool applies.\n")
	sb.WriteString("Call each tool at most once per item unless a result tells you to retry.")
	if in != nil && in.Agent.Type == models.AgentPipeline {
		sb.WriteString("\nYou are one step in an automated pipeline. There is no human in the loop; ")
		sb.WriteString("do not ask questions, complete the step.")
	}
	return sb.String()
}

// toolDirective renders the available tool roster with parameters, so the
// model sees capabilities in the prompt as well as in the request tool list.
func toolDirective(ctx context.Context, in *DirectiveInput) string {
	if in == nil || len(in.Available) == 0 {
		return ""
	}
	defs := Definitions(in.Available)

	var sb strings.Builder
	sb.WriteString("AVAILABLE TOOLS:\n")
	for _, def := range defs {
		sb.WriteString(fmt.Sprintf("- %s: %s", def.Name, def.Description))
		if required := def.RequiredParameters(); len(required) > 0 {
			sb.WriteString(fmt.Sprintf(" (required: %s)", strings.Join(required, ", ")))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StepPromptDirective returns a pipeline-tier directive rendering the step's
// configured system prompt.
func StepPromptDirective() DirectiveFunc {
	return func(ctx context.Context, in *DirectiveInput) string {
		if in == nil || in.Step == nil {
			return ""
		}
		return in.Step.SystemPrompt
	}
}

// StaticDirective returns a directive that always renders the given text.
// Used for global and site-level prompt sections sourced from configuration.
func StaticDirective(text string) DirectiveFunc {
	return func(ctx context.Context, in *DirectiveInput) string {
		return text
	}
}
