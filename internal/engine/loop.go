package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datamachine/engine/internal/observability"
	"github.com/datamachine/engine/pkg/models"
)

// DefaultMaxTurns bounds one loop invocation when the request does not set
// its own budget.
const DefaultMaxTurns = 12

// ExecuteRequest carries one loop invocation.
type ExecuteRequest struct {
	Provider Provider
	Model    string

	// MaxTokens caps one provider response. Zero uses the provider default.
	MaxTokens int

	// Messages is the starting conversation. For pipeline steps this is the
	// data packet projection; for chat it is the session history plus the
	// new user message.
	Messages []models.ConversationMessage

	// Agent identifies the invocation context and scopes tool availability.
	Agent models.AgentContext

	// Step is the AI step being executed, with PrevStep and NextStep its
	// pipeline neighbors. All nil for chat invocations.
	Step     *models.FlowStep
	PrevStep *models.FlowStep
	NextStep *models.FlowStep

	// Flow and StepIndex locate Step within its flow so directive sources
	// can render workflow position. Nil/zero for chat invocations.
	Flow      *models.Flow
	StepIndex int

	// Payload is the engine-side state snapshot tools draw parameters from.
	Payload *ExecutionPayload

	// MaxTurns overrides the turn budget. Zero uses DefaultMaxTurns.
	MaxTurns int

	// SingleTurn stops after the first round of tool executions instead of
	// continuing the conversation. Chat uses this to poll turn by turn.
	SingleTurn bool
}

// ToolExecutionRecord is the audit entry for one dispatched tool call.
type ToolExecutionRecord struct {
	ToolName    string
	Parameters  map[string]any
	Result      models.ToolResult
	HandlerTool bool
	Turn        int
}

// LoopResult is the outcome of one loop invocation. Err is set only for
// provider-level failures; tool failures live inside the conversation and the
// execution records.
type LoopResult struct {
	Messages       []models.ConversationMessage
	FinalContent   string
	Completed      bool
	TurnCount      int
	ToolExecutions []ToolExecutionRecord
	LastToolCalls  []models.ToolCall

	Err             error
	Warning         string
	MaxTurnsReached bool
}

// ConversationLoop drives the multi-turn conversation between an AI provider
// and the tool dispatcher. One loop instance is shared across invocations;
// all per-invocation state lives in the request and result.
type ConversationLoop struct {
	discovery  *Discovery
	dispatcher *Dispatcher
	composer   *Composer
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
}

// LoopOption configures a ConversationLoop.
type LoopOption func(*ConversationLoop)

// WithLoopTracer attaches a tracer covering loop and provider spans.
func WithLoopTracer(t *observability.Tracer) LoopOption {
	return func(l *ConversationLoop) { l.tracer = t }
}

// NewConversationLoop creates a loop over the given discovery and dispatch
// components.
func NewConversationLoop(discovery *Discovery, dispatcher *Dispatcher, composer *Composer, metrics *observability.Metrics, logger *slog.Logger, opts ...LoopOption) *ConversationLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if composer == nil {
		composer = NewComposer()
	}
	loop := &ConversationLoop{
		discovery:  discovery,
		dispatcher: dispatcher,
		composer:   composer,
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

// Execute runs the conversation until natural termination, a provider error,
// or turn budget exhaustion. The ambient agent scope is installed for the
// duration and released on every exit path.
func (l *ConversationLoop) Execute(ctx context.Context, req *ExecuteRequest) *LoopResult {
	result := &LoopResult{}
	if req == nil || req.Provider == nil {
		result.Err = &LoopError{Phase: PhaseRunning, Cause: ErrNoProvider}
		return result
	}

	release := EnterAgentScope(req.Agent)
	defer release()
	ctx = WithAgentContext(ctx, req.Agent)

	ctx, span := l.tracer.TraceLoop(ctx, string(req.Agent.Type), req.Agent.ContextID)
	defer span.End()

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	available := l.discovery.AvailableTools(ctx, req.PrevStep, req.NextStep, req.Agent)
	defs := Definitions(available)

	system := l.composer.Compose(ctx, &DirectiveInput{
		Agent:     req.Agent,
		Flow:      req.Flow,
		StepIndex: req.StepIndex,
		Step:      req.Step,
		Available: available,
	})

	messages := make([]models.ConversationMessage, len(req.Messages))
	copy(messages, req.Messages)

	for {
		result.TurnCount++
		completion, err := l.complete(ctx, req, system, messages, defs, result.TurnCount)
		if err != nil {
			l.logger.Error("provider call failed",
				"provider", req.Provider.Name(),
				"turn", result.TurnCount,
				"error", err)
			result.Messages = messages
			result.Err = &LoopError{Phase: PhaseRunning, Turn: result.TurnCount, Cause: err}
			l.metrics.RecordLoopOutcome(string(req.Agent.Type), "error", result.TurnCount)
			return result
		}

		messages = append(messages, AssistantMessage(completion))

		if !completion.HasToolCalls() {
			result.Messages = messages
			result.FinalContent = completion.Content
			result.Completed = true
			l.metrics.RecordLoopOutcome(string(req.Agent.Type), "completed", result.TurnCount)
			return result
		}

		result.LastToolCalls = completion.ToolCalls
		results := l.executeTools(ctx, req, completion.ToolCalls, available, result)
		messages = append(messages, ToolTurnMessage(results))

		if req.SingleTurn {
			// The caller polls: tools ran, but the conversation is not
			// finished until a turn produces no tool calls.
			result.Messages = messages
			result.FinalContent = completion.Content
			result.Completed = false
			l.metrics.RecordLoopOutcome(string(req.Agent.Type), "single_turn", result.TurnCount)
			return result
		}

		if result.TurnCount >= maxTurns {
			l.logger.Warn("turn budget exhausted",
				"turns", result.TurnCount,
				"max_turns", maxTurns)
			result.Messages = messages
			result.FinalContent = completion.Content
			result.Completed = false
			result.MaxTurnsReached = true
			result.Warning = fmt.Sprintf("conversation stopped after reaching the %d turn limit", maxTurns)
			l.metrics.RecordLoopOutcome(string(req.Agent.Type), "max_turns", result.TurnCount)
			return result
		}
	}
}

// complete issues one provider call with timing metrics.
func (l *ConversationLoop) complete(ctx context.Context, req *ExecuteRequest, system []string, messages []models.ConversationMessage, defs []models.ToolDefinition, turn int) (*Completion, error) {
	ctx, span := l.tracer.TraceProviderRequest(ctx, req.Provider.Name(), req.Model, turn)
	defer span.End()

	start := time.Now()
	completion, err := req.Provider.Complete(ctx, &CompletionRequest{
		Model:     req.Model,
		System:    system,
		Messages:  messages,
		Tools:     defs,
		MaxTokens: req.MaxTokens,
	})
	status := "success"
	if err != nil {
		status = "error"
		l.tracer.RecordError(span, err)
	}
	l.metrics.RecordProviderCall(req.Provider.Name(), req.Model, status, time.Since(start))
	if completion != nil {
		l.metrics.RecordTokens(req.Provider.Name(), req.Model, completion.InputTokens, completion.OutputTokens)
	}
	return completion, err
}

// executeTools dispatches the turn's tool calls sequentially in the order the
// model requested them, recording each execution.
func (l *ConversationLoop) executeTools(ctx context.Context, req *ExecuteRequest, calls []models.ToolCall, available map[string]*DiscoveredTool, result *LoopResult) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		res := l.dispatcher.Execute(ctx, call, available, req.Payload)
		results = append(results, res)

		record := ToolExecutionRecord{
			ToolName:   call.Name,
			Parameters: call.Arguments,
			Result:     res,
			Turn:       result.TurnCount,
		}
		if discovered, ok := available[call.Name]; ok {
			record.HandlerTool = discovered.Definition.IsHandlerTool()
		}
		result.ToolExecutions = append(result.ToolExecutions, record)

		l.logger.Info("tool executed",
			"tool", call.Name,
			"turn", result.TurnCount,
			"is_error", res.IsError,
			"pending", res.Pending)
	}
	return results
}
