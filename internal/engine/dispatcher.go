package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/datamachine/engine/internal/jobs"
	"github.com/datamachine/engine/internal/observability"
	"github.com/datamachine/engine/pkg/models"
)

// DefaultToolTimeout bounds one tool execution.
const DefaultToolTimeout = 60 * time.Second

// ToolEventSink receives tool lifecycle events.
type ToolEventSink interface {
	Emit(event models.ToolEvent)
}

// ToolEventSinkFunc adapts a function to the ToolEventSink interface.
type ToolEventSinkFunc func(event models.ToolEvent)

// Emit implements ToolEventSink.
func (f ToolEventSinkFunc) Emit(event models.ToolEvent) { f(event) }

// Dispatcher executes tool calls against an availability map. Every failure
// mode is folded into the ToolResult envelope: Execute never returns an error
// and never panics, so a misbehaving tool cannot take down the loop.
type Dispatcher struct {
	timeout time.Duration
	jobs    jobs.Store
	metrics *observability.Metrics
	tracer  *observability.Tracer
	events  ToolEventSink
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout sets the per-execution timeout.
func WithToolTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithJobStore enables async tool dispatch backed by the given store.
func WithJobStore(store jobs.Store) DispatcherOption {
	return func(disp *Dispatcher) { disp.jobs = store }
}

// WithMetrics attaches execution metrics.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// WithTracer attaches a tracer covering tool execution spans.
func WithTracer(t *observability.Tracer) DispatcherOption {
	return func(disp *Dispatcher) { disp.tracer = t }
}

// WithEventSink attaches a tool lifecycle event sink.
func WithEventSink(sink ToolEventSink) DispatcherOption {
	return func(disp *Dispatcher) { disp.events = sink }
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		timeout: DefaultToolTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one tool call. The call's arguments are merged with
// engine-injected parameters, validated, and handed to the tool executable.
// The returned envelope reports failures through IsError.
func (d *Dispatcher) Execute(ctx context.Context, call models.ToolCall, available map[string]*DiscoveredTool, payload *ExecutionPayload) models.ToolResult {
	ctx, span := d.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	d.emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      models.ToolEventRequested,
		Arguments:  call.Arguments,
		StartedAt:  time.Now(),
	})

	discovered, ok := available[call.Name]
	if !ok || discovered == nil {
		return d.reject(call, ToolErrorNotFound, fmt.Sprintf("Tool '%s' not found", call.Name))
	}
	def := discovered.Definition

	var params map[string]any
	if def.IsHandlerTool() {
		params = BuildHandlerParameters(call.Arguments, payload, def, discovered.HandlerConfig)
	} else {
		params = BuildParameters(call.Arguments, payload)
	}

	if missing := missingRequired(def, params); len(missing) > 0 {
		return d.reject(call, ToolErrorMissingParams,
			fmt.Sprintf("Tool '%s' missing required parameters: %s", call.Name, strings.Join(missing, ", ")))
	}

	if msg := validateArguments(def, call.Arguments); msg != "" {
		return d.reject(call, ToolErrorInvalidInput,
			fmt.Sprintf("Tool '%s' invalid arguments: %s", call.Name, msg))
	}

	if !discovered.Resolvable() {
		d.logger.Error("tool has no resolvable executable",
			"tool", call.Name,
			"handler", def.HandlerBinding)
		return d.reject(call, ToolErrorUnresolvable,
			fmt.Sprintf("Tool '%s' is registered but its executable could not be resolved", call.Name))
	}

	if def.Async && d.jobs != nil {
		return d.dispatchAsync(ctx, call, discovered, params)
	}

	d.emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      models.ToolEventStarted,
		StartedAt:  time.Now(),
	})

	start := time.Now()
	result := d.invoke(ctx, call, discovered.Runner, params)
	duration := time.Since(start)

	status := "success"
	stage := models.ToolEventSucceeded
	if result.IsError {
		status = "error"
		stage = models.ToolEventFailed
		d.tracer.RecordError(span, errors.New(result.Content))
	}
	d.metrics.RecordToolExecution(call.Name, status, duration)
	d.emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      stage,
		Output:     result.Content,
		StartedAt:  start,
		FinishedAt: start.Add(duration),
	})
	return result
}

// invoke runs the tool executable with a timeout and panic isolation. The
// result channel is buffered so an execution that finishes after timeout does
// not leak its goroutine.
func (d *Dispatcher) invoke(ctx context.Context, call models.ToolCall, runner Tool, params map[string]any) models.ToolResult {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", r,
					"stack", string(debug.Stack()))
				ch <- outcome{err: NewToolError(call.Name, ToolErrorPanic, ErrToolPanic).
					WithMessage(fmt.Sprintf("tool panicked: %v", r))}
			}
		}()
		res, err := runner.Run(tctx, params)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case <-tctx.Done():
		if ctx.Err() != nil {
			return d.errorResult(call, fmt.Sprintf("Tool '%s' canceled: %v", call.Name, ctx.Err()))
		}
		return d.errorResult(call, fmt.Sprintf("Tool '%s' timed out after %s", call.Name, d.timeout))
	case out := <-ch:
		if out.err != nil {
			return d.errorResult(call, fmt.Sprintf("Tool '%s' failed: %v", call.Name, out.err))
		}
		if out.result == nil {
			return d.errorResult(call, fmt.Sprintf("Tool '%s' returned no result", call.Name))
		}
		res := *out.result
		res.ToolCallID = call.ID
		res.ToolName = call.Name
		return res
	}
}

// dispatchAsync queues the execution as a background job and returns a
// pending envelope referencing it.
func (d *Dispatcher) dispatchAsync(ctx context.Context, call models.ToolCall, discovered *DiscoveredTool, params map[string]any) models.ToolResult {
	actx, _ := AgentContextFrom(ctx)
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   call.Name,
		ToolCallID: call.ID,
		FlowStepID: actx.ContextID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		d.logger.Error("failed to queue async tool", "tool", call.Name, "error", err)
		return d.errorResult(call, fmt.Sprintf("Tool '%s' failed to queue: %v", call.Name, err))
	}

	runner := discovered.Runner
	go d.runJob(job, runner, params)

	d.emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      models.ToolEventPending,
		Output:     job.ID,
		StartedAt:  job.CreatedAt,
	})
	d.metrics.RecordToolExecution(call.Name, "pending", 0)

	return models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    fmt.Sprintf("Tool '%s' queued as job %s. Results will be available when the job completes.", call.Name, job.ID),
		Pending:    true,
		JobID:      job.ID,
	}
}

// runJob executes a queued job in the background, detached from the request
// context so loop completion does not cancel it.
func (d *Dispatcher) runJob(job *jobs.Job, runner Tool, params map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	if err := d.jobs.Update(ctx, job); err != nil {
		d.logger.Warn("failed to mark job running", "job", job.ID, "error", err)
	}

	call := models.ToolCall{ID: job.ToolCallID, Name: job.ToolName}
	result := d.invoke(ctx, call, runner, params)

	job.FinishedAt = time.Now()
	job.Result = &result
	if result.IsError {
		job.Status = jobs.StatusFailed
		job.Error = result.Content
	} else {
		job.Status = jobs.StatusSucceeded
	}
	if err := d.jobs.Update(ctx, job); err != nil {
		d.logger.Error("failed to record job result", "job", job.ID, "error", err)
	}
}

func (d *Dispatcher) reject(call models.ToolCall, errType ToolErrorType, message string) models.ToolResult {
	d.logger.Warn("tool call rejected",
		"tool", call.Name,
		"type", string(errType),
		"reason", message)
	d.metrics.RecordToolExecution(call.Name, "error", 0)
	d.emit(models.ToolEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      models.ToolEventRejected,
		Error:      message,
		FinishedAt: time.Now(),
	})
	return models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    message,
		IsError:    true,
		Data:       map[string]any{"error_type": string(errType)},
	}
}

func (d *Dispatcher) errorResult(call models.ToolCall, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    message,
		IsError:    true,
	}
}

func (d *Dispatcher) emit(event models.ToolEvent) {
	if d.events == nil {
		return
	}
	d.events.Emit(event)
}

// missingRequired checks the built parameter map against the definition's
// required list. Engine-injected fields count as present, so a tool requiring
// content_string is satisfied by the payload even when the model omitted it.
func missingRequired(def models.ToolDefinition, params map[string]any) []string {
	var missing []string
	for _, name := range def.RequiredParameters() {
		v, ok := params[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// validateArguments type-checks the model-supplied arguments against the
// definition's parameter schema. Only declared properties are checked; the
// required clause is handled separately because engine-injected parameters
// satisfy it outside the model's arguments. Returns an empty string when valid.
func validateArguments(def models.ToolDefinition, args map[string]any) string {
	if len(def.Parameters) == 0 || len(args) == 0 {
		return ""
	}
	raw := propertySchema(def)
	if raw == nil {
		return ""
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(raw)); err != nil {
		return ""
	}
	schema, err := compiler.Compile("tool.json")
	if err != nil {
		return ""
	}

	// Round-trip through JSON so argument values are canonical JSON types.
	encoded, err := json.Marshal(args)
	if err != nil {
		return err.Error()
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return err.Error()
	}
	if err := schema.Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}

// propertySchema renders the definition schema without its required clause.
func propertySchema(def models.ToolDefinition) []byte {
	var obj map[string]any
	if err := json.Unmarshal(def.Schema(), &obj); err != nil {
		return nil
	}
	delete(obj, "required")
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return raw
}
