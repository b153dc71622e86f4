package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for engine operations
var (
	// ErrNoProvider indicates no AI provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist in the
	// available set for this invocation
	ErrToolNotFound = errors.New("tool not found")

	// ErrUnresolvableTool indicates a tool definition exists but its
	// executable could not be resolved (a registration bug, not a caller error)
	ErrUnresolvableTool = errors.New("tool executable unresolvable")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool execution failures for reporting.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist in the available set
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorUnresolvable indicates the tool's executable binding is missing
	ToolErrorUnresolvable ToolErrorType = "unresolvable"

	// ToolErrorMissingParams indicates required parameters were absent
	ToolErrorMissingParams ToolErrorType = "missing_params"

	// ToolErrorInvalidInput indicates arguments failed schema validation
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"
)

// ToolError represents a structured error from tool dispatch. It is never
// surfaced as a loop error: the dispatcher folds it into a ToolResult envelope
// so the model can see what happened and self-correct.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError for the named tool.
func NewToolError(toolName string, t ToolErrorType, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Type:     t,
		Cause:    cause,
	}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable error message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// LoopPhase represents a distinct phase in the conversation loop lifecycle.
type LoopPhase string

const (
	// PhaseRunning is the provider-call phase
	PhaseRunning LoopPhase = "running"

	// PhaseAwaitingTools is the tool execution phase
	PhaseAwaitingTools LoopPhase = "awaiting_tool_results"

	// PhaseCompleted is natural termination
	PhaseCompleted LoopPhase = "completed"

	// PhaseError is provider-failure termination
	PhaseError LoopPhase = "error"

	// PhaseMaxTurns is turn-budget exhaustion
	PhaseMaxTurns LoopPhase = "max_turns_reached"
)

// LoopError records where in the loop a provider-level failure occurred.
// Only provider call failures become loop errors; tool failures are absorbed
// into the conversation instead.
type LoopError struct {
	Phase LoopPhase
	Turn  int
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (turn %d): %v", e.Phase, e.Turn, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (turn %d)", e.Phase, e.Turn)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}
