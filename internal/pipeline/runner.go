package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/pkg/models"
)

// StepOutcome is the result of running one AI step: the packets to hand to
// the next step plus the underlying loop result for auditing.
type StepOutcome struct {
	Packets []models.DataPacket
	Loop    *engine.LoopResult
}

// StepRunner executes flow AI steps through the conversation loop.
type StepRunner struct {
	loop     *engine.ConversationLoop
	provider engine.Provider
	model    string
	maxTurns int
	logger   *slog.Logger
}

// NewStepRunner creates a runner bound to a provider and model.
func NewStepRunner(loop *engine.ConversationLoop, provider engine.Provider, model string, maxTurns int, logger *slog.Logger) *StepRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRunner{
		loop:     loop,
		provider: provider,
		model:    model,
		maxTurns: maxTurns,
		logger:   logger,
	}
}

// RunStep executes the AI step at the given index. Adjacent steps scope
// handler tool availability: the previous step's tools let the model work
// with fetched data, the next step's tools let it hand off to publishing.
func (r *StepRunner) RunStep(ctx context.Context, flow *models.Flow, stepIndex int, jobID string, packets []models.DataPacket) (*StepOutcome, error) {
	step := flow.StepByIndex(stepIndex)
	if step == nil {
		return nil, fmt.Errorf("flow %s has no step at index %d", flow.ID, stepIndex)
	}
	if step.Type != models.StepAI {
		return nil, fmt.Errorf("step %s is %s, not an AI step", step.ID, step.Type)
	}

	payload := &engine.ExecutionPayload{
		JobID:      jobID,
		FlowStepID: step.ID,
		Packets:    packets,
	}
	if len(packets) > 0 {
		payload.SourceURL = packets[0].Metadata.SourceURL
		payload.ImageURL = packets[0].Metadata.ImageURL
	}

	result := r.loop.Execute(ctx, &engine.ExecuteRequest{
		Provider:  r.provider,
		Model:     r.model,
		Messages:  []models.ConversationMessage{ProjectPackets(packets)},
		Agent:     models.PipelineContext(step.ID),
		Step:      step,
		PrevStep:  flow.StepByIndex(stepIndex - 1),
		NextStep:  flow.StepByIndex(stepIndex + 1),
		Flow:      flow,
		StepIndex: stepIndex,
		Payload:   payload,
		MaxTurns:  r.maxTurns,
	})
	if result.Err != nil {
		return &StepOutcome{Loop: result}, fmt.Errorf("ai step %s: %w", step.ID, result.Err)
	}
	if result.Warning != "" {
		r.logger.Warn("ai step finished with warning",
			"step", step.ID,
			"warning", result.Warning)
	}

	return &StepOutcome{
		Packets: r.outputPackets(step, jobID, packets, result),
		Loop:    result,
	}, nil
}

// outputPackets assembles the step's output: the inputs pass through, the
// model's final text becomes an ai packet, and each tool execution is
// recorded as a tool_result packet.
func (r *StepRunner) outputPackets(step *models.FlowStep, jobID string, inputs []models.DataPacket, result *engine.LoopResult) []models.DataPacket {
	packets := make([]models.DataPacket, 0, len(inputs)+len(result.ToolExecutions)+1)

	if result.FinalContent != "" {
		packets = append(packets, models.DataPacket{
			Type:    "ai",
			Content: result.FinalContent,
			Metadata: models.PacketMetadata{
				JobID:      jobID,
				FlowStepID: step.ID,
			},
		})
	}
	for _, exec := range result.ToolExecutions {
		packets = append(packets, ToolResultPacket(exec.Result, step.ID, jobID))
	}
	return append(packets, inputs...)
}
