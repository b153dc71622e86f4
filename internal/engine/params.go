package engine

import (
	"github.com/datamachine/engine/pkg/models"
)

// ExecutionPayload is the engine-side state snapshot for one loop invocation:
// the data packets flowing into the AI step plus attribution captured from the
// fetch side. Tools receive projections of it, never the payload itself.
type ExecutionPayload struct {
	JobID      string
	FlowStepID string
	Packets    []models.DataPacket

	// SourceURL and ImageURL are attribution carried from the fetched item,
	// injected into handler tool calls.
	SourceURL string
	ImageURL  string
}

// firstPacket returns the leading data packet, which by convention carries the
// content the AI step is working on.
func (p *ExecutionPayload) firstPacket() *models.DataPacket {
	if p == nil || len(p.Packets) == 0 {
		return nil
	}
	return &p.Packets[0]
}

// BuildParameters constructs the flat parameter map for a generic tool call:
// the model's arguments merged with clean content extracted from the payload.
// Engine-injected fields always override same-named keys the model supplied,
// so the model cannot spoof job or step attribution.
func BuildParameters(aiParams map[string]any, payload *ExecutionPayload) map[string]any {
	flat := make(map[string]any, len(aiParams)+4)
	for k, v := range aiParams {
		flat[k] = v
	}
	if packet := payload.firstPacket(); packet != nil {
		flat["content_string"] = packet.Content
		flat["title"] = packet.Title
	}
	if payload != nil {
		if payload.JobID != "" {
			flat["job_id"] = payload.JobID
		}
		if payload.FlowStepID != "" {
			flat["flow_step_id"] = payload.FlowStepID
		}
	}
	return flat
}

// BuildHandlerParameters constructs the parameter map for a handler tool call:
// the generic build plus source attribution, the tool's own definition, and
// the handler configuration snapshot taken at discovery time. Handler tools
// need these to attribute published content and to know their own settings at
// call time.
func BuildHandlerParameters(aiParams map[string]any, payload *ExecutionPayload, def models.ToolDefinition, handlerConfig map[string]any) map[string]any {
	flat := BuildParameters(aiParams, payload)
	if payload != nil {
		if payload.SourceURL != "" {
			flat["source_url"] = payload.SourceURL
		}
		if payload.ImageURL != "" {
			flat["image_url"] = payload.ImageURL
		}
	}
	flat["tool_definition"] = def
	flat["handler_config"] = handlerConfig
	return flat
}
