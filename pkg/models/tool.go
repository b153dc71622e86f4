package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ParameterSpec describes one parameter of a tool. Order matters: schemas are
// rendered with parameters in declaration order.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, integer, number, boolean, array, object
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolDefinition describes one callable capability exposed to the model.
// Definitions are contributed by tool providers at discovery time and are not
// persisted; only the selection (which tools are enabled or disabled) lives in
// the selection store.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`

	// HandlerBinding associates the tool to a handler slug. Present only for
	// handler-scoped tools; such tools are gated by step adjacency, never by
	// the global opt-out list.
	HandlerBinding string `json:"handler_binding,omitempty"`

	// RequiresConfig means the tool must report itself configured (API keys
	// present, etc.) before the availability gate admits it.
	RequiresConfig bool `json:"requires_config,omitempty"`

	// Async tools queue background work and return a pending marker instead
	// of a final result.
	Async bool `json:"async,omitempty"`
}

// IsHandlerTool reports whether the definition is bound to a handler.
func (d ToolDefinition) IsHandlerTool() bool {
	return d.HandlerBinding != ""
}

// RequiredParameters returns the names of all required parameters in
// declaration order.
func (d ToolDefinition) RequiredParameters() []string {
	var required []string
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Schema renders the parameter list as a JSON schema object suitable for
// passing to providers. Property order follows parameter declaration order.
func (d ToolDefinition) Schema() json.RawMessage {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, p := range d.Parameters {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(p.Name))
		buf.WriteString(`:{"type":`)
		buf.WriteString(strconv.Quote(p.Type))
		if p.Description != "" {
			buf.WriteString(`,"description":`)
			buf.WriteString(strconv.Quote(p.Description))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	if required := d.RequiredParameters(); len(required) > 0 {
		buf.WriteString(`,"required":[`)
		for i, name := range required {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(name))
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes())
}
