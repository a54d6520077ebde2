package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Nyukimin/picoagent/pkg/permission"
)

// Schema is a JSON-schema object describing a tool's arguments.
type Schema map[string]interface{}

// ObjectSchema builds the usual {type: object, properties, required} shape.
func ObjectSchema(properties map[string]interface{}, required ...string) Schema {
	s := Schema{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Prop describes one schema property.
func Prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	RequiredPermission() permission.Level
	Execute(ctx context.Context, args map[string]interface{}) ToolResult
}

// ToolResult is the outcome of a single tool call.
type ToolResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func Ok(output interface{}) ToolResult {
	return ToolResult{Success: true, Output: output}
}

func Fail(format string, args ...interface{}) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Text renders the result for a tool-role message: scalar output verbatim,
// anything else JSON-encoded, failures as an error line.
func (r ToolResult) Text() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("'%s' argument is required and must be a string", key)
	}
	return v, nil
}
