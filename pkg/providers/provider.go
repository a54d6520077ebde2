package providers

import (
	"context"
	"encoding/json"
)

// Message is one entry of the provider-facing transcript. Assistant messages
// may carry tool-call descriptors; tool messages carry the result keyed by
// the originating call id.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// FunctionCall is the wire form of a requested tool invocation.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall carries both the wire form (Type/Function, used when echoing an
// assistant message back to the provider) and the parsed form (Name/Arguments,
// used by the tool pipeline).
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type,omitempty"`
	Function *FunctionCall `json:"function,omitempty"`

	Name      string                 `json:"-"`
	Arguments map[string]interface{} `json:"-"`
}

// WireFunction returns the call in wire form, synthesizing it from the
// parsed form when needed. Nil means the call names no function at all.
func (tc ToolCall) WireFunction() *FunctionCall {
	if tc.Function != nil {
		return tc.Function
	}
	if tc.Name == "" {
		return nil
	}
	args := "{}"
	if tc.Arguments != nil {
		if raw, err := json.Marshal(tc.Arguments); err == nil {
			args = string(raw)
		}
	}
	return &FunctionCall{Name: tc.Name, Arguments: args}
}

// ToolDefinition is the JSON-schema-described tool contract sent to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// StreamHandler receives text deltas as the provider produces them.
type StreamHandler func(delta string)

// LLMProvider is the abstraction over one model backend.
//
// ChatStream delivers text deltas through onDelta as they arrive and returns
// the assembled response. Backends without native streaming fall back to a
// single Chat call; the orchestrator simulates chunked delivery in that case.
type LLMProvider interface {
	Name() string
	DefaultModel() string
	// Models returns the known model list. Empty means unknown (a locally
	// probed runtime, or a catalog-less gateway) and any model is accepted.
	Models() []string
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta StreamHandler) (*LLMResponse, error)
}

// SupportsStreaming reports whether the provider has a native streaming path.
// Providers without one implement ChatStream as a plain Chat call.
type streamCapable interface {
	SupportsStreaming() bool
}

func SupportsStreaming(p LLMProvider) bool {
	if sc, ok := p.(streamCapable); ok {
		return sc.SupportsStreaming()
	}
	return false
}
