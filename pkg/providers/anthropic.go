package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements LLMProvider on the Anthropic Messages API.
// System prompts travel outside the message array and tool results are
// content blocks of a user message, so conversion is done here rather than
// in the orchestrator.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	models       []string
}

type AnthropicConfig struct {
	APIKey       string
	APIBase      string
	DefaultModel string
	Models       []string
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }
func (p *AnthropicProvider) Models() []string     { return p.models }

func (p *AnthropicProvider) SupportsStreaming() bool { return true }

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	params, err := p.buildParams(messages, tools, model, options)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta StreamHandler) (*LLMResponse, error) {
	params, err := p.buildParams(messages, tools, model, options)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
				if onDelta != nil {
					onDelta(textDelta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return fromAnthropicMessage(&message), nil
}

func (p *AnthropicProvider) buildParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (anthropic.MessageNewParams, error) {
	if model == "" {
		model = p.defaultModel
	}

	maxTokens := 8192
	if mt, ok := options["max_tokens"].(int); ok && mt > 0 {
		maxTokens = mt
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if temperature, ok := options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(temperature)
	}

	var systemParts []string
	for _, msg := range messages {
		if msg.Role == "system" {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			name := tc.Name
			input := tc.Arguments
			if name == "" && tc.Function != nil {
				name = tc.Function.Name
			}
			if input == nil && tc.Function != nil && tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return params, fmt.Errorf("invalid tool call arguments for %s: %w", name, err)
				}
			}
			if name == "" {
				continue
			}
			if input == nil {
				input = map[string]interface{}{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}

	for _, tool := range tools {
		schemaJSON, err := json.Marshal(tool.Function.Parameters)
		if err != nil {
			return params, fmt.Errorf("invalid tool schema for %s: %w", tool.Function.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return params, fmt.Errorf("invalid tool schema for %s: %w", tool.Function.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Function.Name)
		if toolParam.OfTool == nil {
			return params, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Function.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Function.Description)
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

func fromAnthropicMessage(msg *anthropic.Message) *LLMResponse {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			arguments := make(map[string]interface{})
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &arguments); err != nil {
					arguments["raw"] = string(v.Input)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: arguments,
			})
		}
	}

	return &LLMResponse{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		FinishReason: string(msg.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}
