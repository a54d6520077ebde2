package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider talks to any OpenAI-compatible chat completions endpoint.
// It covers hosted gateways and self-hosted runtimes alike; provider-specific
// SDK clients exist only where the wire format diverges.
type HTTPProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	models       []string
	httpClient   *http.Client
}

func NewHTTPProvider(name, apiKey, apiBase, proxy string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			}
		}
	}

	return &HTTPProvider{
		name:       name,
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: client,
	}
}

// SetDefaultModel sets the model used when a request names none.
func (p *HTTPProvider) SetDefaultModel(model string) { p.defaultModel = model }

// SetModels sets the known model catalog.
func (p *HTTPProvider) SetModels(models []string) { p.models = models }

func (p *HTTPProvider) Name() string         { return p.name }
func (p *HTTPProvider) DefaultModel() string { return p.defaultModel }
func (p *HTTPProvider) Models() []string     { return p.models }

func (p *HTTPProvider) SupportsStreaming() bool { return true }

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	body, err := p.send(ctx, messages, tools, model, options, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return p.parseResponse(raw)
}

// ChatStream sends the same request with stream enabled and forwards each
// text delta to onDelta. Tool-call deltas are accumulated and returned in the
// assembled response.
func (p *HTTPProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta StreamHandler) (*LLMResponse, error) {
	body, err := p.send(ctx, messages, tools, model, options, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return p.readStream(body, onDelta)
}

func (p *HTTPProvider) send(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, stream bool) (io.ReadCloser, error) {
	if p.apiBase == "" {
		return nil, fmt.Errorf("API base not configured for provider %s", p.name)
	}
	if model == "" {
		model = p.defaultModel
	}

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": buildHTTPMessages(messages),
	}
	if stream {
		requestBody["stream"] = true
	}

	if len(tools) > 0 {
		requestBody["tools"] = tools
		requestBody["tool_choice"] = "auto"
	}

	if maxTokens, ok := options["max_tokens"].(int); ok {
		requestBody["max_tokens"] = maxTokens
	}
	if temperature, ok := options["temperature"].(float64); ok {
		requestBody["temperature"] = temperature
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	slog.Debug("llm request sent",
		"provider", p.name,
		"endpoint", p.apiBase+"/chat/completions",
		"model", model,
		"messages_count", len(messages),
		"tools_count", len(tools),
		"stream", stream)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Warn("llm request failed",
			"provider", p.name,
			"model", model,
			"error", err,
			"is_timeout", isTimeoutError(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

func buildHTTPMessages(messages []Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		entry := map[string]interface{}{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				fn := tc.WireFunction()
				if fn == nil {
					continue
				}
				calls = append(calls, map[string]interface{}{
					"id":       tc.ID,
					"type":     "function",
					"function": fn,
				})
			}
			entry["tool_calls"] = calls
		}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		out = append(out, entry)
	}
	return out
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded")
}

type httpToolCallPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (p *HTTPProvider) parseResponse(body []byte) (*LLMResponse, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content   string                `json:"content"`
				ToolCalls []httpToolCallPayload `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *UsageInfo `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop"}, nil
	}

	choice := apiResponse.Choices[0]
	return &LLMResponse{
		Content:      choice.Message.Content,
		ToolCalls:    parseHTTPToolCalls(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage:        apiResponse.Usage,
	}, nil
}

func parseHTTPToolCalls(payloads []httpToolCallPayload) []ToolCall {
	toolCalls := make([]ToolCall, 0, len(payloads))
	for _, tc := range payloads {
		if tc.Function == nil {
			continue
		}
		arguments := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &arguments); err != nil {
				arguments["raw"] = tc.Function.Arguments
			}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: arguments,
		})
	}
	return toolCalls
}

// readStream consumes an SSE stream of chat completion chunks. Text deltas go
// to onDelta; tool-call fragments are accumulated by index until the stream
// finishes.
func (p *HTTPProvider) readStream(body io.Reader, onDelta StreamHandler) (*LLMResponse, error) {
	type toolCallAccum struct {
		id        string
		name      string
		arguments strings.Builder
	}

	var content strings.Builder
	var finishReason string
	accums := map[int]*toolCallAccum{}
	maxIndex := -1

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function *struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := accums[tc.Index]
			if !ok {
				acc = &toolCallAccum{}
				accums[tc.Index] = acc
			}
			if tc.Index > maxIndex {
				maxIndex = tc.Index
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function != nil {
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.arguments.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	var toolCalls []ToolCall
	for i := 0; i <= maxIndex; i++ {
		acc, ok := accums[i]
		if !ok {
			continue
		}
		arguments := make(map[string]interface{})
		if raw := acc.arguments.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
				arguments["raw"] = raw
			}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: arguments,
		})
	}

	if finishReason == "" {
		finishReason = "stop"
	}
	return &LLMResponse{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
	}, nil
}
