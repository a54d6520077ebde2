package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/providers"
	"github.com/Nyukimin/picoagent/pkg/storage"
	"github.com/Nyukimin/picoagent/pkg/stream"
	"github.com/Nyukimin/picoagent/pkg/tools"
)

const (
	retryBackoffUnit  = 100 * time.Millisecond
	simulatedDelay    = 20 * time.Millisecond
	defaultMaxSteps   = 20
	conversationTitle = 48
)

// Orchestrator is the top-level turn controller: it persists messages,
// fits history into the context window, runs the tool-calling loop with
// retry and failover, and drives streaming delivery.
type Orchestrator struct {
	cfg      *config.Config
	manager  *providers.Manager
	store    storage.Store
	executor *tools.Executor
	contexts *ContextManager
	prompts  *PromptBuilder
	streams  *stream.Store
	loop     *AgentLoop
}

func NewOrchestrator(cfg *config.Config, manager *providers.Manager, store storage.Store, executor *tools.Executor, prompts *PromptBuilder, streams *stream.Store) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		manager:  manager,
		store:    store,
		executor: executor,
		prompts:  prompts,
		streams:  streams,
	}
	o.contexts = NewContextManager(cfg.Context, &llmSummarizer{orch: o})

	var planning *PlanningStep
	var reflection *ReflectionStep
	if cfg.Agent.PlanningEnabled {
		planning = NewPlanningStep(&subInvoker{orch: o})
	}
	if cfg.Agent.ReflectionEnabled {
		reflection = NewReflectionStep(&subInvoker{orch: o})
	}
	o.loop = NewAgentLoop(planning, reflection, nil)
	return o
}

func (o *Orchestrator) Loop() *AgentLoop       { return o.loop }
func (o *Orchestrator) Streams() *stream.Store { return o.streams }

// Respond runs one non-streaming turn and returns the assistant's text.
func (o *Orchestrator) Respond(ctx context.Context, conversationID, text, providerName, model string) (string, error) {
	return o.respond(ctx, conversationID, text, providerName, model, nil)
}

// RespondStreaming runs one turn delivering the answer incrementally
// through the stream buffer and the optional per-chunk callback. Setting
// the buffer's cancelled flag stops delivery at the next chunk boundary.
func (o *Orchestrator) RespondStreaming(ctx context.Context, conversationID, text, providerName, model string, onChunk func(delta string)) (string, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return o.respond(ctx, conversationID, text, providerName, model, onChunk)
}

// CancelStream flags the conversation's in-flight stream for cancellation.
func (o *Orchestrator) CancelStream(conversationID string) {
	o.streams.Cancel(conversationID)
}

func (o *Orchestrator) respond(ctx context.Context, conversationID, text, providerName, model string, onChunk func(string)) (string, error) {
	if err := o.ensureConversation(ctx, conversationID, text); err != nil {
		return "", err
	}
	if err := o.store.AppendMessage(ctx, &storage.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        text,
		TokensUsed:     EstimateTokens(text),
	}); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	turn := &turnState{
		orch:         o,
		convID:       conversationID,
		userText:     text,
		providerName: providerName,
		model:        model,
		onChunk:      onChunk,
	}
	execute := func(ctx context.Context, convID, prompt string) (string, error) {
		return turn.run(ctx, prompt)
	}
	loop := NewAgentLoop(o.loop.planning, o.loop.reflection, execute)
	loop.listeners = o.loop.listeners

	result, err := loop.Run(ctx, conversationID, text)
	if err != nil {
		return "", err
	}

	response := result.Response
	if onChunk != nil {
		response = turn.deliver(ctx, response)
	}

	metadata := map[string]interface{}{
		"used_planning": result.UsedPlanning,
	}
	if onChunk != nil {
		metadata["streamed"] = true
		metadata["cancelled"] = o.streams.Get(conversationID).Cancelled
	}
	if err := o.store.AppendMessage(ctx, &storage.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        response,
		TokensUsed:     EstimateTokens(response),
		Metadata:       metadata,
	}); err != nil {
		return "", fmt.Errorf("persist assistant message: %w", err)
	}
	if err := o.store.TouchConversation(ctx, conversationID, time.Now().UTC()); err != nil {
		slog.Warn("failed to bump conversation", "conversation_id", conversationID, "error", err)
	}
	return response, nil
}

func (o *Orchestrator) ensureConversation(ctx context.Context, id, text string) error {
	_, err := o.store.GetConversation(ctx, id)
	if err == nil {
		return nil
	}
	if err != storage.ErrNotFound {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}
	title := text
	if len(title) > conversationTitle {
		title = title[:conversationTitle]
	}
	return o.store.SaveConversation(ctx, &storage.Conversation{
		ID:            id,
		Title:         title,
		LastMessageAt: time.Now().UTC(),
	})
}

// turnState carries one turn's resolved provider and streaming wiring
// through the tool-calling loop.
type turnState struct {
	orch         *Orchestrator
	convID       string
	userText     string
	providerName string
	model        string
	onChunk      func(string)

	streamed bool
}

// run executes the tool-calling loop for one prompt and returns the final
// assistant text. Exceeding max_steps is fatal for the turn.
func (t *turnState) run(ctx context.Context, prompt string) (string, error) {
	o := t.orch

	// Resolve up front so the context window below matches the model that
	// actually serves the turn, not the raw request.
	provider, model, err := o.manager.Resolve(t.resolvedProvider(), t.model)
	if err != nil {
		return "", err
	}
	t.providerName = provider.Name()
	t.model = model

	systemPrompt := o.prompts.Build()

	history, err := t.loadHistory(ctx, prompt)
	if err != nil {
		return "", err
	}

	conv, err := o.store.GetConversation(ctx, t.convID)
	if err != nil {
		return "", fmt.Errorf("load conversation %s: %w", t.convID, err)
	}

	memories, err := o.store.RecallMemories(ctx, o.cfg.Agent.MemoryRecallLimit)
	if err != nil {
		slog.Warn("memory recall failed", "error", err)
	}

	window := o.cfg.ContextWindow(t.providerName, t.model)
	contextMsgs, freshSummary := o.contexts.BuildContextWindow(ctx, systemPrompt, history, window, conv.Summary, memories)
	if freshSummary != "" {
		if err := o.store.SetSummary(ctx, t.convID, freshSummary); err != nil {
			slog.Warn("failed to persist summary", "conversation_id", t.convID, "error", err)
		}
	}

	messages := make([]providers.Message, 0, len(contextMsgs)+1)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, contextMsgs...)

	defs := o.executor.Registry().Definitions()

	maxSteps := o.cfg.Agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	for step := 0; step < maxSteps; step++ {
		resp, err := t.invoke(ctx, messages, defs)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, assistantMessage(resp))
		if err := t.persistAssistantToolCalls(ctx, resp); err != nil {
			return "", err
		}

		for _, call := range resp.ToolCalls {
			name, args := callNameArgs(call)
			result := o.executor.Execute(ctx, t.convID, name, args)
			resultText := result.Text()

			if err := o.store.AppendMessage(ctx, &storage.Message{
				ID:             uuid.NewString(),
				ConversationID: t.convID,
				Role:           "tool",
				Content:        resultText,
				ToolName:       name,
				ToolCallID:     call.ID,
				TokensUsed:     EstimateTokens(resultText),
			}); err != nil {
				return "", fmt.Errorf("persist tool message: %w", err)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
				ToolName:   name,
			})
		}
	}
	return "", fmt.Errorf("tool loop exceeded %d steps for conversation %s", maxSteps, t.convID)
}

// loadHistory returns the persisted transcript as provider messages, with
// the final user entry swapped for the loop's (possibly plan-augmented)
// prompt. Orphaned leading tool messages are dropped so the transcript
// never starts with a result whose call the model cannot see.
func (t *turnState) loadHistory(ctx context.Context, prompt string) ([]providers.Message, error) {
	stored, err := t.orch.store.ListMessages(ctx, t.convID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", t.convID, err)
	}

	history := make([]providers.Message, 0, len(stored))
	for _, m := range stored {
		msg := providers.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		if len(m.ToolCalls) > 0 {
			var calls []providers.ToolCall
			if err := json.Unmarshal(m.ToolCalls, &calls); err == nil {
				msg.ToolCalls = calls
			}
		}
		history = append(history, msg)
	}

	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	if n := len(history); n > 0 && history[n-1].Role == "user" {
		history[n-1].Content = prompt
	} else {
		history = append(history, providers.Message{Role: "user", Content: prompt})
	}
	return history, nil
}

func (t *turnState) persistAssistantToolCalls(ctx context.Context, resp *providers.LLMResponse) error {
	wire := make([]providers.ToolCall, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		call.Function = call.WireFunction()
		call.Type = "function"
		wire = append(wire, call)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	if err := t.orch.store.AppendMessage(ctx, &storage.Message{
		ID:             uuid.NewString(),
		ConversationID: t.convID,
		Role:           "assistant",
		Content:        resp.Content,
		ToolCalls:      raw,
		TokensUsed:     EstimateTokens(resp.Content),
	}); err != nil {
		return fmt.Errorf("persist assistant tool calls: %w", err)
	}
	return nil
}

func (t *turnState) resolvedProvider() string {
	if t.providerName != "" {
		return t.providerName
	}
	return t.orch.cfg.Agent.DefaultProvider
}

// invoke runs one model call with retry, routed through the failover chain
// when one is configured so each candidate gets its own retry budget.
func (t *turnState) invoke(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
	o := t.orch
	if len(o.cfg.Agent.FailoverChain) > 0 {
		return o.manager.Failover(ctx, t.resolvedProvider(), func(ctx context.Context, p providers.LLMProvider) (*providers.LLMResponse, error) {
			_, model, err := o.manager.Resolve(p.Name(), t.model)
			if err != nil {
				return nil, err
			}
			return t.invokeWithRetry(ctx, p, model, messages, defs)
		})
	}

	p, model, err := o.manager.Resolve(t.resolvedProvider(), t.model)
	if err != nil {
		return nil, err
	}
	o.manager.RecordRequest(p.Name())
	return t.invokeWithRetry(ctx, p, model, messages, defs)
}

func (t *turnState) invokeWithRetry(ctx context.Context, p providers.LLMProvider, model string, messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
	o := t.orch
	options := map[string]interface{}{
		"max_tokens":  o.cfg.Agent.MaxTokens,
		"temperature": o.cfg.Agent.Temperature,
	}

	attempts := o.cfg.Agent.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := t.call(ctx, p, model, messages, defs, options)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("model invocation failed",
			"provider", p.Name(), "model", model, "attempt", attempt, "error", err)
		if attempt < attempts {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoffUnit):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("provider %s failed after %d attempts: %w", p.Name(), attempts, lastErr)
}

// call uses native streaming when the turn streams and the provider can;
// otherwise a plain chat call. Streamed deltas go straight to the buffer
// and cancelling the buffer cancels the in-flight stream.
func (t *turnState) call(ctx context.Context, p providers.LLMProvider, model string, messages []providers.Message, defs []providers.ToolDefinition, options map[string]interface{}) (*providers.LLMResponse, error) {
	if t.onChunk == nil || !providers.SupportsStreaming(p) {
		return p.Chat(ctx, messages, defs, model, options)
	}

	o := t.orch
	if !t.streamed {
		o.streams.Clear(t.convID)
		o.streams.Start(t.convID)
		t.streamed = true
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resp, err := p.ChatStream(streamCtx, messages, defs, model, options, func(delta string) {
		if !o.streams.Append(t.convID, delta) {
			cancel()
			return
		}
		t.onChunk(delta)
	})
	if err != nil && o.streams.Get(t.convID).Cancelled {
		return &providers.LLMResponse{
			Content:      o.streams.Get(t.convID).Content,
			FinishReason: "cancelled",
		}, nil
	}
	return resp, err
}

// deliver finishes the streaming turn. Natively streamed text was already
// appended chunk by chunk; a non-streaming backend's answer is replayed
// word by word with a small fixed delay to simulate streaming. Either way
// the returned text is what actually reached the buffer, so a cancelled
// stream persists only the partial content.
func (t *turnState) deliver(ctx context.Context, response string) string {
	o := t.orch

	if t.streamed {
		buf := o.streams.Get(t.convID)
		o.streams.Complete(t.convID)
		if buf.Cancelled {
			return buf.Content
		}
		return response
	}

	o.streams.Clear(t.convID)
	o.streams.Start(t.convID)
	words := strings.SplitAfter(response, " ")
	for _, w := range words {
		if o.streams.IsCancelled(t.convID) || ctx.Err() != nil {
			break
		}
		if !o.streams.Append(t.convID, w) {
			break
		}
		t.onChunk(w)
		time.Sleep(simulatedDelay)
	}
	buf := o.streams.Get(t.convID)
	o.streams.Complete(t.convID)
	if buf.Cancelled {
		return buf.Content
	}
	return response
}

func assistantMessage(resp *providers.LLMResponse) providers.Message {
	return providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}

// callNameArgs normalizes a tool call between its parsed and wire forms.
func callNameArgs(call providers.ToolCall) (string, map[string]interface{}) {
	name := call.Name
	args := call.Arguments
	if name == "" && call.Function != nil {
		name = call.Function.Name
	}
	if args == nil && call.Function != nil && call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"raw": call.Function.Arguments}
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return name, args
}

// subInvoker runs a bare, tool-free model call for planning and reflection
// sub-steps.
type subInvoker struct {
	orch *Orchestrator
}

func (s *subInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	o := s.orch
	p, model, err := o.manager.Resolve(o.cfg.Agent.DefaultProvider, o.cfg.Agent.DefaultModel)
	if err != nil {
		return "", err
	}
	resp, err := p.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.3,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// llmSummarizer condenses dropped history through the default provider.
type llmSummarizer struct {
	orch *Orchestrator
}

func (s *llmSummarizer) Summarize(ctx context.Context, dropped []providers.Message) (string, error) {
	var sb strings.Builder
	for _, m := range dropped {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	prompt := "Summarize the following conversation excerpt in a few sentences, keeping decisions and open tasks:\n\n" + sb.String()
	return (&subInvoker{orch: s.orch}).Invoke(ctx, prompt)
}
