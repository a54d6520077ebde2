package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/providers"
	"github.com/Nyukimin/picoagent/pkg/storage"
)

const (
	compressThreshold = 200
	summaryMinDropped = 10
	trimStep          = 25
)

// Budget is the token allocation for one context window. The five buckets
// always sum to the window: flooring leftovers land in Messages.
type Budget struct {
	SystemPrompt int
	Memories     int
	Summary      int
	Messages     int
	Reserve      int
}

// Summarizer condenses dropped history into a short summary. Consulted only
// when enough messages fell out of the window.
type Summarizer interface {
	Summarize(ctx context.Context, dropped []providers.Message) (string, error)
}

// ContextManager fits a conversation into a model's context window:
// compress tool results, rank recency over completeness, and leave the
// reserve bucket untouched for the model's reply.
type ContextManager struct {
	fractions  config.ContextConfig
	summarizer Summarizer
}

func NewContextManager(fractions config.ContextConfig, summarizer Summarizer) *ContextManager {
	return &ContextManager{fractions: fractions, summarizer: summarizer}
}

// EstimateTokens is ceil(len/4) with a floor of 1. A cheap deterministic
// proxy for real tokenization; all budget math uses it so the numbers stay
// self-consistent even when inexact.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// AllocateBudget splits the window across the five buckets.
func (cm *ContextManager) AllocateBudget(window int) Budget {
	b := Budget{
		SystemPrompt: int(float64(window) * cm.fractions.SystemFraction),
		Memories:     int(float64(window) * cm.fractions.MemoriesFraction),
		Summary:      int(float64(window) * cm.fractions.SummaryFraction),
		Messages:     int(float64(window) * cm.fractions.MessagesFraction),
		Reserve:      int(float64(window) * cm.fractions.ReserveFraction),
	}
	leftover := window - b.SystemPrompt - b.Memories - b.Summary - b.Messages - b.Reserve
	b.Messages += leftover
	return b
}

// CompressToolResults replaces long tool outputs with one-line summaries.
// Lossy on purpose: detail is traded for a bounded prompt footprint.
// Already-short or already-compressed content passes through unchanged, so
// applying it twice equals applying it once.
func (cm *ContextManager) CompressToolResults(messages []providers.Message) []providers.Message {
	out := make([]providers.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if !isToolAttributed(msg) || len(msg.Content) <= compressThreshold {
			continue
		}
		out[i].Content = summarizeToolOutput(msg.ToolName, msg.Content)
	}
	return out
}

func isToolAttributed(msg providers.Message) bool {
	return msg.Role == "tool" || msg.ToolName != ""
}

func summarizeToolOutput(toolName, content string) string {
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return fmt.Sprintf("[tool output: JSON with %d keys] %s", len(obj), preview(trimmed, 80))
		}
		var arr []interface{}
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return fmt.Sprintf("[tool output: JSON array with %d items] %s", len(arr), preview(trimmed, 80))
		}
	}

	if idx := strings.Index(trimmed, "File:"); idx >= 0 {
		line := firstLine(trimmed[idx:])
		path := strings.TrimSpace(strings.TrimPrefix(line, "File:"))
		if cut := strings.IndexAny(path, " ("); cut > 0 {
			path = path[:cut]
		}
		return fmt.Sprintf("[tool output: %s, %d lines, %s]", path, countLines(trimmed), languageOf(path))
	}

	if strings.Contains(trimmed, "Exit:") || toolName == "bash" || toolName == "exec" {
		exit := "?"
		if idx := strings.Index(trimmed, "Exit:"); idx >= 0 {
			exit = strings.TrimSpace(firstLine(trimmed[idx+len("Exit:"):]))
		}
		return fmt.Sprintf("[command output: exit %s] %s", exit, preview(firstLine(trimmed), 80))
	}

	return fmt.Sprintf("[tool output compressed: %d lines] %s", countLines(trimmed), preview(firstLine(trimmed), 80))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func countLines(s string) int {
	return strings.Count(s, "\n") + 1
}

func preview(s string, max int) string {
	s = firstLine(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func languageOf(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".ts"):
		return "javascript"
	case strings.HasSuffix(path, ".md"):
		return "markdown"
	case strings.HasSuffix(path, ".json"):
		return "json"
	case strings.HasSuffix(path, ".sh"):
		return "shell"
	default:
		return "text"
	}
}

// BuildContextWindow assembles the prompt messages for one model call.
// History is walked newest-first so recency always wins over completeness;
// memory and summary lines are trimmed down to their buckets; a final pass
// drops the oldest non-system messages until everything fits inside
// window minus reserve. The result only exceeds that bound when a single
// irreducible message remains. The second return value is a freshly
// generated summary, non-empty only when the summarizer was consulted, so
// the caller can persist it.
func (cm *ContextManager) BuildContextWindow(ctx context.Context, systemPrompt string, messages []providers.Message, window int, summary string, memories []*storage.Memory) ([]providers.Message, string) {
	budget := cm.AllocateBudget(window)
	compressed := cm.CompressToolResults(messages)

	memoryLine := cm.renderMemories(memories, budget.Memories)

	kept, dropped := keepNewest(compressed, budget.Messages)

	freshSummary := ""
	if len(dropped) > 0 && summary == "" && cm.summarizer != nil && len(dropped) > summaryMinDropped {
		s, err := cm.summarizer.Summarize(ctx, dropped)
		if err != nil {
			slog.Debug("summarizer failed, continuing without summary", "error", err)
		} else {
			summary = s
			freshSummary = s
		}
	}

	summaryLine := ""
	if summary != "" {
		summaryLine = trimToBudget("Conversation summary: "+summary, budget.Summary)
	}

	var out []providers.Message
	if memoryLine != "" {
		out = append(out, providers.Message{Role: "system", Content: memoryLine})
	}
	if summaryLine != "" {
		out = append(out, providers.Message{Role: "system", Content: summaryLine})
	}
	out = append(out, kept...)

	limit := window - budget.Reserve
	for totalTokens(systemPrompt, out) > limit && len(out) > 1 {
		idx := oldestNonSystem(out)
		if idx < 0 {
			break
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, freshSummary
}

func (cm *ContextManager) renderMemories(memories []*storage.Memory, budget int) string {
	if len(memories) == 0 {
		return ""
	}
	var parts []string
	for _, m := range memories {
		parts = append(parts, m.Content)
	}
	return trimToBudget("Relevant memories: "+strings.Join(parts, "; "), budget)
}

// trimToBudget shaves characters off the end until the line fits. If
// trimming would erase all content past the prefix, the line is dropped.
func trimToBudget(line string, budget int) string {
	colon := strings.Index(line, ": ")
	prefixLen := 0
	if colon >= 0 {
		prefixLen = colon + 2
	}
	for EstimateTokens(line) > budget {
		if len(line)-trimStep <= prefixLen {
			return ""
		}
		line = line[:len(line)-trimStep]
	}
	return line
}

// keepNewest returns the longest suffix of messages whose cumulative
// estimated tokens fit the budget, in chronological order, plus the
// dropped prefix. A message larger than the whole budget is dropped, never
// partially included.
func keepNewest(messages []providers.Message, budget int) (kept, dropped []providers.Message) {
	total := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		t := EstimateTokens(messages[i].Content)
		if total+t > budget {
			break
		}
		total += t
		cut = i
	}
	return messages[cut:], messages[:cut]
}

func totalTokens(systemPrompt string, messages []providers.Message) int {
	total := EstimateTokens(systemPrompt)
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

func oldestNonSystem(messages []providers.Message) int {
	for i, m := range messages {
		if m.Role != "system" {
			return i
		}
	}
	return -1
}
