package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/providers"
	"github.com/Nyukimin/picoagent/pkg/storage"
)

func defaultFractions() config.ContextConfig {
	return config.ContextConfig{
		SystemFraction:   0.15,
		MemoriesFraction: 0.10,
		SummaryFraction:  0.10,
		MessagesFraction: 0.60,
		ReserveFraction:  0.05,
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 1},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 100), 25},
		{strings.Repeat("x", 101), 26},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestAllocateBudget_SumsToWindow(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	for _, window := range []int{100, 1000, 4096, 32768, 7} {
		b := cm.AllocateBudget(window)
		sum := b.SystemPrompt + b.Memories + b.Summary + b.Messages + b.Reserve
		if sum != window {
			t.Errorf("window %d: buckets sum to %d", window, sum)
		}
	}
}

func TestAllocateBudget_LeftoverGoesToMessages(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	b := cm.AllocateBudget(1000)
	if b.Messages < 600 {
		t.Errorf("messages bucket %d, want at least 600", b.Messages)
	}
	if b.Reserve != 50 {
		t.Errorf("reserve = %d, want 50", b.Reserve)
	}
}

func TestCompressToolResults(t *testing.T) {
	long := strings.Repeat("line of output\n", 30)
	jsonPayload := `{"a": 1, "b": 2, "c": "` + strings.Repeat("x", 300) + `"}`

	msgs := []providers.Message{
		{Role: "user", Content: strings.Repeat("u", 500)},
		{Role: "tool", ToolName: "exec", Content: "Exit: 0\n" + long},
		{Role: "tool", Content: jsonPayload},
		{Role: "tool", Content: "short"},
		{Role: "assistant", ToolName: "read_file", Content: "File: main.go\n" + long},
	}

	cm := NewContextManager(defaultFractions(), nil)
	out := cm.CompressToolResults(msgs)

	if out[0].Content != msgs[0].Content {
		t.Error("non-tool message was compressed")
	}
	if !strings.Contains(out[1].Content, "exit 0") {
		t.Errorf("exec output not summarized by exit code: %q", out[1].Content)
	}
	if !strings.Contains(out[2].Content, "JSON with 3 keys") {
		t.Errorf("json output not summarized by key count: %q", out[2].Content)
	}
	if out[3].Content != "short" {
		t.Error("short tool output should pass through")
	}
	if !strings.Contains(out[4].Content, "main.go") || !strings.Contains(out[4].Content, "go") {
		t.Errorf("file output not summarized: %q", out[4].Content)
	}
}

func TestCompressToolResults_Idempotent(t *testing.T) {
	msgs := []providers.Message{
		{Role: "tool", ToolName: "exec", Content: "Exit: 1\n" + strings.Repeat("e", 500)},
		{Role: "tool", Content: strings.Repeat("plain text ", 40)},
	}
	cm := NewContextManager(defaultFractions(), nil)
	once := cm.CompressToolResults(msgs)
	twice := cm.CompressToolResults(once)
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Errorf("message %d changed on second compression:\n once: %q\ntwice: %q",
				i, once[i].Content, twice[i].Content)
		}
	}
}

func TestBuildContextWindow_RecencyPriority(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	var history []providers.Message
	for i := 0; i < 50; i++ {
		history = append(history, providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("message %02d %s", i, strings.Repeat("x", 85)),
		})
	}

	out, _ := cm.BuildContextWindow(context.Background(), "sys", history, 1000, "", nil)

	var kept []providers.Message
	for _, m := range out {
		if m.Role != "system" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 || len(kept) >= 50 {
		t.Fatalf("expected a strict subset, kept %d of 50", len(kept))
	}
	// The kept subset must be exactly the newest suffix, in order.
	last := history[len(history)-len(kept):]
	for i := range kept {
		if kept[i].Content != last[i].Content {
			t.Fatalf("kept[%d] is not part of the newest suffix", i)
		}
	}
}

func TestBuildContextWindow_BudgetBound(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	var history []providers.Message
	for i := 0; i < 200; i++ {
		history = append(history, providers.Message{Role: "user", Content: strings.Repeat("y", 120)})
	}
	system := strings.Repeat("s", 200)
	window := 1000

	out, _ := cm.BuildContextWindow(context.Background(), system, history, window, "stored summary", nil)

	total := EstimateTokens(system)
	for _, m := range out {
		total += EstimateTokens(m.Content)
	}
	reserve := cm.AllocateBudget(window).Reserve
	if len(out) > 1 && total > window-reserve {
		t.Errorf("total %d tokens exceeds window-reserve %d", total, window-reserve)
	}
}

func TestBuildContextWindow_OversizedMessageDropped(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	huge := providers.Message{Role: "user", Content: strings.Repeat("z", 10000)}
	small := providers.Message{Role: "user", Content: "hello"}

	out, _ := cm.BuildContextWindow(context.Background(), "sys", []providers.Message{huge, small}, 1000, "", nil)
	for _, m := range out {
		if len(m.Content) >= 10000 {
			t.Error("oversized message should be dropped, not partially included")
		}
	}
}

type fakeSummarizer struct {
	called  bool
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, dropped []providers.Message) (string, error) {
	f.called = true
	return f.summary, f.err
}

func TestBuildContextWindow_TruncationScenario(t *testing.T) {
	// window=1000, messages budget=600 tokens; 50 messages of ~100 chars
	// (~26 tokens) mean the newest ~23 fit and >10 drop, which triggers
	// the summarizer.
	summarizer := &fakeSummarizer{summary: "earlier discussion covered setup"}
	cm := NewContextManager(defaultFractions(), summarizer)

	var history []providers.Message
	for i := 0; i < 50; i++ {
		history = append(history, providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("msg %02d %s", i, strings.Repeat("a", 93)),
		})
	}

	out, fresh := cm.BuildContextWindow(context.Background(), "sys", history, 1000, "", nil)

	if !summarizer.called {
		t.Fatal("summarizer was not consulted")
	}
	if fresh == "" {
		t.Error("fresh summary should be surfaced to the caller")
	}
	found := false
	for _, m := range out {
		if m.Role == "system" && strings.HasPrefix(m.Content, "Conversation summary:") {
			found = true
		}
	}
	if !found {
		t.Error("expected a synthesized conversation summary line")
	}

	kept := 0
	for _, m := range out {
		if m.Role != "system" {
			kept++
		}
	}
	if kept < 20 || kept > 26 {
		t.Errorf("kept %d history messages, expected roughly 23", kept)
	}
}

func TestBuildContextWindow_StoredSummarySkipsSummarizer(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "should not be used"}
	cm := NewContextManager(defaultFractions(), summarizer)

	var history []providers.Message
	for i := 0; i < 50; i++ {
		history = append(history, providers.Message{Role: "user", Content: strings.Repeat("b", 100)})
	}
	out, fresh := cm.BuildContextWindow(context.Background(), "sys", history, 1000, "already summarized", nil)

	if summarizer.called {
		t.Error("summarizer should not run when a summary is stored")
	}
	if fresh != "" {
		t.Error("no fresh summary expected")
	}
	found := false
	for _, m := range out {
		if strings.Contains(m.Content, "already summarized") {
			found = true
		}
	}
	if !found {
		t.Error("stored summary line missing from context")
	}
}

func TestBuildContextWindow_Memories(t *testing.T) {
	cm := NewContextManager(defaultFractions(), nil)
	memories := []*storage.Memory{
		{Content: "user prefers short answers", Confidence: 0.9},
		{Content: "project uses Go", Confidence: 0.8},
	}
	out, _ := cm.BuildContextWindow(context.Background(), "sys",
		[]providers.Message{{Role: "user", Content: "hi"}}, 1000, "", memories)

	if len(out) == 0 || !strings.HasPrefix(out[0].Content, "Relevant memories:") {
		t.Fatal("memories line missing or misplaced")
	}
	if !strings.Contains(out[0].Content, "project uses Go") {
		t.Error("memory content missing from rendered line")
	}
}
