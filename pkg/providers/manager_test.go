package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/ratelimit"
)

type stubProvider struct {
	name         string
	defaultModel string
	models       []string
}

func (p *stubProvider) Name() string         { return p.name }
func (p *stubProvider) DefaultModel() string { return p.defaultModel }
func (p *stubProvider) Models() []string     { return p.models }

func (p *stubProvider) Chat(_ context.Context, _ []Message, _ []ToolDefinition, _ string, _ map[string]interface{}) (*LLMResponse, error) {
	return &LLMResponse{Content: p.name}, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onDelta StreamHandler) (*LLMResponse, error) {
	return p.Chat(ctx, messages, tools, model, options)
}

func managerWith(cfg *config.Config, limiter *ratelimit.Limiter, provs ...LLMProvider) *Manager {
	m := NewManager(cfg, limiter)
	for _, p := range provs {
		m.Register(p)
	}
	return m
}

func TestResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.DefaultProvider = "openai"
	cfg.Agent.DefaultModel = "gpt-4o"

	openai := &stubProvider{name: "openai", defaultModel: "gpt-4o-mini", models: []string{"gpt-4o", "gpt-4o-mini"}}
	ollama := &stubProvider{name: "ollama", defaultModel: "llama3"}
	m := managerWith(cfg, nil, openai, ollama)

	tests := []struct {
		name         string
		provider     string
		model        string
		wantProvider string
		wantModel    string
	}{
		{"both valid", "openai", "gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"empty catalog accepts any model", "ollama", "mistral", "ollama", "mistral"},
		{"unknown model falls back to global default", "openai", "gpt-99", "openai", "gpt-4o"},
		{"empty model falls back to global default", "openai", "", "openai", "gpt-4o"},
		{"unknown provider falls back to default provider", "gemini", "gpt-4o", "openai", "gpt-4o"},
		{"empty model on catalog-free provider uses declared default", "ollama", "", "ollama", "llama3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, model, err := m.Resolve(tt.provider, tt.model)
			if err != nil {
				t.Fatal(err)
			}
			if p.Name() != tt.wantProvider || model != tt.wantModel {
				t.Errorf("Resolve(%q, %q) = (%s, %s), want (%s, %s)",
					tt.provider, tt.model, p.Name(), model, tt.wantProvider, tt.wantModel)
			}
		})
	}
}

func TestResolve_GlobalDefaultNotInCatalogUsesProviderDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.DefaultProvider = "anthropic"
	cfg.Agent.DefaultModel = "gpt-4o"

	anthropic := &stubProvider{name: "anthropic", defaultModel: "claude-sonnet", models: []string{"claude-sonnet", "claude-haiku"}}
	m := managerWith(cfg, nil, anthropic)

	_, model, err := m.Resolve("anthropic", "no-such-model")
	if err != nil {
		t.Fatal(err)
	}
	if model != "claude-sonnet" {
		t.Errorf("model = %q, want the provider's declared default", model)
	}
}

func TestFailover_Order(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.FailoverChain = []string{"anthropic", "openai", "gemini"}

	m := managerWith(cfg, nil,
		&stubProvider{name: "openai"},
		&stubProvider{name: "anthropic"},
		&stubProvider{name: "gemini"},
	)

	var tried []string
	_, err := m.Failover(context.Background(), "openai", func(_ context.Context, p LLMProvider) (*LLMResponse, error) {
		tried = append(tried, p.Name())
		return nil, errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected the last failure to propagate, got %v", err)
	}
	want := []string{"openai", "anthropic", "gemini"}
	if len(tried) != len(want) {
		t.Fatalf("tried %v, want %v", tried, want)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Fatalf("tried %v, want %v (primary pinned to front, duplicates removed)", tried, want)
		}
	}
}

func TestFailover_FirstSuccessWins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.FailoverChain = []string{"anthropic", "gemini"}

	m := managerWith(cfg, nil,
		&stubProvider{name: "openai"},
		&stubProvider{name: "anthropic"},
		&stubProvider{name: "gemini"},
	)

	resp, err := m.Failover(context.Background(), "openai", func(_ context.Context, p LLMProvider) (*LLMResponse, error) {
		if p.Name() == "anthropic" {
			return &LLMResponse{Content: "from anthropic"}, nil
		}
		return nil, errors.New("down")
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from anthropic" {
		t.Errorf("resp = %q", resp.Content)
	}
}

func TestFailover_SkipsRateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.FailoverChain = []string{"anthropic", "gemini"}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Minute, 1)
	m := managerWith(cfg, limiter,
		&stubProvider{name: "openai"},
		&stubProvider{name: "anthropic"},
		&stubProvider{name: "gemini"},
	)
	// Exhaust openai's window so the chain starts at anthropic.
	m.RecordRequest("openai")

	var tried []string
	_, _ = m.Failover(context.Background(), "openai", func(_ context.Context, p LLMProvider) (*LLMResponse, error) {
		tried = append(tried, p.Name())
		return nil, errors.New("down")
	})
	for _, name := range tried {
		if name == "openai" {
			t.Fatalf("rate-limited provider was tried: %v", tried)
		}
	}
	if len(tried) != 2 {
		t.Fatalf("tried %v, want the two remaining providers", tried)
	}
}
