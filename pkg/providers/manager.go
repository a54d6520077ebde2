package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/ratelimit"
)

// Manager owns the registered providers, resolves (provider, model) pairs
// and runs the failover chain with per-provider rate limiting.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
	cfg       *config.Config
	limiter   *ratelimit.Limiter
}

func NewManager(cfg *config.Config, limiter *ratelimit.Limiter) *Manager {
	return &Manager{
		providers: make(map[string]LLMProvider),
		cfg:       cfg,
		limiter:   limiter,
	}
}

func (m *Manager) Register(p LLMProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[strings.ToLower(p.Name())] = p
}

func (m *Manager) Get(name string) (LLMProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[strings.ToLower(name)]
	return p, ok
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Resolve picks a usable (provider, model) pair. An unknown provider falls
// back to the configured default provider. The model falls back, in order:
// requested model when the provider knows it (or publishes no catalog),
// global default model when the provider knows it, the provider's declared
// default, the first catalog entry, and finally the global default verbatim.
func (m *Manager) Resolve(providerName, model string) (LLMProvider, string, error) {
	if providerName == "" {
		providerName = m.cfg.Agent.DefaultProvider
	}
	p, ok := m.Get(providerName)
	if !ok {
		fallback := m.cfg.Agent.DefaultProvider
		if p, ok = m.Get(fallback); !ok {
			return nil, "", fmt.Errorf("provider %q not registered and default %q unavailable", providerName, fallback)
		}
		slog.Debug("provider not found, using default", "requested", providerName, "default", fallback)
	}

	known := p.Models()
	if model != "" && (len(known) == 0 || contains(known, model)) {
		return p, model, nil
	}
	if def := m.cfg.Agent.DefaultModel; def != "" && contains(known, def) {
		return p, def, nil
	}
	if def := p.DefaultModel(); def != "" {
		return p, def, nil
	}
	if len(known) > 0 {
		return p, known[0], nil
	}
	if def := m.cfg.Agent.DefaultModel; def != "" {
		return p, def, nil
	}
	return nil, "", fmt.Errorf("no model available for provider %q", p.Name())
}

// RecordRequest counts one request against the provider's rate window.
func (m *Manager) RecordRequest(provider string) {
	if m.limiter != nil {
		m.limiter.Record(strings.ToLower(provider))
	}
}

func (m *Manager) IsRateLimited(provider string) bool {
	if m.limiter == nil {
		return false
	}
	return m.limiter.IsLimited(strings.ToLower(provider))
}

// Failover tries the primary provider and then the configured chain in
// order, skipping duplicates and rate-limited candidates. The last failure
// is returned when every candidate is exhausted.
func (m *Manager) Failover(ctx context.Context, primary string, action func(ctx context.Context, p LLMProvider) (*LLMResponse, error)) (*LLMResponse, error) {
	chain := m.failoverChain(primary)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}

	var lastErr error
	for _, name := range chain {
		if m.IsRateLimited(name) {
			slog.Warn("skipping rate-limited provider", "provider", name)
			continue
		}
		p, ok := m.Get(name)
		if !ok {
			continue
		}
		m.RecordRequest(name)
		resp, err := action(ctx, p)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next in chain", "provider", name, "error", err)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("all providers in failover chain rate-limited or unavailable")
	}
	return nil, lastErr
}

func (m *Manager) failoverChain(primary string) []string {
	seen := make(map[string]bool)
	var chain []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}
	add(primary)
	for _, name := range m.cfg.Agent.FailoverChain {
		add(name)
	}
	return chain
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
