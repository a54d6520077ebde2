package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the immutable application configuration. It is loaded once at
// startup and passed explicitly into each component's constructor; nothing
// reads it through package-level state.
type Config struct {
	Agent     AgentConfig               `json:"agent"`
	Providers map[string]ProviderConfig `json:"providers"`
	Context   ContextConfig             `json:"context"`
	RateLimit RateLimitConfig           `json:"rate_limit"`
	Approval  ApprovalConfig            `json:"approval"`
	Storage   StorageConfig             `json:"storage"`
	Audit     AuditConfig               `json:"audit"`
}

type AgentConfig struct {
	Workspace           string   `json:"workspace" env:"PICOAGENT_WORKSPACE"`
	RestrictToWorkspace bool     `json:"restrict_to_workspace" env:"PICOAGENT_RESTRICT_TO_WORKSPACE"`
	DefaultProvider     string   `json:"default_provider" env:"PICOAGENT_DEFAULT_PROVIDER"`
	DefaultModel        string   `json:"default_model" env:"PICOAGENT_DEFAULT_MODEL"`
	MaxSteps            int      `json:"max_steps" env:"PICOAGENT_MAX_STEPS"`
	MaxRetries          int      `json:"max_retries" env:"PICOAGENT_MAX_RETRIES"`
	TimeoutSeconds      int      `json:"timeout_seconds" env:"PICOAGENT_TIMEOUT_SECONDS"`
	MaxTokens           int      `json:"max_tokens" env:"PICOAGENT_MAX_TOKENS"`
	Temperature         float64  `json:"temperature" env:"PICOAGENT_TEMPERATURE"`
	FailoverChain       []string `json:"failover_chain" env:"PICOAGENT_FAILOVER_CHAIN" envSeparator:","`
	PlanningEnabled     bool     `json:"planning_enabled" env:"PICOAGENT_PLANNING_ENABLED"`
	ReflectionEnabled   bool     `json:"reflection_enabled" env:"PICOAGENT_REFLECTION_ENABLED"`
	MemoryRecallLimit   int      `json:"memory_recall_limit" env:"PICOAGENT_MEMORY_RECALL_LIMIT"`
}

// ModelConfig describes one entry of a provider's model catalog.
type ModelConfig struct {
	ContextWindow    int  `json:"context_window"`
	Tools            bool `json:"tools"`
	Vision           bool `json:"vision"`
	Streaming        bool `json:"streaming"`
	StructuredOutput bool `json:"structured_output"`
}

type ProviderConfig struct {
	APIKey       string                 `json:"api_key"`
	APIBase      string                 `json:"api_base"`
	DefaultModel string                 `json:"default_model"`
	Models       map[string]ModelConfig `json:"models"`
	Proxy        string                 `json:"proxy"`
}

// KnownModels returns the catalog's model names. Empty means unknown
// (e.g. a locally probed runtime) and any model is accepted.
func (p ProviderConfig) KnownModels() []string {
	names := make([]string, 0, len(p.Models))
	for name := range p.Models {
		names = append(names, name)
	}
	return names
}

// ContextConfig carries the five context budget fractions. They should sum
// to 1.0; AllocateBudget folds any rounding leftover into the messages bucket.
type ContextConfig struct {
	SystemFraction   float64 `json:"system_fraction" env:"PICOAGENT_CONTEXT_SYSTEM_FRACTION"`
	MemoriesFraction float64 `json:"memories_fraction" env:"PICOAGENT_CONTEXT_MEMORIES_FRACTION"`
	SummaryFraction  float64 `json:"summary_fraction" env:"PICOAGENT_CONTEXT_SUMMARY_FRACTION"`
	MessagesFraction float64 `json:"messages_fraction" env:"PICOAGENT_CONTEXT_MESSAGES_FRACTION"`
	ReserveFraction  float64 `json:"reserve_fraction" env:"PICOAGENT_CONTEXT_RESERVE_FRACTION"`
}

type RateLimitConfig struct {
	WindowSeconds int `json:"window_seconds" env:"PICOAGENT_RATE_LIMIT_WINDOW_SECONDS"`
	MaxRequests   int `json:"max_requests" env:"PICOAGENT_RATE_LIMIT_MAX_REQUESTS"`
}

type ApprovalConfig struct {
	TimeoutSeconds     int `json:"timeout_seconds" env:"PICOAGENT_APPROVAL_TIMEOUT_SECONDS"`
	PollIntervalMillis int `json:"poll_interval_millis" env:"PICOAGENT_APPROVAL_POLL_INTERVAL_MILLIS"`
	DefaultExpiryHours int `json:"default_expiry_hours" env:"PICOAGENT_APPROVAL_DEFAULT_EXPIRY_HOURS"`
}

type StorageConfig struct {
	Path string `json:"path" env:"PICOAGENT_STORAGE_PATH"`
}

type AuditConfig struct {
	Output string `json:"output" env:"PICOAGENT_AUDIT_OUTPUT"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:           "~/.picoagent/workspace",
			RestrictToWorkspace: true,
			DefaultProvider:     "openai",
			DefaultModel:        "gpt-4o",
			MaxSteps:            20,
			MaxRetries:          3,
			TimeoutSeconds:      120,
			MaxTokens:           8192,
			Temperature:         0.7,
			PlanningEnabled:     true,
			ReflectionEnabled:   true,
			MemoryRecallLimit:   5,
		},
		Providers: map[string]ProviderConfig{},
		Context: ContextConfig{
			SystemFraction:   0.15,
			MemoriesFraction: 0.10,
			SummaryFraction:  0.10,
			MessagesFraction: 0.60,
			ReserveFraction:  0.05,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   120,
		},
		Approval: ApprovalConfig{
			TimeoutSeconds:     60,
			PollIntervalMillis: 250,
			DefaultExpiryHours: 24,
		},
		Storage: StorageConfig{
			Path: "~/.picoagent/picoagent.db",
		},
		Audit: AuditConfig{
			Output: "stderr",
		},
	}
}

// LoadConfig reads the JSON config file at path, then applies environment
// overrides. A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Provider returns the configuration for the named provider and whether it
// exists. Lookup is case-insensitive.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := c.Providers[name]
	return p, ok
}

// ContextWindow returns the configured context window for (provider, model),
// or the fallback when the model is not in the catalog.
func (c *Config) ContextWindow(provider, model string) int {
	const fallback = 32768
	p, ok := c.Provider(provider)
	if !ok {
		return fallback
	}
	if m, ok := p.Models[model]; ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return fallback
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

func (c *Config) StoragePath() string {
	return expandHome(c.Storage.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
