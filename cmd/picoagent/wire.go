package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Nyukimin/picoagent/pkg/actions"
	"github.com/Nyukimin/picoagent/pkg/agent"
	"github.com/Nyukimin/picoagent/pkg/approval"
	"github.com/Nyukimin/picoagent/pkg/audit"
	"github.com/Nyukimin/picoagent/pkg/config"
	"github.com/Nyukimin/picoagent/pkg/permission"
	"github.com/Nyukimin/picoagent/pkg/providers"
	"github.com/Nyukimin/picoagent/pkg/ratelimit"
	"github.com/Nyukimin/picoagent/pkg/storage"
	"github.com/Nyukimin/picoagent/pkg/stream"
	"github.com/Nyukimin/picoagent/pkg/tools"
)

// runtime bundles the wired components for one process.
type runtime struct {
	cfg      *config.Config
	store    storage.Store
	auditor  *audit.Logger
	broker   *approval.Broker
	executor *tools.Executor
	actions  *actions.Service
	orch     *agent.Orchestrator
}

func buildRuntime() (*runtime, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create workspace: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.StoragePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	var auditor *audit.Logger
	switch cfg.Audit.Output {
	case "", "stderr":
		auditor = audit.NewLogger(os.Stderr)
	default:
		auditor, err = audit.NewFileLogger(cfg.Audit.Output)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.MaxRequests)
	manager := providers.NewManager(cfg, limiter)
	registerProviders(manager, cfg)

	broker := approval.NewBroker()
	checker := permission.NewPolicyChecker(permission.Policy{
		Allow: []string{"read_file", "list_dir", "propose_action"},
	})
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, checker, broker, auditor,
		time.Duration(cfg.Approval.TimeoutSeconds)*time.Second)

	actionService := actions.NewService(store, registry)

	ws := tools.Workspace{Root: workspace, Restrict: cfg.Agent.RestrictToWorkspace}
	registry.MustRegister(&tools.ReadFileTool{WS: ws})
	registry.MustRegister(&tools.WriteFileTool{WS: ws})
	registry.MustRegister(&tools.ListDirTool{WS: ws})
	registry.MustRegister(&tools.ExecTool{WS: ws})
	registry.MustRegister(&tools.ProposeActionTool{Proposer: actionService})

	prompts := agent.NewPromptBuilder(workspace, func() []string {
		names := registry.Names()
		lines := make([]string, 0, len(names))
		for _, name := range names {
			if t, ok := registry.Get(name); ok {
				lines = append(lines, fmt.Sprintf("**%s**: %s", t.Name(), t.Description()))
			}
		}
		return lines
	})

	orch := agent.NewOrchestrator(cfg, manager, store, executor, prompts, stream.NewStore())

	cleanup := func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage failed", "error", err)
		}
		if err := auditor.Close(); err != nil {
			slog.Warn("closing audit log failed", "error", err)
		}
	}
	return &runtime{
		cfg:      cfg,
		store:    store,
		auditor:  auditor,
		broker:   broker,
		executor: executor,
		actions:  actionService,
		orch:     orch,
	}, cleanup, nil
}

func registerProviders(manager *providers.Manager, cfg *config.Config) {
	timeout := time.Duration(cfg.Agent.TimeoutSeconds) * time.Second
	for name, pc := range cfg.Providers {
		switch name {
		case "openai":
			manager.Register(providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				APIBase:      pc.APIBase,
				DefaultModel: pc.DefaultModel,
				Models:       pc.KnownModels(),
			}))
		case "anthropic":
			manager.Register(providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				APIBase:      pc.APIBase,
				DefaultModel: pc.DefaultModel,
				Models:       pc.KnownModels(),
			}))
		case "ollama":
			manager.Register(providers.NewOllamaProvider(pc.APIBase, pc.DefaultModel, timeout))
		default:
			p := providers.NewHTTPProvider(name, pc.APIKey, pc.APIBase, pc.Proxy, timeout)
			p.SetDefaultModel(pc.DefaultModel)
			p.SetModels(pc.KnownModels())
			manager.Register(p)
		}
	}
}
