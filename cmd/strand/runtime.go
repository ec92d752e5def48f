package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/agent/providers"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/contextmgr"
	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/internal/mcp"
	"github.com/strandlabs/strand/internal/memory"
	"github.com/strandlabs/strand/internal/shortterm"
	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/internal/tasks"
)

// runtime is the assembled set of components behind a command.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider llm.Provider
	registry *skills.Registry
	sessions *shortterm.Manager
	memory   *memory.Store
	tasks    tasks.Store
	executor *tasks.Executor
	loop     *agent.Loop

	closers []func()
}

// buildRuntime wires every configured component. Components left out
// of the config stay nil; the agent loop degrades accordingly.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	rt.provider = provider

	rt.registry = skills.NewRegistry(logger)
	rt.closers = append(rt.closers, func() { rt.registry.Destroy(context.Background()) })

	rt.sessions = shortterm.NewManager(cfg.Sessions.MaxSessions, logger)
	rt.closers = append(rt.closers, rt.sessions.Close)

	if len(cfg.Skills.Dirs) > 0 {
		var opts []skills.LocalOption
		if cfg.Skills.Watch {
			opts = append(opts, skills.WithWatch())
		}
		local := skills.NewLocalSource("skills", cfg.Skills.Dirs, logger, opts...)
		if err := rt.registry.RegisterSource(ctx, local); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register local skills: %w", err)
		}
	}

	for i := range cfg.MCP {
		server := cfg.MCP[i]
		if !server.Enabled {
			continue
		}
		src := mcp.NewRemoteSource(&server, logger)
		if err := rt.registry.RegisterSource(ctx, src); err != nil {
			// An unreachable server at startup is not fatal. The
			// source keeps reconnecting in the background; register
			// it once its connection is up. Destroy is idempotent,
			// so the closer is safe whether or not that happens.
			logger.Warn("mcp server unavailable, will register on reconnect",
				"server", server.Name, "error", err)
			rt.closers = append(rt.closers, func() { _ = src.Destroy(context.Background()) })
			go registerWhenConnected(ctx, rt.registry, src, logger)
		}
	}

	if cfg.Memory.Enabled {
		var repo memory.Repo
		if cfg.Memory.Path != "" {
			repo, err = memory.NewSQLiteRepo(cfg.Memory.Path)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("open memory store: %w", err)
			}
		} else {
			repo = memory.NewMemoryRepo()
		}
		rt.closers = append(rt.closers, func() { _ = repo.Close() })

		embedder, _ := provider.(llm.Embedder)
		if embedder == nil {
			logger.Info("provider has no embedder, memory search falls back to substring match")
		}
		rt.memory = memory.NewStore(repo, embedder, logger)
	}

	if cfg.Tasks.Enabled {
		if cfg.Tasks.Path != "" {
			store, err := tasks.NewSQLiteStore(cfg.Tasks.Path)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("open task store: %w", err)
			}
			rt.tasks = store
		} else {
			rt.tasks = tasks.NewMemoryStore()
		}
		rt.closers = append(rt.closers, func() { _ = rt.tasks.Close() })
		rt.executor = tasks.NewExecutor(rt.tasks, rt.registry, logger)
	}

	var ctxOpts []contextmgr.Option
	if cfg.Context.MaxTokens > 0 {
		ctxOpts = append(ctxOpts, contextmgr.WithMaxTokens(cfg.Context.MaxTokens))
	}
	if cfg.Context.ReservedTokens > 0 {
		ctxOpts = append(ctxOpts, contextmgr.WithReservedTokens(cfg.Context.ReservedTokens))
	}

	loop, err := agent.New(agent.Config{
		Provider:      provider,
		Registry:      rt.registry,
		ContextMgr:    contextmgr.New(ctxOpts...),
		LongTerm:      rt.memory,
		TaskStore:     rt.tasks,
		TaskExecutor:  rt.executor,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		ToolTimeout:   cfg.Agent.ToolTimeout,
		Logger:        logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.loop = loop

	return rt, nil
}

// registerCheckInterval is how often a source that failed its initial
// registration is checked for a successful background reconnect.
const registerCheckInterval = 5 * time.Second

// registerWhenConnected installs src in the registry once its
// reconnect supervisor has re-established the connection. Registering
// a connected source does not reconnect it.
func registerWhenConnected(ctx context.Context, reg *skills.Registry, src *mcp.RemoteSource, logger *slog.Logger) {
	ticker := time.NewTicker(registerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !src.Connected() {
				continue
			}
			if err := reg.RegisterSource(ctx, src); err != nil {
				logger.Warn("failed to register reconnected mcp server",
					"server", src.Name(), "error", err)
				continue
			}
			logger.Info("mcp server registered after reconnect", "server", src.Name())
			return
		}
	}
}

func buildProvider(cfg config.ProviderConfig) (llm.Provider, error) {
	switch cfg.Name {
	case "openai":
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	case "anthropic":
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// Close tears components down in reverse wiring order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
