// Package runtime assembles the planner from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/tripplanner/pkg/agent"
	"github.com/kadirpekel/tripplanner/pkg/config"
	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/model/openai"
	"github.com/kadirpekel/tripplanner/pkg/observability"
	"github.com/kadirpekel/tripplanner/pkg/prompt"
	"github.com/kadirpekel/tripplanner/pkg/tool"
	"github.com/kadirpekel/tripplanner/pkg/tool/mcptoolset"
)

// Runtime owns the process-wide planner components.
type Runtime struct {
	config  *config.Config
	obs     *observability.Manager
	prompts *prompt.Store
	pool    *mcptoolset.Pool
	session *agent.Session
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Tools replaces the MCP pool built from config.
	Tools tool.Source

	// Models replaces the OpenAI-compatible model factory.
	Models model.Factory

	// HTTPClient is used by the default model factory.
	HTTPClient *http.Client

	// Version labels traces.
	Version string
}

// New builds the runtime. cfg must already have defaults applied.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	for _, name := range cfg.MissingSettings() {
		slog.Warn("Setting is empty; requests needing it will fail", "setting", name)
	}

	r := &Runtime{config: cfg}

	obs, err := observability.NewManager(ctx, cfg.Observability, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	r.obs = obs

	prompts, err := prompt.NewStore(cfg.Agent.InstructionFile)
	if err != nil {
		r.cleanupOnError(ctx)
		return nil, fmt.Errorf("failed to load instruction: %w", err)
	}
	r.prompts = prompts

	tools := opts.Tools
	if tools == nil {
		pool, err := mcptoolset.New(cfg.MCP.ToolsetConfig())
		if err != nil {
			r.cleanupOnError(ctx)
			return nil, fmt.Errorf("failed to create MCP pool: %w", err)
		}
		r.pool = pool
		tools = pool
	}

	models := opts.Models
	if models == nil {
		models = openai.NewFactory(cfg.LLM.Temperature, cfg.LLM.MaxTokens, opts.HTTPClient)
	}

	session, err := agent.New(agent.Config{
		Tools:       tools,
		Models:      models,
		Defaults:    cfg.LLM.ModelDefaults(),
		Instruction: prompts,
		MaxSteps:    cfg.Agent.MaxSteps,
		LLMTimeout:  cfg.LLM.Timeout,
		ToolTimeout: cfg.MCP.CallTimeout,
		Mode:        string(cfg.Server.Mode),
		Tracer:      obs.Tracer(),
		Metrics:     obs.Metrics(),
	})
	if err != nil {
		r.cleanupOnError(ctx)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	r.session = session

	slog.Info("Planner ready",
		"mode", cfg.Server.Mode,
		"model", cfg.LLM.Model,
		"mcp", cfg.MCP.Name,
		"mcp_transport", cfg.MCP.Transport,
		"instruction", prompts.Current().Version,
	)
	return r, nil
}

func (r *Runtime) cleanupOnError(ctx context.Context) {
	if err := r.Close(ctx); err != nil {
		slog.Warn("Cleanup after failed start", "error", err)
	}
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// Session returns the shared planning session.
func (r *Runtime) Session() *agent.Session {
	return r.session
}

// Observability returns the tracing and metrics manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Prompts returns the instruction store.
func (r *Runtime) Prompts() *prompt.Store {
	return r.prompts
}

// Pool returns the MCP pool, or nil when tools were injected.
func (r *Runtime) Pool() *mcptoolset.Pool {
	return r.pool
}

// Close releases the pool and flushes telemetry.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp pool cleanup: %w", err))
		}
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
