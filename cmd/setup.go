package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/clawcore/internal/agent"
	"github.com/nextlevelbuilder/clawcore/internal/config"
	"github.com/nextlevelbuilder/clawcore/internal/mcp"
	"github.com/nextlevelbuilder/clawcore/internal/memory"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/scheduler"
	"github.com/nextlevelbuilder/clawcore/internal/telemetry"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/trace"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// runtime holds the wired components behind every command.
type runtime struct {
	cfg      *config.Config
	registry *tools.Registry
	policy   *tools.PermissionPolicy
	executor *tools.Executor
	sched    *scheduler.Scheduler
	memory   *memory.Manager
	pipeline *providers.Pipeline
	traces   agent.TraceSink

	traceStore *trace.Store
	mcpManager *mcp.Manager
	shutdowns  []func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	path := resolveConfigPath()
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg}

	otelShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without", "error", err)
	} else {
		r.shutdowns = append(r.shutdowns, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(sctx)
		})
	}

	provider, err := providers.NewAnthropicFromEnv(providers.WithAnthropicModel(cfg.Agent.Model))
	if err != nil {
		return nil, fmt.Errorf("provider setup: %w", err)
	}
	r.pipeline = providers.NewPipeline(provider, providers.WithFallbackChain(cfg.Agent.FallbackModels))

	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace setup: %w", err)
	}

	r.registry = tools.NewRegistry()
	r.registry.Register(tools.NewReadFileTool(cfg.Agent.Workspace, cfg.Agent.RestrictToWorkspace))
	r.registry.Register(tools.NewWriteFileTool(cfg.Agent.Workspace, cfg.Agent.RestrictToWorkspace))
	r.registry.Register(tools.NewListFilesTool(cfg.Agent.Workspace, cfg.Agent.RestrictToWorkspace))
	r.registry.Register(tools.NewExecTool(cfg.Agent.Workspace, time.Duration(cfg.Agent.ExecTimeoutSec)*time.Second))

	r.policy = tools.NewPermissionPolicy(tools.Decision(cfg.Permissions.Default))
	for name, decision := range cfg.Permissions.Overrides {
		r.policy.SetOverride(name, tools.Decision(decision))
	}
	r.executor = tools.NewExecutor(r.registry, r.policy)
	r.sched = scheduler.New(cfg.Scheduler.MaxConcurrent)

	longTerm := memory.NewLongTerm(cfg.Memory.LongTermPath)
	if err := longTerm.Load(); err != nil {
		slog.Warn("long-term memory load failed", "error", err)
	}
	if err := longTerm.Watch(ctx); err != nil {
		slog.Warn("long-term memory watch failed", "error", err)
	}
	fileCtx := memory.NewFileContext(cfg.Agent.Workspace,
		memory.WithMaxFiles(cfg.Memory.FileContext.MaxFiles),
		memory.WithMaxTokensPerFile(cfg.Memory.FileContext.MaxTokensPerFile),
		memory.WithMaxTotalTokens(cfg.Memory.FileContext.MaxTotalTokens))
	r.memory = memory.NewManager(
		memory.WithShortTermLimit(cfg.Memory.ShortTermLimit),
		memory.WithCompressor(memory.NewCompressor(
			memory.WithKeepRecent(cfg.Memory.KeepRecent),
			memory.WithCompressionEnabled(cfg.Memory.CompressionEnabled))),
		memory.WithLongTerm(longTerm),
		memory.WithFileContext(fileCtx),
	)

	if cfg.Traces.Enabled && cfg.Traces.Path != "" {
		store, err := trace.Open(cfg.Traces.Path)
		if err != nil {
			slog.Warn("trace archive unavailable", "error", err)
		} else {
			r.traceStore = store
			r.traces = trace.NewCollector(store)
			r.shutdowns = append(r.shutdowns, func() { _ = store.Close() })
		}
	}

	if len(cfg.MCP.Servers) > 0 {
		r.mcpManager = mcp.NewManager(r.registry)
		r.mcpManager.ConnectAll(ctx, mcpServerConfigs(cfg.MCP.Servers))
		r.shutdowns = append(r.shutdowns, r.mcpManager.Close)
	}

	return r, nil
}

func mcpServerConfigs(in map[string]config.MCPServerConfig) map[string]mcp.ServerConfig {
	out := make(map[string]mcp.ServerConfig, len(in))
	for name, c := range in {
		out[name] = mcp.ServerConfig{
			Transport:  c.Transport,
			Command:    c.Command,
			Args:       c.Args,
			Env:        c.Env,
			URL:        c.URL,
			Headers:    c.Headers,
			ToolPrefix: c.ToolPrefix,
			TimeoutSec: c.TimeoutSec,
		}
	}
	return out
}

// newLoop builds an agent loop over the shared memory manager.
func (r *runtime) newLoop(onEvent func(protocol.StreamEvent)) *agent.Loop {
	return r.newSessionLoop(r.memory, onEvent)
}

// newSessionLoop builds an agent loop with its own memory manager, for
// callers that keep one history per session.
func (r *runtime) newSessionLoop(mem *memory.Manager, onEvent func(protocol.StreamEvent)) *agent.Loop {
	return agent.NewLoop(agent.LoopConfig{
		Pipeline:         r.pipeline,
		Registry:         r.registry,
		Executor:         r.executor,
		Scheduler:        r.sched,
		Memory:           mem,
		MaxIterations:    r.cfg.Agent.MaxIterations,
		Workspace:        r.cfg.Agent.Workspace,
		BaseInstructions: r.cfg.Agent.BaseInstructions,
		SubagentInfo:     r.cfg.Agent.SubagentInfo,
		TaskReminder:     r.cfg.Agent.TaskCompleteReminder,
		OnEvent:          onEvent,
		Traces:           r.traces,
	})
}

func (r *runtime) close() {
	for i := len(r.shutdowns) - 1; i >= 0; i-- {
		r.shutdowns[i]()
	}
}
