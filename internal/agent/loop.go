package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/memory"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/scheduler"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/tokens"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// taskCompleteReminder is injected when a tool result carries a background
// worker completion sentinel. It keeps the model from declaring victory
// while the environment is still settling.
const taskCompleteReminderText = `Background workers have finished. Before responding:
1. Wait for the environment to settle.
2. Check for build or runtime errors.
3. Do not restart an already-running dev server.
4. Do not give a final answer until errors have been checked.`

// Loop drives one agent conversation: stream a model turn, execute the
// tools it requested, feed results back, repeat until a tool-less turn.
type Loop struct {
	pipeline *providers.Pipeline
	registry *tools.Registry
	executor *tools.Executor
	sched    *scheduler.Scheduler
	memory   *memory.Manager

	maxIterations    int
	workspace        string
	baseInstructions string
	subagentInfo     bool
	taskReminder     bool

	onEvent func(protocol.StreamEvent)
	traces  TraceSink
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	Pipeline  *providers.Pipeline
	Registry  *tools.Registry
	Executor  *tools.Executor
	Scheduler *scheduler.Scheduler
	Memory    *memory.Manager

	MaxIterations    int // <= 0 means effectively unbounded
	Workspace        string
	BaseInstructions string
	SubagentInfo     bool
	TaskReminder     bool

	OnEvent func(protocol.StreamEvent)
	Traces  TraceSink
}

func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		pipeline:         cfg.Pipeline,
		registry:         cfg.Registry,
		executor:         cfg.Executor,
		sched:            cfg.Scheduler,
		memory:           cfg.Memory,
		maxIterations:    cfg.MaxIterations,
		workspace:        cfg.Workspace,
		baseInstructions: cfg.BaseInstructions,
		subagentInfo:     cfg.SubagentInfo,
		taskReminder:     cfg.TaskReminder,
		onEvent:          cfg.OnEvent,
		traces:           cfg.Traces,
	}
	if l.sched == nil {
		l.sched = scheduler.New(tokens.MaxConcurrentTools)
	}
	if l.memory == nil {
		l.memory = memory.NewManager()
	}
	if l.executor == nil {
		l.executor = tools.NewExecutor(l.registry, nil)
	}
	return l
}

// RunResult summarizes one completed run.
type RunResult struct {
	FinalText  string             `json:"final_text,omitempty"`
	Iterations int                `json:"iterations"`
	ToolCalls  int                `json:"tool_calls"`
	Usage      session.TokenUsage `json:"usage"`
	Aborted    bool               `json:"aborted"`
}

func (l *Loop) emit(gen *events.Generator, eventType string, data map[string]any) {
	ev := gen.Generate(eventType, data)
	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

// Run appends the user message to history and iterates until the model
// produces a tool-less turn, the context is aborted, or the iteration cap
// is hit. The emitted stream ends with exactly one terminal event: done,
// loop_complete, or error.
func (l *Loop) Run(ctx context.Context, ectx *session.ExecutionContext, userMessage string) (*RunResult, error) {
	gen := events.NewGenerator(ectx.SessionID())
	res := &RunResult{}

	if userMessage != "" {
		l.memory.AddUserMessage(userMessage)
	}

	for iteration := 1; l.maxIterations <= 0 || iteration <= l.maxIterations; iteration++ {
		if ectx.Aborted() || ctx.Err() != nil {
			l.emit(gen, protocol.EventWarning, map[string]any{"reason": "aborted"})
			res.Aborted = true
			break
		}
		res.Iterations = iteration
		l.emit(gen, protocol.EventIteration, map[string]any{"iteration": iteration})

		// Stage 1: preprocess history.
		history := Preprocess(l.memory.ShortTerm().Messages())

		// Stage 2: compression check.
		history = l.maybeCompress(gen, ectx, history)

		// Stage 3: system prompt.
		catalog := l.registry.ProviderDefs()
		system := BuildSystemPrompt(ectx, catalog, l.promptConfig())

		// Stage 4: conversation stream.
		req := providers.ChatRequest{
			Messages:  history,
			System:    system,
			Tools:     catalog,
			MaxTokens: tokens.MaxOutputTokens,
		}
		llmStart := time.Now()
		resp, err := l.pipeline.Stream(ctx, req, ectx, func(d providers.Delta) {
			switch d.Kind {
			case providers.DeltaMessageStart:
				l.emit(gen, protocol.EventMessageStart, map[string]any{"model": d.Model})
			case providers.DeltaText:
				l.emit(gen, protocol.EventTextDelta, map[string]any{"text": d.Text})
			}
		})
		if err != nil {
			l.emit(gen, protocol.EventError, map[string]any{"error": err.Error()})
			res.Usage = ectx.Usage()
			return res, fmt.Errorf("iteration %d: %w", iteration, err)
		}

		l.emit(gen, protocol.EventMessageComplete, map[string]any{
			"model":       resp.Model,
			"stop_reason": resp.StopReason,
		})
		usage := ectx.Usage()
		l.emit(gen, protocol.EventTokenUsage, map[string]any{
			"input_tokens":  usage.Input,
			"output_tokens": usage.Output,
			"total_tokens":  usage.Total,
			"usage_rate":    ectx.UsageRate(),
		})
		l.traceLLMCall(ctx, ectx, resp, time.Since(llmStart))

		l.memory.ShortTerm().Add(resp.Message)

		// Stage 5: tool execution.
		uses := resp.Message.ToolUses()
		if len(uses) == 0 {
			res.FinalText = resp.Message.Text()
			res.Usage = ectx.Usage()
			l.emit(gen, protocol.EventDone, map[string]any{"iterations": iteration})
			return res, nil
		}

		results := l.runTools(ctx, gen, ectx, uses)
		res.ToolCalls += len(uses)

		// Stage 6: collect results.
		settle := false
		for i, use := range uses {
			tr := results[i]
			payload := tr.Output
			isError := !tr.Success
			if isError {
				payload = tr.ErrorText()
			}
			l.memory.AddToolResult(use.ID, use.Name, payload, isError)
			if strings.Contains(payload, "WORKERS_COMPLETED") || strings.Contains(payload, "is_task_complete") {
				settle = true
			}
		}
		if settle && l.taskReminder {
			l.memory.AddSystemMessage(taskCompleteReminderText)
		}

		if ectx.Aborted() {
			l.emit(gen, protocol.EventWarning, map[string]any{"reason": "aborted"})
			res.Aborted = true
			break
		}
	}

	res.Usage = ectx.Usage()
	l.emit(gen, protocol.EventLoopComplete, map[string]any{
		"iterations":   res.Iterations,
		"tool_calls":   res.ToolCalls,
		"total_tokens": res.Usage.Total,
		"partial":      res.Aborted,
	})
	return res, nil
}

func (l *Loop) promptConfig() PromptConfig {
	cfg := PromptConfig{
		BaseInstructions:    l.baseInstructions,
		Workspace:           l.workspace,
		IncludeSubagentInfo: l.subagentInfo,
	}
	if lt := l.memory.LongTerm(); lt != nil {
		cfg.LongTermSnippet = lt.Snippet()
	}
	if fc := l.memory.FileContext(); fc != nil {
		cfg.FileContextSection = fc.FormatSection()
	}
	return cfg
}

// maybeCompress rewrites history when compression is enabled and the
// context crosses the compression threshold. Failure keeps the original
// history.
func (l *Loop) maybeCompress(gen *events.Generator, ectx *session.ExecutionContext, history []providers.Message) []providers.Message {
	if !l.memory.Compressor().Enabled() || !ectx.ShouldCompress() {
		return history
	}
	l.emit(gen, protocol.EventCompressionStart, map[string]any{
		"usage_rate": ectx.UsageRate(),
		"messages":   len(history),
	})

	compressed, rec, err := l.memory.Compressor().ForceCompress(history, ectx)
	if err != nil {
		l.emit(gen, protocol.EventCompressionFailed, map[string]any{"error": err.Error()})
		slog.Warn("history compression failed", "error", err)
		return history
	}
	if rec == nil {
		return history
	}

	l.memory.ShortTerm().Replace(compressed)
	l.emit(gen, protocol.EventCompressionSuccess, map[string]any{
		"original_messages":   rec.OriginalCount,
		"compressed_messages": rec.CompressedCount,
		"tokens_saved":        rec.TokensSaved,
		"ratio":               rec.Ratio,
	})
	return compressed
}

// runTools schedules every tool use at high priority, executes exactly
// those tasks under the concurrency bound, and returns results in
// submission order. The scheduler may be shared across concurrent runs, so
// the batch is the held task handles, never a drain of the pending list.
func (l *Loop) runTools(ctx context.Context, gen *events.Generator, ectx *session.ExecutionContext, uses []providers.ContentBlock) []*tools.ToolExecutionResult {
	tasks := make([]*scheduler.Task, len(uses))
	for i, use := range uses {
		l.emit(gen, protocol.EventToolExecuting, map[string]any{
			"call_id": use.ID,
			"tool":    use.Name,
		})
		call := tools.ToolCall{CallID: use.ID, ToolName: use.Name, Args: use.Input}
		tasks[i] = l.sched.Schedule(func(tctx context.Context) (any, error) {
			return l.executor.Execute(tctx, ectx, call), nil
		}, scheduler.PriorityHigh, use.ID)
	}

	if _, err := l.sched.ExecuteBatch(ctx, tasks, true); err != nil {
		slog.Warn("tool batch execution failed", "error", err)
	}

	results := make([]*tools.ToolExecutionResult, len(uses))
	for i, use := range uses {
		results[i] = l.collectToolResult(tasks[i], use)

		data := map[string]any{
			"call_id":           use.ID,
			"tool":              use.Name,
			"success":           results[i].Success,
			"execution_time_ms": results[i].ExecutionTime.Milliseconds(),
			"stages_completed":  results[i].StagesCompleted,
		}
		if results[i].Success {
			data["result"] = results[i].Output
		} else {
			data["error"] = results[i].ErrorText()
		}
		l.emit(gen, protocol.EventToolResult, data)
		l.traceToolCall(ctx, ectx, results[i])
	}
	return results
}

func (l *Loop) collectToolResult(task *scheduler.Task, use providers.ContentBlock) *tools.ToolExecutionResult {
	value, err := task.Result()
	if tr, ok := value.(*tools.ToolExecutionResult); ok && tr != nil {
		return tr
	}
	if err == nil {
		err = fmt.Errorf("tool task %s returned no result", use.ID)
	}
	return &tools.ToolExecutionResult{CallID: use.ID, ToolName: use.Name, Error: err}
}
