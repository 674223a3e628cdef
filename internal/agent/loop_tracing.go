package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

const tracerName = "clawcore/agent"

// LLMCallRecord is one model call as seen by the run archive.
type LLMCallRecord struct {
	SessionID    string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Timestamp    time.Time
}

// ToolCallRecord is one tool execution as seen by the run archive.
type ToolCallRecord struct {
	SessionID       string
	CallID          string
	ToolName        string
	Success         bool
	Error           string
	StagesCompleted int
	Duration        time.Duration
	Timestamp       time.Time
}

// TraceSink receives call records for persistence. Nil sinks are allowed;
// tracing then reduces to telemetry spans.
type TraceSink interface {
	RecordLLMCall(ctx context.Context, rec LLMCallRecord)
	RecordToolCall(ctx context.Context, rec ToolCallRecord)
}

func (l *Loop) traceLLMCall(ctx context.Context, ectx *session.ExecutionContext, resp *providers.ChatResponse, dur time.Duration) {
	var in, out int
	if resp.Usage != nil {
		in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "llm.call",
		trace.WithTimestamp(time.Now().Add(-dur)),
		trace.WithAttributes(
			attribute.String("session.id", ectx.SessionID()),
			attribute.String("llm.model", resp.Model),
			attribute.String("llm.stop_reason", resp.StopReason),
			attribute.Int("llm.input_tokens", in),
			attribute.Int("llm.output_tokens", out),
		))
	span.End()

	if l.traces != nil {
		l.traces.RecordLLMCall(ctx, LLMCallRecord{
			SessionID:    ectx.SessionID(),
			Model:        resp.Model,
			StopReason:   resp.StopReason,
			InputTokens:  in,
			OutputTokens: out,
			Duration:     dur,
			Timestamp:    time.Now().UTC(),
		})
	}
}

func (l *Loop) traceToolCall(ctx context.Context, ectx *session.ExecutionContext, tr *tools.ToolExecutionResult) {
	_, span := otel.Tracer(tracerName).Start(ctx, "tool.call",
		trace.WithTimestamp(time.Now().Add(-tr.ExecutionTime)),
		trace.WithAttributes(
			attribute.String("session.id", ectx.SessionID()),
			attribute.String("tool.name", tr.ToolName),
			attribute.String("tool.call_id", tr.CallID),
			attribute.Bool("tool.success", tr.Success),
			attribute.Int("tool.stages_completed", tr.StagesCompleted),
		))
	span.End()

	if l.traces != nil {
		l.traces.RecordToolCall(ctx, ToolCallRecord{
			SessionID:       ectx.SessionID(),
			CallID:          tr.CallID,
			ToolName:        tr.ToolName,
			Success:         tr.Success,
			Error:           tr.ErrorText(),
			StagesCompleted: tr.StagesCompleted,
			Duration:        tr.ExecutionTime,
			Timestamp:       time.Now().UTC(),
		})
	}
}
