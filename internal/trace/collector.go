package trace

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/clawcore/internal/agent"
)

// Collector persists agent call records to the archive store. Writes are
// best-effort: archival failures never fail a run.
type Collector struct {
	store *Store
}

func NewCollector(store *Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordLLMCall(ctx context.Context, rec agent.LLMCallRecord) {
	if c.store == nil {
		return
	}
	err := c.store.InsertLLMCall(ctx, LLMCallRow{
		SessionID:    rec.SessionID,
		Model:        rec.Model,
		StopReason:   rec.StopReason,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		Duration:     rec.Duration,
		CreatedAt:    rec.Timestamp,
	})
	if err != nil {
		slog.Warn("trace archive write failed", "kind", "llm_call", "error", err)
	}
}

func (c *Collector) RecordToolCall(ctx context.Context, rec agent.ToolCallRecord) {
	if c.store == nil {
		return
	}
	err := c.store.InsertToolCall(ctx, ToolCallRow{
		SessionID:       rec.SessionID,
		CallID:          rec.CallID,
		ToolName:        rec.ToolName,
		Success:         rec.Success,
		Error:           rec.Error,
		StagesCompleted: rec.StagesCompleted,
		Duration:        rec.Duration,
		CreatedAt:       rec.Timestamp,
	})
	if err != nil {
		slog.Warn("trace archive write failed", "kind", "tool_call", "error", err)
	}
}
