package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/tokens"
)

// ErrInvalidState is returned for operations that would corrupt run state,
// e.g. negative token counts.
var ErrInvalidState = errors.New("invalid state")

// TokenUsage tallies tokens consumed by a run.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// CompressionRecord captures one history-compression pass.
type CompressionRecord struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	OriginalCount    int            `json:"original_count"`
	CompressedCount  int            `json:"compressed_count"`
	OriginalTokens   int            `json:"original_tokens"`
	CompressedTokens int            `json:"compressed_tokens"`
	Ratio            float64        `json:"ratio"`
	TokensSaved      int            `json:"tokens_saved"`
	Segments         map[string]int `json:"segments,omitempty"` // segment name → fragment count
}

// ExecutionContext is the mutable per-run state. Created at run start,
// owned by the orchestrator, never shared across runs. The model name may
// change when the LLM pipeline falls back; the abort flag is monotonic.
type ExecutionContext struct {
	sessionID string

	mu            sync.Mutex
	model         string
	contextWindow int
	usage         TokenUsage
	isCompressed  bool
	compressions  []CompressionRecord
	metadata      map[string]any

	aborted atomic.Bool
}

// NewExecutionContext creates a context for one run. An empty sessionID gets
// a generated UUID; the context window is derived from the model name.
func NewExecutionContext(sessionID, model string) *ExecutionContext {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &ExecutionContext{
		sessionID:     sessionID,
		model:         model,
		contextWindow: ContextWindowFor(model),
		metadata:      make(map[string]any),
	}
}

// ContextWindowFor maps a model name to its context window size.
func ContextWindowFor(model string) int {
	switch {
	case strings.Contains(model, "haiku-3"), strings.Contains(model, "claude-3-haiku"):
		return 200000
	case strings.Contains(model, "claude"):
		return 200000
	case strings.Contains(model, "gpt-4"):
		return 128000
	default:
		return 200000
	}
}

func (c *ExecutionContext) SessionID() string { return c.sessionID }

func (c *ExecutionContext) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel records a model switch (fallback) and re-derives the context window.
func (c *ExecutionContext) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
	c.contextWindow = ContextWindowFor(model)
}

func (c *ExecutionContext) ContextWindow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contextWindow
}

// UpdateTokenUsage accumulates token counts. Totals never decrease.
func (c *ExecutionContext) UpdateTokenUsage(input, output int) error {
	if input < 0 || output < 0 {
		return fmt.Errorf("%w: negative token count (input=%d output=%d)", ErrInvalidState, input, output)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Input += input
	c.usage.Output += output
	c.usage.Total = c.usage.Input + c.usage.Output
	return nil
}

func (c *ExecutionContext) Usage() TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// UsageRate is total tokens over the context window.
func (c *ExecutionContext) UsageRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contextWindow <= 0 {
		return 0
	}
	return float64(c.usage.Total) / float64(c.contextWindow)
}

func (c *ExecutionContext) ShouldWarn() bool     { return c.UsageRate() >= tokens.WarnThreshold }
func (c *ExecutionContext) ShouldError() bool    { return c.UsageRate() >= tokens.ErrorThreshold }
func (c *ExecutionContext) ShouldCompress() bool { return c.UsageRate() >= tokens.CompressThreshold }

// Abort sets the abort flag. The transition is one-way: false → true.
func (c *ExecutionContext) Abort()        { c.aborted.Store(true) }
func (c *ExecutionContext) Aborted() bool { return c.aborted.Load() }

// MarkCompressed appends a compression record and flags the context.
func (c *ExecutionContext) MarkCompressed(rec CompressionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isCompressed = true
	c.compressions = append(c.compressions, rec)
}

func (c *ExecutionContext) IsCompressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCompressed
}

// Compressions returns a copy of the append-only compression history.
func (c *ExecutionContext) Compressions() []CompressionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompressionRecord, len(c.compressions))
	copy(out, c.compressions)
	return out
}

// SetMeta stores arbitrary scratch metadata on the run.
func (c *ExecutionContext) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

func (c *ExecutionContext) Meta(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}
