package events

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Generator stamps typed events with a per-session monotonically-increasing
// sequence id. Event order seen by a consumer equals production order.
type Generator struct {
	sessionID string
	seq       atomic.Uint64
	retryMS   int
}

type Option func(*Generator)

// WithRetry adds a retry hint (milliseconds) to line-framed output.
func WithRetry(ms int) Option {
	return func(g *Generator) { g.retryMS = ms }
}

func NewGenerator(sessionID string, opts ...Option) *Generator {
	g := &Generator{sessionID: sessionID}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate builds the next event in sequence.
func (g *Generator) Generate(eventType string, data map[string]any) protocol.StreamEvent {
	return protocol.StreamEvent{
		Type:      eventType,
		Seq:       g.seq.Add(1),
		SessionID: g.sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Seq returns the last issued sequence id.
func (g *Generator) Seq() uint64 { return g.seq.Load() }

// FormatSSE renders an event in line-framed text form:
// id / optional retry / event / data lines followed by a blank line.
func (g *Generator) FormatSSE(ev protocol.StreamEvent) string {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	out := fmt.Sprintf("id: %s_%d\n", ev.SessionID, ev.Seq)
	if g.retryMS > 0 {
		out += fmt.Sprintf("retry: %d\n", g.retryMS)
	}
	out += fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data)
	return out
}

// FormatJSONL renders an event as a single JSON object per line.
func FormatJSONL(ev protocol.StreamEvent) string {
	obj := map[string]any{
		"type":      ev.Type,
		"data":      ev.Data,
		"event_id":  fmt.Sprintf("%s_%d", ev.SessionID, ev.Seq),
		"timestamp": ev.Timestamp,
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return ""
	}
	return string(b) + "\n"
}
