package protocol

// Stream event types emitted by the agent runtime.
// Every run ends with exactly one terminal event: done, loop_complete, or error.
const (
	EventIteration          = "iteration"
	EventTextDelta          = "text_delta"
	EventToolExecuting      = "tool_executing"
	EventToolResult         = "tool_result"
	EventMessageStart       = "message_start"
	EventMessageComplete    = "message_complete"
	EventCompressionStart   = "compression_start"
	EventCompressionSuccess = "compression_success"
	EventCompressionFailed  = "compression_failed"
	EventTokenUsage         = "token_usage"
	EventSubagentStart      = "subagent_start"
	EventSubagentComplete   = "subagent_complete"
	EventWarning            = "warning"
	EventError              = "error"
	EventDone               = "done"
	EventLoopComplete       = "loop_complete"
)

// StreamEvent is a single typed event in a session's output stream.
// Seq is monotonically increasing within one session; consumers observe
// events in emission order.
type StreamEvent struct {
	Type      string         `json:"type"`
	Seq       uint64         `json:"seq"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp string         `json:"timestamp"` // ISO 8601 / RFC 3339
	Data      map[string]any `json:"data,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case EventDone, EventLoopComplete, EventError:
		return true
	}
	return false
}
