package memory

import (
	"log/slog"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// Manager ties the three memory tiers together: the short-term conversation
// log, the compressor that rewrites it under pressure, and the long-term
// store plus file-context window that feed prompts.
type Manager struct {
	shortTerm   *ShortTerm
	compressor  *Compressor
	longTerm    *LongTerm
	fileContext *FileContext
}

type ManagerOption func(*Manager)

func WithLongTerm(lt *LongTerm) ManagerOption {
	return func(m *Manager) { m.longTerm = lt }
}

func WithFileContext(fc *FileContext) ManagerOption {
	return func(m *Manager) { m.fileContext = fc }
}

func WithCompressor(c *Compressor) ManagerOption {
	return func(m *Manager) { m.compressor = c }
}

func WithShortTermLimit(n int) ManagerOption {
	return func(m *Manager) { m.shortTerm = NewShortTerm(n) }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		shortTerm:  NewShortTerm(0),
		compressor: NewCompressor(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) ShortTerm() *ShortTerm     { return m.shortTerm }
func (m *Manager) Compressor() *Compressor   { return m.compressor }
func (m *Manager) LongTerm() *LongTerm       { return m.longTerm }
func (m *Manager) FileContext() *FileContext { return m.fileContext }

func (m *Manager) AddUserMessage(text string) providers.Message {
	msg := providers.UserMessage(text)
	m.shortTerm.Add(msg)
	return msg
}

func (m *Manager) AddAssistantMessage(text string) providers.Message {
	msg := providers.AssistantMessage(text)
	m.shortTerm.Add(msg)
	return msg
}

func (m *Manager) AddAssistantBlocks(blocks []providers.ContentBlock) providers.Message {
	msg := providers.AssistantBlocks(blocks)
	m.shortTerm.Add(msg)
	return msg
}

func (m *Manager) AddToolResult(toolUseID, toolName, content string, isError bool) providers.Message {
	msg := providers.ToolResultMessage(toolUseID, toolName, content, isError)
	m.shortTerm.Add(msg)
	return msg
}

func (m *Manager) AddSystemMessage(text string) providers.Message {
	msg := providers.SystemMessage(text)
	m.shortTerm.Add(msg)
	return msg
}

// MessagesForAPI builds the history for the next model call: compresses when
// the context demands it (rewriting short-term memory on success) and
// injects the tracked-file window as a trailing system message. Compression
// failure degrades to the uncompressed history.
func (m *Manager) MessagesForAPI(ectx *session.ExecutionContext) []providers.Message {
	msgs := m.shortTerm.Messages()

	if m.compressor != nil {
		compressed, rec, err := m.compressor.CompressIfNeeded(msgs, ectx)
		if err != nil {
			slog.Warn("history compression failed, keeping full history", "error", err)
		} else if rec != nil {
			m.shortTerm.Replace(compressed)
			msgs = compressed
			slog.Info("history compressed",
				"original_messages", rec.OriginalCount,
				"compressed_messages", rec.CompressedCount,
				"tokens_saved", rec.TokensSaved)
		}
	}

	if m.fileContext != nil {
		if section := m.fileContext.FormatSection(); section != "" {
			msgs = append(msgs, providers.SystemMessage(section))
		}
	}
	return msgs
}

// Clear resets the short-term log and the file window. Long-term memory is
// untouched.
func (m *Manager) Clear() {
	m.shortTerm.Clear()
	if m.fileContext != nil {
		m.fileContext.Clear()
	}
}

// ManagerStats is a snapshot across tiers.
type ManagerStats struct {
	Messages          int              `json:"messages"`
	MessageTokens     int              `json:"message_tokens"`
	TrackedFiles      int              `json:"tracked_files"`
	FileTokens        int              `json:"file_tokens"`
	Compression       CompressionStats `json:"compression"`
	LongTermAvailable bool             `json:"long_term_available"`
}

func (m *Manager) Stats() ManagerStats {
	st := ManagerStats{
		Messages:      m.shortTerm.Len(),
		MessageTokens: m.shortTerm.TotalTokens(),
	}
	if m.fileContext != nil {
		st.TrackedFiles = m.fileContext.Len()
		st.FileTokens = m.fileContext.TotalTokens()
	}
	if m.compressor != nil {
		st.Compression = m.compressor.Stats()
	}
	st.LongTermAvailable = m.longTerm != nil
	return st
}
