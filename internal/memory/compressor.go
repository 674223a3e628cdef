package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// ErrCompressionFailed signals that summarization failed; callers keep the
// original history untouched.
var ErrCompressionFailed = errors.New("compression failed")

// DefaultKeepRecent is how many trailing non-system messages survive a
// compression verbatim.
const DefaultKeepRecent = 10

// Summary segment labels, in output order. Headers are stable so downstream
// parsers can rely on them.
var segmentOrder = []string{
	"Background Context",
	"Key Decisions",
	"Tool Usage Records",
	"User Intent Evolution",
	"Execution Results",
	"Error Handling",
	"Open Issues",
	"Future Plans",
}

// Compressor rewrites older history into a single structured summary
// message, preserving system messages and the most recent exchanges.
type Compressor struct {
	keepRecent int
	enabled    bool
	maxRecords int

	mu      sync.Mutex
	records []session.CompressionRecord
}

type CompressorOption func(*Compressor)

func WithKeepRecent(n int) CompressorOption {
	return func(c *Compressor) {
		if n > 0 {
			c.keepRecent = n
		}
	}
}

func WithCompressionEnabled(enabled bool) CompressorOption {
	return func(c *Compressor) { c.enabled = enabled }
}

func NewCompressor(opts ...CompressorOption) *Compressor {
	c := &Compressor{
		keepRecent: DefaultKeepRecent,
		enabled:    true,
		maxRecords: 10,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether compression passes are allowed at all.
func (c *Compressor) Enabled() bool { return c.enabled }

// CompressIfNeeded compresses when the context's usage rate crosses the
// compression threshold. Returns the (possibly rewritten) history.
func (c *Compressor) CompressIfNeeded(msgs []providers.Message, ectx *session.ExecutionContext) ([]providers.Message, *session.CompressionRecord, error) {
	if !c.enabled || !ectx.ShouldCompress() {
		return msgs, nil, nil
	}
	return c.ForceCompress(msgs, ectx)
}

// ForceCompress always attempts a compression pass. On any failure the
// input history is returned unchanged; messages are never lost.
func (c *Compressor) ForceCompress(msgs []providers.Message, ectx *session.ExecutionContext) (out []providers.Message, rec *session.CompressionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, rec = msgs, nil
			err = fmt.Errorf("%w: %v", ErrCompressionFailed, r)
		}
	}()

	var systems, conversation []providers.Message
	for _, m := range msgs {
		if m.Role == "system" {
			systems = append(systems, m)
		} else {
			conversation = append(conversation, m)
		}
	}

	if len(conversation) <= c.keepRecent {
		return msgs, nil, nil
	}

	toCompress := conversation[:len(conversation)-c.keepRecent]
	recent := conversation[len(conversation)-c.keepRecent:]

	segments := extractSegments(toCompress)
	summary := formatSummary(segments)

	originalTokens := providers.EstimateMessages(toCompress)
	summaryMsg := providers.SystemMessage(summary)
	compressedTokens := summaryMsg.Tokens()
	if compressedTokens >= originalTokens {
		slog.Warn("compression summary not smaller than source",
			"original_tokens", originalTokens, "summary_tokens", compressedTokens)
	}

	segCounts := make(map[string]int, len(segments))
	for name, frags := range segments {
		segCounts[name] = len(frags)
	}

	record := session.CompressionRecord{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		OriginalCount:    len(msgs),
		CompressedCount:  len(systems) + 1 + len(recent),
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		TokensSaved:      originalTokens - compressedTokens,
		Segments:         segCounts,
	}
	if originalTokens > 0 {
		record.Ratio = float64(compressedTokens) / float64(originalTokens)
	}

	c.mu.Lock()
	c.records = append(c.records, record)
	if len(c.records) > c.maxRecords {
		c.records = c.records[len(c.records)-c.maxRecords:]
	}
	c.mu.Unlock()

	ectx.MarkCompressed(record)

	out = make([]providers.Message, 0, len(systems)+1+len(recent))
	out = append(out, systems...)
	out = append(out, summaryMsg)
	out = append(out, recent...)
	return out, &record, nil
}

// Records returns the retained compression records, oldest first.
func (c *Compressor) Records() []session.CompressionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.CompressionRecord, len(c.records))
	copy(out, c.records)
	return out
}

// CompressionStats summarizes the retained records.
type CompressionStats struct {
	TotalCompressions int     `json:"total_compressions"`
	TotalTokensSaved  int     `json:"total_tokens_saved"`
	AverageRatio      float64 `json:"average_ratio"`
}

func (c *Compressor) Stats() CompressionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CompressionStats{TotalCompressions: len(c.records)}
	var ratioSum float64
	for _, r := range c.records {
		st.TotalTokensSaved += r.TokensSaved
		ratioSum += r.Ratio
	}
	if len(c.records) > 0 {
		st.AverageRatio = ratioSum / float64(len(c.records))
	}
	return st
}

const maxFragmentLen = 150

// extractSegments runs the eight pure extractors over the messages headed
// for compression.
func extractSegments(msgs []providers.Message) map[string][]string {
	return map[string][]string{
		"Background Context":    extractBackground(msgs),
		"Key Decisions":         extractByKeywords(msgs, []string{"decided", "decide", "choose", "chose", "approach", "selected", "will use"}, 10),
		"Tool Usage Records":    extractToolUsage(msgs),
		"User Intent Evolution": extractIntentEvolution(msgs),
		"Execution Results":     extractByKeywords(msgs, []string{"completed", "success", "created", "finished", "done", "implemented"}, 10),
		"Error Handling":        extractByKeywords(msgs, []string{"error", "failed", "failure", "exception", "warning"}, 5),
		"Open Issues":           extractByKeywords(msgs, []string{"todo", "need to", "needs to", "pending", "unresolved", "remaining"}, 5),
		"Future Plans":          extractByKeywords(msgs, []string{"next", "will ", "plan to", "going to", "later"}, 5),
	}
}

func trimFragment(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) > maxFragmentLen {
		cut := maxFragmentLen
		// Never split a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

// extractBackground takes the opening of the conversation: the first five
// messages, one fragment each.
func extractBackground(msgs []providers.Message) []string {
	var frags []string
	for i := 0; i < len(msgs) && i < 5; i++ {
		text := msgs[i].Text()
		if text == "" {
			continue
		}
		frags = append(frags, fmt.Sprintf("[%s] %s", msgs[i].Role, trimFragment(text)))
	}
	return frags
}

func extractByKeywords(msgs []providers.Message, keywords []string, limit int) []string {
	var frags []string
	for i := range msgs {
		text := msgs[i].Text()
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				frags = append(frags, trimFragment(text))
				break
			}
		}
		if len(frags) >= limit {
			break
		}
	}
	return frags
}

func extractToolUsage(msgs []providers.Message) []string {
	var frags []string
	for i := range msgs {
		msg := &msgs[i]
		for _, use := range msg.ToolUses() {
			frags = append(frags, fmt.Sprintf("called %s", use.Name))
		}
		if msg.Role == "tool" && msg.ToolName != "" {
			status := "ok"
			if len(msg.Blocks) > 0 && msg.Blocks[0].IsError {
				status = "error"
			}
			frags = append(frags, fmt.Sprintf("%s → %s", msg.ToolName, status))
		}
		if len(frags) >= 10 {
			return frags[:10]
		}
	}
	return frags
}

// extractIntentEvolution reports the first and latest user messages.
func extractIntentEvolution(msgs []providers.Message) []string {
	var first, last string
	for i := range msgs {
		if msgs[i].Role != "user" {
			continue
		}
		text := msgs[i].Text()
		if text == "" {
			continue
		}
		if first == "" {
			first = text
		}
		last = text
	}
	if first == "" {
		return nil
	}
	frags := []string{"initial: " + trimFragment(first)}
	if last != first {
		frags = append(frags, "latest: "+trimFragment(last))
	}
	return frags
}

// formatSummary renders the eight segments as Markdown with stable headers.
func formatSummary(segments map[string][]string) string {
	var sb strings.Builder
	sb.WriteString("# Conversation Summary (compressed)\n")
	for _, name := range segmentOrder {
		sb.WriteString("\n## " + name + "\n")
		frags := segments[name]
		if len(frags) == 0 {
			sb.WriteString("- (none)\n")
			continue
		}
		for _, f := range frags {
			sb.WriteString("- " + f + "\n")
		}
	}
	return sb.String()
}
