package memory

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
)

func compressibleContext(t *testing.T) *session.ExecutionContext {
	t.Helper()
	ectx := session.NewExecutionContext("s", "claude-sonnet-4-5-20250929")
	// Push usage over the compression threshold (0.92 of 200k).
	if err := ectx.UpdateTokenUsage(185_000, 0); err != nil {
		t.Fatal(err)
	}
	return ectx
}

func conversation(n int) []providers.Message {
	msgs := []providers.Message{providers.SystemMessage("base instructions")}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, providers.UserMessage(fmt.Sprintf("user message %d, decided to use approach %d", i, i)))
		} else {
			msgs = append(msgs, providers.AssistantMessage(fmt.Sprintf("assistant message %d, completed step %d", i, i)))
		}
	}
	return msgs
}

func TestForceCompressStructure(t *testing.T) {
	c := NewCompressor(WithKeepRecent(10))
	ectx := compressibleContext(t)
	msgs := conversation(30)

	out, rec, err := c.ForceCompress(msgs, ectx)
	if err != nil {
		t.Fatalf("ForceCompress: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a compression record")
	}

	// Shape: systems, then one summary, then the 10 most recent.
	if len(out) != 1+1+10 {
		t.Fatalf("len(out) = %d, want 12", len(out))
	}
	if out[0].Role != "system" || out[0].Text() != "base instructions" {
		t.Errorf("out[0] = %+v, want original system message", out[0])
	}
	if out[1].Role != "system" || !strings.Contains(out[1].Text(), "Conversation Summary") {
		t.Errorf("out[1] is not the summary: %q", out[1].Text())
	}
	recent := msgs[len(msgs)-10:]
	for i, m := range out[2:] {
		if m.Text() != recent[i].Text() {
			t.Errorf("recent[%d] = %q, want %q", i, m.Text(), recent[i].Text())
		}
	}

	if !ectx.IsCompressed() {
		t.Error("context not marked compressed")
	}
	if rec.OriginalCount != len(msgs) {
		t.Errorf("OriginalCount = %d, want %d", rec.OriginalCount, len(msgs))
	}
	if rec.CompressedCount != len(out) {
		t.Errorf("CompressedCount = %d, want %d", rec.CompressedCount, len(out))
	}
}

func TestSummaryHasAllSegments(t *testing.T) {
	c := NewCompressor()
	ectx := compressibleContext(t)

	out, _, err := c.ForceCompress(conversation(25), ectx)
	if err != nil {
		t.Fatal(err)
	}
	summary := out[1].Text()
	for _, name := range segmentOrder {
		if !strings.Contains(summary, "## "+name) {
			t.Errorf("summary missing segment %q", name)
		}
	}
}

func TestCompressNoOpWhenShort(t *testing.T) {
	c := NewCompressor(WithKeepRecent(10))
	ectx := compressibleContext(t)
	msgs := conversation(8)

	out, rec, err := c.ForceCompress(msgs, ectx)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("expected no record for short history")
	}
	if len(out) != len(msgs) {
		t.Errorf("history changed: %d messages, want %d", len(out), len(msgs))
	}
}

func TestCompressIfNeededGating(t *testing.T) {
	msgs := conversation(30)

	t.Run("below threshold", func(t *testing.T) {
		c := NewCompressor()
		ectx := session.NewExecutionContext("s", "claude-sonnet-4-5-20250929")
		out, rec, err := c.CompressIfNeeded(msgs, ectx)
		if err != nil || rec != nil || len(out) != len(msgs) {
			t.Errorf("out=%d rec=%v err=%v, want untouched history", len(out), rec, err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		c := NewCompressor(WithCompressionEnabled(false))
		ectx := compressibleContext(t)
		out, rec, err := c.CompressIfNeeded(msgs, ectx)
		if err != nil || rec != nil || len(out) != len(msgs) {
			t.Errorf("out=%d rec=%v err=%v, want untouched history", len(out), rec, err)
		}
	})

	t.Run("over threshold", func(t *testing.T) {
		c := NewCompressor()
		ectx := compressibleContext(t)
		out, rec, err := c.CompressIfNeeded(msgs, ectx)
		if err != nil || rec == nil {
			t.Fatalf("rec=%v err=%v, want compression", rec, err)
		}
		if len(out) >= len(msgs) {
			t.Errorf("history not reduced: %d -> %d", len(msgs), len(out))
		}
	})
}

func TestCompressorStats(t *testing.T) {
	c := NewCompressor()
	ectx := compressibleContext(t)

	for i := 0; i < 3; i++ {
		if _, rec, err := c.ForceCompress(conversation(30), ectx); err != nil || rec == nil {
			t.Fatalf("pass %d: rec=%v err=%v", i, rec, err)
		}
	}

	st := c.Stats()
	if st.TotalCompressions != 3 {
		t.Errorf("TotalCompressions = %d, want 3", st.TotalCompressions)
	}
	if len(c.Records()) != 3 {
		t.Errorf("Records = %d, want 3", len(c.Records()))
	}
}

func TestExtractIntentEvolution(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("build me a parser"),
		providers.AssistantMessage("sure"),
		providers.UserMessage("actually make it a streaming parser"),
	}
	frags := extractIntentEvolution(msgs)
	if len(frags) != 2 {
		t.Fatalf("frags = %v, want 2 entries", frags)
	}
	if !strings.HasPrefix(frags[0], "initial: build me a parser") {
		t.Errorf("frags[0] = %q", frags[0])
	}
	if !strings.HasPrefix(frags[1], "latest: actually make it a streaming parser") {
		t.Errorf("frags[1] = %q", frags[1])
	}
}

func TestTrimFragment(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := trimFragment(long)
	if len(got) != maxFragmentLen+3 {
		t.Errorf("len = %d, want %d", len(got), maxFragmentLen+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got[len(got)-5:])
	}
	if got := trimFragment("line\nbreak"); got != "line break" {
		t.Errorf("newline handling: %q", got)
	}

	// The cut never splits a multi-byte rune.
	cjk := "a" + strings.Repeat("世", 60)
	got = trimFragment(cjk)
	if !utf8.ValidString(got) {
		t.Errorf("fragment is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis on rune-boundary cut: %q", got)
	}
}
