package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateSequence(t *testing.T) {
	g := NewGenerator("sess-1")

	for want := uint64(1); want <= 5; want++ {
		ev := g.Generate("text_delta", map[string]any{"n": want})
		if ev.Seq != want {
			t.Errorf("Seq = %d, want %d", ev.Seq, want)
		}
		if ev.SessionID != "sess-1" {
			t.Errorf("SessionID = %q", ev.SessionID)
		}
		if _, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err != nil {
			t.Errorf("Timestamp %q: %v", ev.Timestamp, err)
		}
	}
	if g.Seq() != 5 {
		t.Errorf("Seq() = %d, want 5", g.Seq())
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	g := NewGenerator("s")
	const n = 200

	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seqs <- g.Generate("iteration", nil).Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, n)
	for s := range seqs {
		if seen[s] {
			t.Fatalf("duplicate seq %d", s)
		}
		seen[s] = true
	}
	if g.Seq() != n {
		t.Errorf("Seq() = %d, want %d", g.Seq(), n)
	}
}

func TestFormatSSE(t *testing.T) {
	g := NewGenerator("sess-2")
	ev := g.Generate("done", map[string]any{"final": true})

	out := g.FormatSSE(ev)
	lines := strings.Split(out, "\n")
	if lines[0] != "id: sess-2_1" {
		t.Errorf("id line = %q", lines[0])
	}
	if lines[1] != "event: done" {
		t.Errorf("event line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "data: ") {
		t.Fatalf("data line = %q", lines[2])
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &data); err != nil {
		t.Fatalf("data payload: %v", err)
	}
	if data["final"] != true {
		t.Errorf("data = %v", data)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Error("missing blank-line terminator")
	}
}

func TestFormatSSERetry(t *testing.T) {
	g := NewGenerator("s", WithRetry(3000))
	out := g.FormatSSE(g.Generate("error", nil))
	if !strings.Contains(out, "retry: 3000\n") {
		t.Errorf("missing retry line: %q", out)
	}
	// Retry sits between id and event.
	if strings.Index(out, "retry:") < strings.Index(out, "id:") ||
		strings.Index(out, "retry:") > strings.Index(out, "event:") {
		t.Errorf("retry line misplaced: %q", out)
	}
}

func TestFormatJSONL(t *testing.T) {
	g := NewGenerator("sess-3")
	ev := g.Generate("token_usage", map[string]any{"total": float64(42)})

	line := FormatJSONL(ev)
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("not a single line: %q", line)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["type"] != "token_usage" {
		t.Errorf("type = %v", obj["type"])
	}
	if obj["event_id"] != fmt.Sprintf("sess-3_%d", ev.Seq) {
		t.Errorf("event_id = %v", obj["event_id"])
	}
	data, ok := obj["data"].(map[string]any)
	if !ok || data["total"] != float64(42) {
		t.Errorf("data = %v", obj["data"])
	}
}
