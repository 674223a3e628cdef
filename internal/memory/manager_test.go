package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

func TestManagerAddHelpers(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("u")
	m.AddAssistantMessage("a")
	m.AddSystemMessage("s")
	m.AddToolResult("t1", "exec", "out", false)

	st := m.ShortTerm()
	if st.Len() != 4 {
		t.Fatalf("Len = %d, want 4", st.Len())
	}
	for role, want := range map[string]int{"user": 1, "assistant": 1, "system": 1, "tool": 1} {
		if got := st.RoleCount(role); got != want {
			t.Errorf("RoleCount(%s) = %d, want %d", role, got, want)
		}
	}
}

func TestMessagesForAPICompressesUnderPressure(t *testing.T) {
	m := NewManager()
	for _, msg := range conversation(30) {
		m.ShortTerm().Add(msg)
	}
	ectx := compressibleContext(t)

	msgs := m.MessagesForAPI(ectx)
	if len(msgs) >= 31 {
		t.Errorf("history not compressed: %d messages", len(msgs))
	}
	// The rewrite is persisted, not just returned.
	if m.ShortTerm().Len() != len(msgs) {
		t.Errorf("short-term log = %d, view = %d", m.ShortTerm().Len(), len(msgs))
	}
}

func TestMessagesForAPIInjectsFileSection(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)
	if err := fc.Track(filepath.Join(root, "main.go"), "package main", 1); err != nil {
		t.Fatal(err)
	}

	m := NewManager(WithFileContext(fc))
	m.AddUserMessage("hello")
	ectx := session.NewExecutionContext("s", "m")

	msgs := m.MessagesForAPI(ectx)
	last := msgs[len(msgs)-1]
	if last.Role != "system" || !strings.Contains(last.Content, "# File Context") {
		t.Errorf("last message = %+v, want file-context system message", last)
	}
	// The injected section is a view, not part of the log.
	if m.ShortTerm().Len() != 1 {
		t.Errorf("short-term log grew to %d", m.ShortTerm().Len())
	}
}

func TestManagerClear(t *testing.T) {
	fc := NewFileContext(t.TempDir())
	m := NewManager(WithFileContext(fc))
	m.AddUserMessage("x")
	fc.Track(filepath.Join(fc.root, "a.go"), "content", 1)

	m.Clear()
	if m.ShortTerm().Len() != 0 || fc.Len() != 0 {
		t.Errorf("state after Clear: messages=%d files=%d", m.ShortTerm().Len(), fc.Len())
	}
}

func TestManagerStats(t *testing.T) {
	lt := NewLongTerm("")
	fc := NewFileContext(t.TempDir())
	m := NewManager(WithLongTerm(lt), WithFileContext(fc))
	m.AddUserMessage("hello")
	fc.Track(filepath.Join(fc.root, "a.go"), "content", 1)

	st := m.Stats()
	if st.Messages != 1 || st.TrackedFiles != 1 || !st.LongTermAvailable {
		t.Errorf("stats = %+v", st)
	}
	if st.MessageTokens == 0 || st.FileTokens == 0 {
		t.Errorf("token counts missing: %+v", st)
	}
}
