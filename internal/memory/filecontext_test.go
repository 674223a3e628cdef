package memory

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTrackValidatesPaths(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)

	if err := fc.Track(filepath.Join(root, "main.go"), "package main", 1); err != nil {
		t.Fatalf("Track inside root: %v", err)
	}

	err := fc.Track("/usr/lib/os-release", "data", 1)
	if !errors.Is(err, ErrPathOutsideRoot) {
		t.Errorf("outside root: err = %v, want ErrPathOutsideRoot", err)
	}

	for _, name := range []string{".env", "id_rsa", "credentials.json", "secret.txt"} {
		err := fc.Track(filepath.Join(root, name), "data", 1)
		if !errors.Is(err, ErrSensitivePath) {
			t.Errorf("%s: err = %v, want ErrSensitivePath", name, err)
		}
	}

	if fc.Len() != 1 {
		t.Errorf("Len = %d, want 1", fc.Len())
	}
}

func TestTrackTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root, WithMaxTokensPerFile(10))

	big := strings.Repeat("x", 200)
	if err := fc.Track(filepath.Join(root, "big.txt"), big, 1); err != nil {
		t.Fatal(err)
	}

	files := fc.Files()
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	tf := files[0]
	if !tf.Truncated {
		t.Error("Truncated = false")
	}
	if !strings.HasSuffix(tf.Content, "... [truncated]") {
		t.Errorf("missing truncation trailer: %q", tf.Content[len(tf.Content)-30:])
	}
	// The bound holds after truncation, trailer included.
	if tf.Tokens > 10 {
		t.Errorf("Tokens = %d, exceeds per-file bound 10", tf.Tokens)
	}
	// 10 tokens is 40 bytes total: trailer takes 16, content keeps 24.
	if !strings.HasPrefix(tf.Content, strings.Repeat("x", 24)) || strings.HasPrefix(tf.Content, strings.Repeat("x", 25)) {
		t.Errorf("kept %d leading chars, want 24", strings.Count(tf.Content, "x"))
	}
	if tf.Size != 200 {
		t.Errorf("Size = %d, want original byte length 200", tf.Size)
	}
}

func TestTrackTruncatesOnRuneBoundary(t *testing.T) {
	root := t.TempDir()
	// 11 tokens budgets 28 content bytes, which lands mid-rune for
	// three-byte runes.
	fc := NewFileContext(root, WithMaxTokensPerFile(11))

	big := strings.Repeat("世", 100)
	if err := fc.Track(filepath.Join(root, "cjk.txt"), big, 1); err != nil {
		t.Fatal(err)
	}

	tf := fc.Files()[0]
	if !tf.Truncated {
		t.Fatal("Truncated = false")
	}
	if !utf8.ValidString(tf.Content) {
		t.Errorf("truncated content is not valid UTF-8: %q", tf.Content[:30])
	}
	if tf.Tokens > 11 {
		t.Errorf("Tokens = %d, exceeds per-file bound 11", tf.Tokens)
	}
}

func TestEvictionByFileCount(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root, WithMaxFiles(2))

	mustTrack := func(name string, priority int) {
		t.Helper()
		if err := fc.Track(filepath.Join(root, name), "content", priority); err != nil {
			t.Fatal(err)
		}
	}
	mustTrack("low_old.go", 1)
	mustTrack("high.go", 5)
	mustTrack("low_new.go", 1)

	if fc.Len() != 2 {
		t.Fatalf("Len = %d, want 2", fc.Len())
	}
	// The oldest low-priority file goes first.
	var names []string
	for _, tf := range fc.Files() {
		names = append(names, filepath.Base(tf.Path))
	}
	want := []string{"high.go", "low_new.go"}
	for i, w := range want {
		if i >= len(names) || names[i] != w {
			t.Fatalf("files = %v, want %v", names, want)
		}
	}
}

func TestEvictionByTotalTokens(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root, WithMaxTotalTokens(20))

	// Each file is 10 tokens (40 chars). Three files exceed the 20-token cap.
	content := strings.Repeat("y", 40)
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		if err := fc.Track(filepath.Join(root, name), content, 1); err != nil {
			t.Fatal(err)
		}
	}

	if fc.TotalTokens() > 20 {
		t.Errorf("TotalTokens = %d, exceeds cap", fc.TotalTokens())
	}
	if fc.Len() != 2 {
		t.Errorf("Len = %d, want 2", fc.Len())
	}
}

func TestTrackRefreshesExisting(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)
	path := filepath.Join(root, "f.go")

	if err := fc.Track(path, "v1", 1); err != nil {
		t.Fatal(err)
	}
	if err := fc.Track(path, "v2", 3); err != nil {
		t.Fatal(err)
	}

	files := fc.Files()
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	if files[0].Content != "v2" || files[0].Priority != 3 {
		t.Errorf("file = %+v, want refreshed content and priority", files[0])
	}
}

func TestFormatSection(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)

	if fc.FormatSection() != "" {
		t.Error("empty window produced a section")
	}

	fc.Track(filepath.Join(root, "low.go"), "low content", 1)
	fc.Track(filepath.Join(root, "high.go"), "high content", 5)

	section := fc.FormatSection()
	if !strings.HasPrefix(section, "# File Context\n") {
		t.Errorf("missing header: %q", section)
	}
	// Rendered highest priority first, with root-relative names.
	hi := strings.Index(section, "## high.go")
	lo := strings.Index(section, "## low.go")
	if hi == -1 || lo == -1 || hi > lo {
		t.Errorf("ordering wrong: high at %d, low at %d", hi, lo)
	}
	if !strings.Contains(section, "```\nhigh content\n```") {
		t.Errorf("missing fenced content: %q", section)
	}
}

func TestTrackClampsScores(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)

	if err := fc.TrackScored(filepath.Join(root, "a.go"), "x", 99, 3.5); err != nil {
		t.Fatal(err)
	}
	if err := fc.TrackScored(filepath.Join(root, "b.go"), "x", -4, -0.5); err != nil {
		t.Fatal(err)
	}

	files := fc.Files()
	if files[0].Priority != 10 || files[0].Relevance != 1.0 {
		t.Errorf("a.go = priority %d relevance %g, want 10/1.0", files[0].Priority, files[0].Relevance)
	}
	if files[1].Priority != 0 || files[1].Relevance != 0.0 {
		t.Errorf("b.go = priority %d relevance %g, want 0/0.0", files[1].Priority, files[1].Relevance)
	}
}

func TestEvictionRelevanceTieBreak(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root, WithMaxFiles(2))

	// Same priority: lower relevance goes first even though it is newer.
	if err := fc.TrackScored(filepath.Join(root, "strong.go"), "x", 5, 0.9); err != nil {
		t.Fatal(err)
	}
	if err := fc.TrackScored(filepath.Join(root, "weak.go"), "x", 5, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := fc.TrackScored(filepath.Join(root, "mid.go"), "x", 5, 0.5); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, tf := range fc.Files() {
		names = append(names, filepath.Base(tf.Path))
	}
	want := []string{"strong.go", "mid.go"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("files = %v, want %v", names, want)
	}
}

func TestUntrack(t *testing.T) {
	root := t.TempDir()
	fc := NewFileContext(root)
	path := filepath.Join(root, "f.go")
	fc.Track(path, "content", 1)

	fc.Untrack(path)
	if fc.Len() != 0 {
		t.Errorf("Len = %d after Untrack", fc.Len())
	}
}
