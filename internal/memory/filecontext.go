package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/clawcore/internal/tokens"
)

var (
	ErrPathOutsideRoot = errors.New("path outside project root")
	ErrSensitivePath   = errors.New("sensitive path rejected")
)

// File context bounds. Per-file content over the token cap is truncated;
// when the total cap is hit, lowest-priority entries are evicted first.
const (
	DefaultMaxFiles         = 20
	DefaultMaxTokensPerFile = 8192
	DefaultMaxTotalTokens   = 32768
)

// Name fragments that mark a file as off-limits for injection.
var sensitiveFragments = []string{
	".env",
	".git/",
	"id_rsa",
	"credentials",
	"secret",
	"password",
}

// truncationTrailer marks content cut to fit the per-file token bound. Its
// length is budgeted into the cut so the bound holds after re-estimation.
const truncationTrailer = "\n... [truncated]"

// TrackedFile is one file held in the injection window. Size is the byte
// length of the original content, before any truncation.
type TrackedFile struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Size      int       `json:"size"`
	Tokens    int       `json:"tokens"`
	Priority  int       `json:"priority"`  // 0..10
	Relevance float64   `json:"relevance"` // 0.0..1.0
	Truncated bool      `json:"truncated"`
	AddedAt   time.Time `json:"added_at"`
}

// FileContext tracks files the agent has touched and renders them as a
// prompt section, under hard file-count and token bounds.
type FileContext struct {
	root             string
	maxFiles         int
	maxTokensPerFile int
	maxTotalTokens   int

	mu    sync.Mutex
	files map[string]*TrackedFile
	order []string // insertion order, oldest first
}

type FileContextOption func(*FileContext)

func WithMaxFiles(n int) FileContextOption {
	return func(f *FileContext) {
		if n > 0 {
			f.maxFiles = n
		}
	}
}

func WithMaxTokensPerFile(n int) FileContextOption {
	return func(f *FileContext) {
		if n > 0 {
			f.maxTokensPerFile = n
		}
	}
}

func WithMaxTotalTokens(n int) FileContextOption {
	return func(f *FileContext) {
		if n > 0 {
			f.maxTotalTokens = n
		}
	}
}

func NewFileContext(root string, opts ...FileContextOption) *FileContext {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	f := &FileContext{
		root:             abs,
		maxFiles:         DefaultMaxFiles,
		maxTokensPerFile: DefaultMaxTokensPerFile,
		maxTotalTokens:   DefaultMaxTotalTokens,
		files:            make(map[string]*TrackedFile),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// validatePath resolves the path and rejects anything escaping the project
// root (temp-dir paths excepted) or matching a sensitive name fragment.
func (f *FileContext) validatePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	inRoot := abs == f.root || strings.HasPrefix(abs, f.root+string(filepath.Separator))
	inTemp := strings.HasPrefix(abs, os.TempDir())
	if !inRoot && !inTemp {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}

	lower := strings.ToLower(filepath.ToSlash(abs))
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return "", fmt.Errorf("%w: %s", ErrSensitivePath, path)
		}
	}
	return abs, nil
}

// Track adds or refreshes a file in the window with full relevance. Higher
// priority survives eviction longer.
func (f *FileContext) Track(path, content string, priority int) error {
	return f.TrackScored(path, content, priority, 1.0)
}

// TrackScored adds or refreshes a file with an explicit relevance score.
// Priority is clamped to 0..10, relevance to 0.0..1.0.
func (f *FileContext) TrackScored(path, content string, priority int, relevance float64) error {
	abs, err := f.validatePath(path)
	if err != nil {
		return err
	}

	priority = clampInt(priority, 0, 10)
	relevance = clampFloat(relevance, 0, 1)
	size := len(content)

	truncated := false
	tok := tokens.Estimate(content)
	if tok > f.maxTokensPerFile {
		keep := f.maxTokensPerFile*4 - len(truncationTrailer)
		if keep < 0 {
			keep = 0
		}
		if keep < len(content) {
			// Back up to a rune boundary so the cut never emits invalid UTF-8.
			for keep > 0 && !utf8.RuneStart(content[keep]) {
				keep--
			}
			content = content[:keep] + truncationTrailer
			truncated = true
			tok = tokens.Estimate(content)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.files[abs]; ok {
		existing.Content = content
		existing.Size = size
		existing.Tokens = tok
		existing.Priority = priority
		existing.Relevance = relevance
		existing.Truncated = truncated
		existing.AddedAt = time.Now().UTC()
		f.evictLocked()
		return nil
	}

	f.files[abs] = &TrackedFile{
		Path:      abs,
		Content:   content,
		Size:      size,
		Tokens:    tok,
		Priority:  priority,
		Relevance: relevance,
		Truncated: truncated,
		AddedAt:   time.Now().UTC(),
	}
	f.order = append(f.order, abs)
	f.evictLocked()
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TrackFromDisk reads the file and tracks its current content.
func (f *FileContext) TrackFromDisk(path string, priority int) error {
	abs, err := f.validatePath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read tracked file: %w", err)
	}
	return f.Track(abs, string(data), priority)
}

// evictLocked enforces the file-count and total-token bounds. Victims are
// lowest priority first, lowest relevance within a priority, oldest within
// both.
func (f *FileContext) evictLocked() {
	for len(f.files) > f.maxFiles || f.totalTokensLocked() > f.maxTotalTokens {
		var victim *TrackedFile
		for _, path := range f.order {
			tf, ok := f.files[path]
			if !ok {
				continue
			}
			if victim == nil ||
				tf.Priority < victim.Priority ||
				(tf.Priority == victim.Priority && tf.Relevance < victim.Relevance) {
				victim = tf
			}
		}
		if victim == nil {
			return
		}
		slog.Debug("file context eviction",
			"path", victim.Path, "priority", victim.Priority, "relevance", victim.Relevance)
		f.removeLocked(victim.Path)
	}
}

func (f *FileContext) removeLocked(path string) {
	delete(f.files, path)
	for i, p := range f.order {
		if p == path {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *FileContext) totalTokensLocked() int {
	total := 0
	for _, tf := range f.files {
		total += tf.Tokens
	}
	return total
}

// Untrack drops a file from the window.
func (f *FileContext) Untrack(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	f.mu.Lock()
	f.removeLocked(abs)
	f.mu.Unlock()
}

// Files returns the tracked files, insertion order.
func (f *FileContext) Files() []TrackedFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TrackedFile, 0, len(f.files))
	for _, path := range f.order {
		if tf, ok := f.files[path]; ok {
			out = append(out, *tf)
		}
	}
	return out
}

func (f *FileContext) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func (f *FileContext) TotalTokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalTokensLocked()
}

func (f *FileContext) Clear() {
	f.mu.Lock()
	f.files = make(map[string]*TrackedFile)
	f.order = nil
	f.mu.Unlock()
}

// FormatSection renders the window for injection into the conversation,
// highest priority first. Empty when nothing is tracked.
func (f *FileContext) FormatSection() string {
	files := f.Files()
	if len(files) == 0 {
		return ""
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Priority > files[j].Priority
	})

	var sb strings.Builder
	sb.WriteString("# File Context\n")
	for _, tf := range files {
		rel, err := filepath.Rel(f.root, tf.Path)
		if err != nil {
			rel = tf.Path
		}
		sb.WriteString("\n## " + rel + "\n")
		if tf.Truncated {
			sb.WriteString("(truncated)\n")
		}
		sb.WriteString("```\n" + tf.Content + "\n```\n")
	}
	return sb.String()
}
