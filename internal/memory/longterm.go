package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Long-term memory section headings. Stable: the file round-trips through
// parse/serialize.
const (
	sectionProject      = "Project Information"
	sectionPreferences  = "User Preferences"
	sectionEnvironment  = "Development Environment"
	sectionWorkflow     = "Development Workflow"
	sectionSecurity     = "Security Guidelines"
	sectionInstructions = "Custom Instructions"
)

// ProjectFacts are the structured long-term facts about the project.
type ProjectFacts struct {
	Name         string
	Description  string
	TechStack    []string
	Preferences  []string
	Environment  []string
	Workflow     []string
	Security     []string
	Instructions []string
}

// LongTerm persists project-level facts as a single Markdown document and
// serves a compact snippet for system prompts.
type LongTerm struct {
	path string

	mu    sync.RWMutex
	facts ProjectFacts
}

func NewLongTerm(path string) *LongTerm {
	return &LongTerm{path: path}
}

func (l *LongTerm) Path() string { return l.path }

func (l *LongTerm) Facts() ProjectFacts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.facts
}

func (l *LongTerm) SetFacts(f ProjectFacts) {
	l.mu.Lock()
	l.facts = f
	l.mu.Unlock()
}

// Load parses the memory file. Best-effort: a missing file is not an error,
// unknown content is skipped.
func (l *LongTerm) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load long-term memory: %w", err)
	}

	facts := parseFacts(string(data))
	l.mu.Lock()
	l.facts = facts
	l.mu.Unlock()
	return nil
}

// Save serializes the facts deterministically.
func (l *LongTerm) Save() error {
	l.mu.RLock()
	content := serializeFacts(l.facts)
	l.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("save long-term memory: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("save long-term memory: %w", err)
	}
	return nil
}

// Snippet returns a compact rendering for system-prompt inclusion, empty
// when nothing is recorded.
func (l *LongTerm) Snippet() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f := l.facts

	var sb strings.Builder
	if f.Name != "" {
		sb.WriteString("Project: " + f.Name)
		if f.Description != "" {
			sb.WriteString(" — " + f.Description)
		}
		sb.WriteString("\n")
	}
	if len(f.TechStack) > 0 {
		sb.WriteString("Tech stack: " + strings.Join(f.TechStack, ", ") + "\n")
	}
	writeCompactList(&sb, "Preferences", f.Preferences)
	writeCompactList(&sb, "Workflow", f.Workflow)
	writeCompactList(&sb, "Instructions", f.Instructions)
	return strings.TrimRight(sb.String(), "\n")
}

func writeCompactList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	max := 5
	if len(items) < max {
		max = len(items)
	}
	sb.WriteString(label + ": " + strings.Join(items[:max], "; ") + "\n")
}

// Watch reloads the file when it changes on disk, until ctx is cancelled.
// External edits (the user maintaining MEMORY.md by hand) show up on the
// next prompt build.
func (l *LongTerm) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch long-term memory: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("watch long-term memory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch long-term memory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != l.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.Load(); err != nil {
					slog.Warn("long-term memory reload failed", "path", l.path, "error", err)
				} else {
					slog.Debug("long-term memory reloaded", "path", l.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("long-term memory watcher error", "error", err)
			}
		}
	}()
	return nil
}

func parseFacts(content string) ProjectFacts {
	var facts ProjectFacts
	var section string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			section = strings.TrimPrefix(trimmed, "## ")
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "# ") {
			continue
		}

		switch section {
		case sectionProject:
			switch {
			case strings.HasPrefix(trimmed, "Name:"):
				facts.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "Name:"))
			case strings.HasPrefix(trimmed, "Description:"):
				facts.Description = strings.TrimSpace(strings.TrimPrefix(trimmed, "Description:"))
			case strings.HasPrefix(trimmed, "Tech stack:"):
				for _, t := range strings.Split(strings.TrimPrefix(trimmed, "Tech stack:"), ",") {
					if t = strings.TrimSpace(t); t != "" {
						facts.TechStack = append(facts.TechStack, t)
					}
				}
			}
		case sectionPreferences:
			if item, ok := strings.CutPrefix(trimmed, "- "); ok {
				facts.Preferences = append(facts.Preferences, item)
			}
		case sectionEnvironment:
			if item, ok := strings.CutPrefix(trimmed, "- "); ok {
				facts.Environment = append(facts.Environment, item)
			}
		case sectionWorkflow:
			if item, ok := strings.CutPrefix(trimmed, "- "); ok {
				facts.Workflow = append(facts.Workflow, item)
			}
		case sectionSecurity:
			if item, ok := strings.CutPrefix(trimmed, "- "); ok {
				facts.Security = append(facts.Security, item)
			}
		case sectionInstructions:
			if item, ok := strings.CutPrefix(trimmed, "- "); ok {
				facts.Instructions = append(facts.Instructions, item)
			}
		}
	}
	return facts
}

func serializeFacts(f ProjectFacts) string {
	var sb strings.Builder
	sb.WriteString("# Long-Term Memory\n")

	sb.WriteString("\n## " + sectionProject + "\n")
	if f.Name != "" {
		sb.WriteString("Name: " + f.Name + "\n")
	}
	if f.Description != "" {
		sb.WriteString("Description: " + f.Description + "\n")
	}
	if len(f.TechStack) > 0 {
		sb.WriteString("Tech stack: " + strings.Join(f.TechStack, ", ") + "\n")
	}

	writeSection(&sb, sectionPreferences, f.Preferences)
	writeSection(&sb, sectionEnvironment, f.Environment)
	writeSection(&sb, sectionWorkflow, f.Workflow)
	writeSection(&sb, sectionSecurity, f.Security)
	writeSection(&sb, sectionInstructions, f.Instructions)
	return sb.String()
}

func writeSection(sb *strings.Builder, heading string, items []string) {
	sb.WriteString("\n## " + heading + "\n")
	for _, item := range items {
		sb.WriteString("- " + item + "\n")
	}
}
