package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestBuildSystemPromptSections(t *testing.T) {
	ectx := session.NewExecutionContext("sess-9", "claude-sonnet-4-5-20250929")
	catalog := []providers.ToolDefinition{
		{Name: "read_file", Description: "read a file"},
		{Name: "exec", Description: "run a shell command"},
	}
	prompt := BuildSystemPrompt(ectx, catalog, PromptConfig{
		BaseInstructions:    "Follow the house rules.",
		Workspace:           "/work",
		IncludeSubagentInfo: true,
		LongTermSnippet:     "Project: demo",
		FileContextSection:  "# File Context\n\n## a.go\n```\npackage a\n```\n",
		Now:                 fixedNow,
	})

	if !strings.HasPrefix(prompt, "Follow the house rules.\n\n") {
		t.Errorf("base instructions missing: %q", prompt[:50])
	}
	for _, want := range []string{
		"# Environment",
		"Session: sess-9",
		"Model: claude-sonnet-4-5-20250929",
		"Working directory: /work",
		"Time: 2026-08-24T12:00:00Z",
		"Token usage: 0 / 200000 (0.0%)",
		"# Available Tools",
		"## File Operations",
		"- read_file: read a file",
		"## System",
		"- exec: run a shell command",
		"# Sub-agents",
		"# Project Memory",
		"Project: demo",
		"# File Context",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	for _, absent := range []string{"# Note", "# Token Alert"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("prompt should not contain %q yet", absent)
		}
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	ectx := session.NewExecutionContext("s", "m")
	catalog := []providers.ToolDefinition{
		{Name: "write_file"}, {Name: "read_file"}, {Name: "exec"},
	}
	cfg := PromptConfig{Now: fixedNow}

	if a, b := BuildSystemPrompt(ectx, catalog, cfg), BuildSystemPrompt(ectx, catalog, cfg); a != b {
		t.Error("same inputs produced different prompts")
	}

	// Catalog order does not matter.
	reversed := []providers.ToolDefinition{
		{Name: "exec"}, {Name: "read_file"}, {Name: "write_file"},
	}
	if a, b := BuildSystemPrompt(ectx, catalog, cfg), BuildSystemPrompt(ectx, reversed, cfg); a != b {
		t.Error("catalog order changed the prompt")
	}
}

func TestToolCategoryOverflow(t *testing.T) {
	ectx := session.NewExecutionContext("s", "m")
	var catalog []providers.ToolDefinition
	for i := 0; i < 8; i++ {
		catalog = append(catalog, providers.ToolDefinition{Name: fmt.Sprintf("read_file_%d", i)})
	}

	prompt := BuildSystemPrompt(ectx, catalog, PromptConfig{Now: fixedNow})
	if !strings.Contains(prompt, "- +3 more") {
		t.Errorf("overflow marker missing:\n%s", prompt)
	}
	if strings.Contains(prompt, "read_file_5") {
		t.Error("tools past the cap were listed")
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"read_file", "File Operations"},
		{"grep_code", "Code Analysis"},
		{"spawn_subagent", "Sub-agents"},
		{"exec", "System"},
		{"weather", "Other"},
	}
	for _, tt := range tests {
		if got := categoryFor(tt.name); got != tt.want {
			t.Errorf("categoryFor(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPromptCompressionNotice(t *testing.T) {
	ectx := session.NewExecutionContext("s", "m")
	ectx.MarkCompressed(session.CompressionRecord{ID: "r"})

	prompt := BuildSystemPrompt(ectx, nil, PromptConfig{Now: fixedNow})
	if !strings.Contains(prompt, "# Note") || !strings.Contains(prompt, "compressed") {
		t.Errorf("compression notice missing:\n%s", prompt)
	}
}

func TestPromptTokenAlerts(t *testing.T) {
	t.Run("warn", func(t *testing.T) {
		ectx := session.NewExecutionContext("s", "claude-sonnet-4-5-20250929")
		if err := ectx.UpdateTokenUsage(120_000, 0); err != nil {
			t.Fatal(err)
		}
		prompt := BuildSystemPrompt(ectx, nil, PromptConfig{Now: fixedNow})
		if !strings.Contains(prompt, "# Token Alert") || !strings.Contains(prompt, "elevated") {
			t.Errorf("warn alert missing:\n%s", prompt)
		}
	})

	t.Run("error wins over warn", func(t *testing.T) {
		ectx := session.NewExecutionContext("s", "claude-sonnet-4-5-20250929")
		if err := ectx.UpdateTokenUsage(170_000, 0); err != nil {
			t.Fatal(err)
		}
		prompt := BuildSystemPrompt(ectx, nil, PromptConfig{Now: fixedNow})
		if !strings.Contains(prompt, "critical") {
			t.Errorf("error alert missing:\n%s", prompt)
		}
		if strings.Contains(prompt, "elevated") {
			t.Error("warn alert should be suppressed by the error alert")
		}
	})
}

func TestDefaultBaseInstructions(t *testing.T) {
	ectx := session.NewExecutionContext("s", "m")
	prompt := BuildSystemPrompt(ectx, nil, PromptConfig{Now: fixedNow})
	if !strings.HasPrefix(prompt, defaultBaseInstructions) {
		t.Errorf("default instructions not applied: %q", prompt[:60])
	}
}
