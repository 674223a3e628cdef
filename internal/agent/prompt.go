package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// Tool categories, in output order. Membership is inferred from name
// keywords; anything unmatched lands in Other.
var promptCategories = []struct {
	label    string
	keywords []string
}{
	{"File Operations", []string{"file", "read", "write", "edit"}},
	{"Code Analysis", []string{"search", "grep", "glob"}},
	{"Sub-agents", []string{"subagent"}},
	{"System", []string{"run", "command", "bash", "shell", "exec"}},
}

const maxToolsPerCategory = 5

// PromptConfig tunes the assembled system prompt.
type PromptConfig struct {
	BaseInstructions    string
	Workspace           string
	IncludeSubagentInfo bool
	LongTermSnippet     string
	FileContextSection  string

	// Now overrides the timestamp, for deterministic output in tests.
	Now func() time.Time
}

const defaultBaseInstructions = `You are a capable coding assistant. Work autonomously: read before you write, verify changes, and report results plainly.`

// BuildSystemPrompt assembles the system prompt in fixed section order:
// base instructions, environment, tools, sub-agent info, long-term memory,
// file context, compression notice, token alert. Deterministic given equal
// inputs.
func BuildSystemPrompt(ectx *session.ExecutionContext, catalog []providers.ToolDefinition, cfg PromptConfig) string {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	base := cfg.BaseInstructions
	if base == "" {
		base = defaultBaseInstructions
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")

	usage := ectx.Usage()
	sb.WriteString("# Environment\n")
	sb.WriteString("Session: " + ectx.SessionID() + "\n")
	sb.WriteString("Model: " + ectx.Model() + "\n")
	if cfg.Workspace != "" {
		sb.WriteString("Working directory: " + cfg.Workspace + "\n")
	}
	sb.WriteString("Time: " + now().UTC().Format(time.RFC3339) + "\n")
	sb.WriteString(fmt.Sprintf("Token usage: %d / %d (%.1f%%)\n",
		usage.Total, ectx.ContextWindow(), ectx.UsageRate()*100))

	if len(catalog) > 0 {
		sb.WriteString("\n# Available Tools\n")
		writeToolSections(&sb, catalog)
	}

	if cfg.IncludeSubagentInfo {
		sb.WriteString("\n# Sub-agents\n")
		sb.WriteString("You can delegate independent subtasks to sub-agents. Each sub-agent runs its own loop and reports back a summary.\n")
	}

	if cfg.LongTermSnippet != "" {
		sb.WriteString("\n# Project Memory\n")
		sb.WriteString(cfg.LongTermSnippet + "\n")
	}

	if cfg.FileContextSection != "" {
		sb.WriteString("\n" + cfg.FileContextSection)
	}

	if ectx.IsCompressed() {
		sb.WriteString("\n# Note\n")
		sb.WriteString("Earlier conversation history has been compressed into a summary message. Consult it before asking the user to repeat themselves.\n")
	}

	switch {
	case ectx.ShouldError():
		sb.WriteString("\n# Token Alert\n")
		sb.WriteString(fmt.Sprintf("Context usage is critical (%.0f%%). Finish the current task and keep responses short.\n", ectx.UsageRate()*100))
	case ectx.ShouldWarn():
		sb.WriteString("\n# Token Alert\n")
		sb.WriteString(fmt.Sprintf("Context usage is elevated (%.0f%%). Prefer concise responses.\n", ectx.UsageRate()*100))
	}

	return sb.String()
}

func writeToolSections(sb *strings.Builder, catalog []providers.ToolDefinition) {
	sorted := make([]providers.ToolDefinition, len(catalog))
	copy(sorted, catalog)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	grouped := make(map[string][]providers.ToolDefinition)
	for _, def := range sorted {
		grouped[categoryFor(def.Name)] = append(grouped[categoryFor(def.Name)], def)
	}

	labels := make([]string, 0, len(promptCategories)+1)
	for _, c := range promptCategories {
		labels = append(labels, c.label)
	}
	labels = append(labels, "Other")

	for _, label := range labels {
		defs := grouped[label]
		if len(defs) == 0 {
			continue
		}
		sb.WriteString("\n## " + label + "\n")
		shown := defs
		if len(shown) > maxToolsPerCategory {
			shown = shown[:maxToolsPerCategory]
		}
		for _, def := range shown {
			sb.WriteString("- " + def.Name)
			if def.Description != "" {
				sb.WriteString(": " + def.Description)
			}
			sb.WriteString("\n")
		}
		if extra := len(defs) - len(shown); extra > 0 {
			sb.WriteString(fmt.Sprintf("- +%d more\n", extra))
		}
	}
}

func categoryFor(name string) string {
	lower := strings.ToLower(name)
	for _, c := range promptCategories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.label
			}
		}
	}
	return "Other"
}
