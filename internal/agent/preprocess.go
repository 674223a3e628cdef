package agent

import (
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

// Preprocess canonicalizes history before a model call: empty messages are
// dropped, adjacent same-role plain-text messages are merged, and tool
// use/result pairing is repaired. The input slice is not modified.
func Preprocess(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if isEmpty(m) {
			continue
		}
		if n := len(out); n > 0 && canMerge(out[n-1], m) {
			merged := out[n-1]
			merged.Content = merged.Content + "\n" + m.Content
			out[n-1] = merged
			continue
		}
		out = append(out, m)
	}
	return sanitizeToolPairing(out)
}

func isEmpty(m providers.Message) bool {
	if len(m.Blocks) > 0 {
		return false
	}
	return strings.TrimSpace(m.Content) == ""
}

// canMerge allows merging only plain-text messages of the same role. Tool
// messages and block-bearing messages keep their boundaries.
func canMerge(prev, next providers.Message) bool {
	if prev.Role != next.Role || prev.Role == "tool" {
		return false
	}
	return len(prev.Blocks) == 0 && len(next.Blocks) == 0
}

// sanitizeToolPairing repairs histories where tool uses and tool results no
// longer line up (interrupted runs, truncated logs). Every assistant
// tool_use gets exactly one result; orphan results are dropped.
func sanitizeToolPairing(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))

	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == "tool" {
			// Orphan tool result: nothing before it claimed this id.
			if !hasPendingUse(out, m.ToolUseID) {
				continue
			}
			out = append(out, m)
			continue
		}

		out = append(out, m)

		uses := m.ToolUses()
		if m.Role != "assistant" || len(uses) == 0 {
			continue
		}

		// Collect the results that follow this assistant turn.
		answered := make(map[string]bool)
		for j := i + 1; j < len(msgs) && msgs[j].Role == "tool"; j++ {
			answered[msgs[j].ToolUseID] = true
		}
		for _, use := range uses {
			if answered[use.ID] {
				continue
			}
			out = append(out, providers.ToolResultMessage(
				use.ID, use.Name, "tool execution was interrupted", true))
		}
	}
	return out
}

// hasPendingUse reports whether the most recent assistant message in out
// contains a tool_use with the given id that has not been answered yet.
func hasPendingUse(out []providers.Message, toolUseID string) bool {
	for i := len(out) - 1; i >= 0; i-- {
		switch out[i].Role {
		case "tool":
			if out[i].ToolUseID == toolUseID {
				return false // already answered
			}
		case "assistant":
			for _, use := range out[i].ToolUses() {
				if use.ID == toolUseID {
					return true
				}
			}
			return false
		}
	}
	return false
}
