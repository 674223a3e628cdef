package agent

import (
	"testing"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

func assistantWithToolUse(id, name string) providers.Message {
	return providers.AssistantBlocks([]providers.ContentBlock{
		providers.ToolUseBlock(id, name, map[string]any{}),
	})
}

func TestPreprocessDropsEmpty(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("hello"),
		providers.AssistantMessage("   \n\t"),
		providers.UserMessage(""),
		providers.AssistantMessage("reply"),
	}

	out := Preprocess(msgs)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(out), out)
	}
	if out[0].Content != "hello" || out[1].Content != "reply" {
		t.Errorf("out = %+v", out)
	}
}

func TestPreprocessMergesAdjacentSameRole(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("first"),
		providers.UserMessage("second"),
		providers.AssistantMessage("a1"),
		providers.AssistantMessage("a2"),
		providers.UserMessage("third"),
	}

	out := Preprocess(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(out), out)
	}
	if out[0].Content != "first\nsecond" {
		t.Errorf("merged user = %q", out[0].Content)
	}
	if out[1].Content != "a1\na2" {
		t.Errorf("merged assistant = %q", out[1].Content)
	}
	if out[2].Content != "third" {
		t.Errorf("out[2] = %q", out[2].Content)
	}
}

func TestPreprocessDoesNotMergeBlockMessages(t *testing.T) {
	msgs := []providers.Message{
		assistantWithToolUse("t1", "read_file"),
		providers.ToolResultMessage("t1", "read_file", "content", false),
		providers.AssistantMessage("done"),
	}

	out := Preprocess(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(out), out)
	}
}

func TestPreprocessSynthesizesMissingResults(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("go"),
		assistantWithToolUse("t1", "exec"),
		// The run was interrupted: no result follows.
		providers.UserMessage("are you there?"),
	}

	out := Preprocess(msgs)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(out), out)
	}
	synth := out[2]
	if synth.Role != "tool" || synth.ToolUseID != "t1" {
		t.Fatalf("out[2] = %+v, want synthesized tool result", synth)
	}
	if len(synth.Blocks) == 0 || !synth.Blocks[0].IsError {
		t.Errorf("synthesized result not marked as error: %+v", synth)
	}
}

func TestPreprocessDropsOrphanResults(t *testing.T) {
	msgs := []providers.Message{
		providers.ToolResultMessage("ghost", "exec", "leftover", false),
		providers.UserMessage("hello"),
	}

	out := Preprocess(msgs)
	if len(out) != 1 || out[0].Content != "hello" {
		t.Errorf("out = %+v, want orphan dropped", out)
	}
}

func TestPreprocessKeepsMatchedPairs(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("go"),
		assistantWithToolUse("t1", "read_file"),
		providers.ToolResultMessage("t1", "read_file", "ok", false),
		providers.AssistantMessage("finished"),
	}

	out := Preprocess(msgs)
	if len(out) != len(msgs) {
		t.Fatalf("len = %d, want %d: %+v", len(out), len(msgs), out)
	}
	if out[2].ToolUseID != "t1" {
		t.Errorf("result not preserved: %+v", out[2])
	}
}

func TestPreprocessDropsDoubleAnswer(t *testing.T) {
	msgs := []providers.Message{
		assistantWithToolUse("t1", "exec"),
		providers.ToolResultMessage("t1", "exec", "first", false),
		providers.ToolResultMessage("t1", "exec", "duplicate", false),
	}

	out := Preprocess(msgs)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(out), out)
	}
}

func TestPreprocessInputUnmodified(t *testing.T) {
	msgs := []providers.Message{
		providers.UserMessage("a"),
		providers.UserMessage("b"),
	}
	_ = Preprocess(msgs)
	if msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("input mutated: %+v", msgs)
	}
}
