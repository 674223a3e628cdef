package providers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/tokens"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is one element of a structured message body.
// Exactly one variant is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID string, content any, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one conversation entry. Content holds plain text; Blocks, when
// non-empty, is the authoritative structured body. A role=tool message
// answers the assistant tool_use identified by ToolUseID; tool results keep
// the order of the tool_uses they answer.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"` // "system", "user", "assistant", "tool"
	Content   string         `json:"content,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"` // role="tool" only
	ToolName  string         `json:"tool_name,omitempty"`   // role="tool" only
	Timestamp time.Time      `json:"timestamp"`

	tokenEstimate int // cached; 0 = not computed
}

func newMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func SystemMessage(content string) Message    { return newMessage("system", content) }
func UserMessage(content string) Message      { return newMessage("user", content) }
func AssistantMessage(content string) Message { return newMessage("assistant", content) }

// AssistantBlocks builds an assistant message from structured blocks.
func AssistantBlocks(blocks []ContentBlock) Message {
	m := newMessage("assistant", "")
	m.Blocks = blocks
	return m
}

// ToolResultMessage builds a role=tool message answering toolUseID.
func ToolResultMessage(toolUseID, toolName string, payload any, isError bool) Message {
	m := newMessage("tool", "")
	m.ToolUseID = toolUseID
	m.ToolName = toolName
	m.Blocks = []ContentBlock{ToolResultBlock(toolUseID, payload, isError)}
	return m
}

// Text returns the plain-text view of the message body.
func (m *Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks in order.
func (m *Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Tokens returns a cached conservative token estimate for the message.
func (m *Message) Tokens() int {
	if m.tokenEstimate > 0 {
		return m.tokenEstimate
	}
	n := tokens.Estimate(m.Content)
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			n += tokens.Estimate(b.Text)
		case BlockToolUse:
			n += tokens.Estimate(b.Name) + estimateMap(b.Input)
		case BlockToolResult:
			if s, ok := b.Content.(string); ok {
				n += tokens.Estimate(s)
			} else {
				n += 64
			}
		case BlockImage:
			n += len(b.Data) / 4
		}
	}
	if n == 0 {
		n = 1
	}
	m.tokenEstimate = n
	return n
}

func estimateMap(m map[string]any) int {
	n := 0
	for k, v := range m {
		n += tokens.Estimate(k)
		if s, ok := v.(string); ok {
			n += tokens.Estimate(s)
		} else {
			n += 8
		}
	}
	return n
}

// EstimateMessages sums cached token estimates over a message list.
func EstimateMessages(msgs []Message) int {
	total := 0
	for i := range msgs {
		total += msgs[i].Tokens()
	}
	return total
}

// ToolDefinition describes a tool offered to the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage tracks token consumption for one LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Delta kinds surfaced while streaming.
const (
	DeltaMessageStart = "message_start"
	DeltaText         = "text_delta"
	DeltaThinking     = "thinking_delta"
	DeltaUsage        = "message_delta"
	DeltaMessageStop  = "message_stop"
)

// Delta is one incremental unit of a streaming response.
type Delta struct {
	Kind         string
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// ChatRequest is the input for a Chat/Stream call.
type ChatRequest struct {
	Messages    []Message
	System      string
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the final assembled result of an LLM call.
type ChatResponse struct {
	Message    Message // assistant message with ordered content blocks
	Content    string  // plain-text portion
	StopReason string  // "end_turn", "tool_use", "max_tokens"
	Model      string
	Usage      *Usage
}

// Provider is the interface all LLM backends implement.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Stream sends messages and delivers incremental deltas via onDelta,
	// returning the final assembled response.
	Stream(ctx context.Context, req ChatRequest, onDelta func(Delta)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier.
	Name() string
}
