package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type anthropicMessageStartEvent struct {
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream issues a streaming Messages request. Connection setup is retried;
// once deltas start flowing there is no retry. The assembled response
// carries the assistant message as ordered content blocks.
func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest, onDelta func(Delta)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := p.buildRequestBody(model, req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{StopReason: "end_turn", Model: model, Usage: &Usage{}}

	var blocks []ContentBlock
	toolInputJSON := make(map[int]string) // block index → accumulated input JSON
	var text strings.Builder

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var currentEvent string

	emit := func(d Delta) {
		if onDelta != nil {
			onDelta(d)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Message.Model != "" {
					result.Model = ev.Message.Model
				}
				result.Usage.InputTokens = ev.Message.Usage.InputTokens
				emit(Delta{Kind: DeltaMessageStart, Model: result.Model, InputTokens: ev.Message.Usage.InputTokens})
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				switch ev.ContentBlock.Type {
				case "tool_use":
					blocks = append(blocks, ToolUseBlock(ev.ContentBlock.ID, strings.TrimSpace(ev.ContentBlock.Name), make(map[string]any)))
				case "text":
					blocks = append(blocks, TextBlock(""))
				}
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				switch ev.Delta.Type {
				case "text_delta":
					text.WriteString(ev.Delta.Text)
					if len(blocks) > 0 && blocks[len(blocks)-1].Type == BlockText {
						blocks[len(blocks)-1].Text += ev.Delta.Text
					}
					emit(Delta{Kind: DeltaText, Text: ev.Delta.Text})
				case "thinking_delta":
					emit(Delta{Kind: DeltaThinking, Text: ev.Delta.Thinking})
				case "input_json_delta":
					if len(blocks) > 0 {
						toolInputJSON[len(blocks)-1] += ev.Delta.PartialJSON
					}
				}
			}

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Delta.StopReason != "" {
					result.StopReason = ev.Delta.StopReason
				}
				if ev.Usage.OutputTokens > 0 {
					result.Usage.OutputTokens = ev.Usage.OutputTokens
					emit(Delta{Kind: DeltaUsage, OutputTokens: ev.Usage.OutputTokens})
				}
			}

		case "error":
			var ev anthropicErrorEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				return nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}

		case "message_stop":
			emit(Delta{Kind: DeltaMessageStop})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	// Parse accumulated tool input JSON into each tool_use block.
	for idx, raw := range toolInputJSON {
		if raw == "" || idx >= len(blocks) {
			continue
		}
		input := make(map[string]any)
		_ = json.Unmarshal([]byte(raw), &input)
		blocks[idx].Input = input
	}

	result.Content = text.String()
	result.Message = AssistantBlocks(blocks)
	return result, nil
}
