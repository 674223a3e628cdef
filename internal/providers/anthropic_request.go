package providers

import "encoding/json"

// buildRequestBody translates a ChatRequest into the Messages API shape.
// System messages in the list are folded into the system blocks; tool
// results become user-role tool_result blocks.
func (p *AnthropicProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]any {
	var systemBlocks []map[string]any
	var messages []map[string]any

	if req.System != "" {
		systemBlocks = append(systemBlocks, map[string]any{
			"type": "text",
			"text": req.System,
		})
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system":
			systemBlocks = append(systemBlocks, map[string]any{
				"type": "text",
				"text": msg.Text(),
			})

		case "user":
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": encodeBlocksOrText(msg),
			})

		case "assistant":
			messages = append(messages, map[string]any{
				"role":    "assistant",
				"content": encodeBlocksOrText(msg),
			})

		case "tool":
			// The Messages API carries tool results as user-role content.
			content := msg.Content
			if len(msg.Blocks) > 0 && msg.Blocks[0].Type == BlockToolResult {
				content = stringifyPayload(msg.Blocks[0].Content)
			}
			isError := len(msg.Blocks) > 0 && msg.Blocks[0].IsError
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolUseID,
						"content":     content,
						"is_error":    isError,
					},
				},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(systemBlocks) > 0 {
		body["system"] = systemBlocks
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}

	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.InputSchema,
			})
		}
		body["tools"] = tools
	}

	return body
}

// encodeBlocksOrText renders a message body as either a plain string or an
// ordered block array, matching what the API accepts for each role.
func encodeBlocksOrText(msg *Message) any {
	if len(msg.Blocks) == 0 {
		return msg.Content
	}
	var blocks []map[string]any
	for _, b := range msg.Blocks {
		switch b.Type {
		case BlockText:
			if b.Text == "" {
				continue
			}
			blocks = append(blocks, map[string]any{"type": "text", "text": b.Text})
		case BlockToolUse:
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    b.ID,
				"name":  b.Name,
				"input": b.Input,
			})
		case BlockImage:
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": b.MediaType,
					"data":       b.Data,
				},
			})
		}
	}
	if len(blocks) == 0 {
		return msg.Content
	}
	return blocks
}

func stringifyPayload(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
