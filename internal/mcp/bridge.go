package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the local Tool interface.
type BridgeTool struct {
	serverName string
	original   mcpgo.Tool
	client     *mcpclient.Client
	name       string
	timeout    time.Duration
	connected  *atomic.Bool
}

func newBridgeTool(serverName string, t mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := t.Name
	if prefix != "" {
		name = prefix + "_" + name
	} else {
		name = serverName + "_" + name
	}
	// Tool names travel through model APIs; keep them conservative.
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)

	return &BridgeTool{
		serverName: serverName,
		original:   t,
		client:     client,
		name:       name,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string { return b.name }

// OriginalName is the tool's name on the remote server.
func (b *BridgeTool) OriginalName() string { return b.original.Name }

func (b *BridgeTool) Description() string {
	if b.original.Description != "" {
		return b.original.Description
	}
	return fmt.Sprintf("MCP tool %s from server %s", b.original.Name, b.serverName)
}

func (b *BridgeTool) Parameters() map[string]interface{} {
	schema := map[string]interface{}{"type": "object"}
	if b.original.InputSchema.Type != "" {
		schema["type"] = b.original.InputSchema.Type
	}
	if len(b.original.InputSchema.Properties) > 0 {
		schema["properties"] = b.original.InputSchema.Properties
	}
	if len(b.original.InputSchema.Required) > 0 {
		required := make([]interface{}, len(b.original.InputSchema.Required))
		for i, r := range b.original.InputSchema.Required {
			required[i] = r
		}
		schema["required"] = required
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %s is disconnected", b.serverName))
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original.Name
	req.Params.Arguments = args

	result, err := b.client.CallTool(cctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call failed: %v", err)).WithError(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "mcp tool reported an error"
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.SilentResult(text)
}

func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
