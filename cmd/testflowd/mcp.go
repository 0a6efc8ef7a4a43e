package main

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xASHx26/testflow-sub001/descriptor"
	"github.com/xASHx26/testflow-sub001/kit"
	"github.com/xASHx26/testflow-sub001/markup"
)

// registerMCPTools exposes the picker and replay operations as MCP
// tools. Agents drive the same pickerService the HTTP API does.
func registerMCPTools(srv *mcp.Server, svc *pickerService) {
	registerPickerEnable(srv, svc)
	registerPickerDisable(srv, svc)
	registerPickerElementAt(srv, svc)
	registerReplayResolve(srv, svc)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func registerPickerEnable(srv *mcp.Server, svc *pickerService) {
	type req struct {
		URL       string `json:"url"`
		SessionID string `json:"session_id"`
	}

	tool := &mcp.Tool{
		Name:        "picker_enable",
		Description: "Open a page and start an element picking session",
		InputSchema: inputSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "Page URL to pick on"},
			"session_id": map[string]any{"type": "string", "description": "Session ID (generated when omitted)"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.enable(ctx, p.URL, p.SessionID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func registerPickerDisable(srv *mcp.Server, svc *pickerService) {
	tool := &mcp.Tool{
		Name:        "picker_disable",
		Description: "End the active picking session",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.disable(ctx), nil
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func registerPickerElementAt(srv *mcp.Server, svc *pickerService) {
	type req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	type resp struct {
		Descriptor descriptor.Descriptor `json:"descriptor"`
		Markdown   string                `json:"markdown"`
	}

	tool := &mcp.Tool{
		Name:        "picker_element_at",
		Description: "Describe the element at viewport coordinates without changing picker state",
		InputSchema: inputSchema(map[string]any{
			"x": map[string]any{"type": "number", "description": "Viewport X"},
			"y": map[string]any{"type": "number", "description": "Viewport Y"},
		}, []string{"x", "y"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		d, err := svc.elementAt(ctx, p.X, p.Y)
		if err != nil {
			return nil, err
		}
		out := resp{Descriptor: d}
		// Agents read the captured markup more easily as markdown; a
		// render failure just leaves the field empty.
		if md, err := markup.Preview(d.Markup); err == nil {
			out.Markdown = md
		}
		return out, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func registerReplayResolve(srv *mcp.Server, svc *pickerService) {
	tool := &mcp.Tool{
		Name:        "replay_resolve",
		Description: "Re-resolve a recorded selection against the open page or a supplied HTML snapshot",
		InputSchema: inputSchema(map[string]any{
			"selection": map[string]any{"type": "object", "description": "A recorded selection event"},
			"html":      map[string]any{"type": "string", "description": "Optional HTML snapshot to resolve against"},
		}, []string{"selection"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*replayRequest)
		return svc.resolve(ctx, *p)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p replayRequest
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
