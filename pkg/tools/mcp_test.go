// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/helixbio/triage/pkg/gateway"
)

type fakeMCPCaller struct {
	tools   []mcp.Tool
	lastReq mcp.CallToolRequest
	result  *mcp.CallToolResult
}

func (f *fakeMCPCaller) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeMCPCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.result, nil
}

func (f *fakeMCPCaller) Close() error { return nil }

func TestMCPProviderBridgesTools(t *testing.T) {
	caller := &fakeMCPCaller{
		tools: []mcp.Tool{{
			Name:           "fetch_structure",
			Description:    "Fetch a structure record.",
			RawInputSchema: json.RawMessage(`{"type": "object", "properties": {"id": {"type": "string"}}, "required": ["id"]}`),
		}},
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "structure data"}},
		},
	}
	p := NewMCPProvider("structures", caller)

	r := gateway.NewRegistry()
	if err := RegisterMCP(context.Background(), r, p); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, _, ok := r.Lookup("structures.fetch_structure")
	if !ok {
		t.Fatal("bridged tool not registered")
	}
	if d.Provider != "structures" || !d.Cacheable {
		t.Fatalf("descriptor = %+v", d)
	}

	out, err := p.Call(context.Background(), "structures.fetch_structure", map[string]any{"id": "X1"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "structure data" {
		t.Fatalf("out = %v", out)
	}
	// The provider prefix must be stripped before reaching the server.
	if caller.lastReq.Params.Name != "fetch_structure" {
		t.Fatalf("server tool name = %s", caller.lastReq.Params.Name)
	}
}

func TestMCPProviderErrorResult(t *testing.T) {
	caller := &fakeMCPCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}},
		},
	}
	p := NewMCPProvider("structures", caller)
	if _, err := p.Call(context.Background(), "structures.x", nil); err == nil {
		t.Fatal("expected error for IsError result")
	}
}
