// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/helixbio/triage/pkg/gateway"
)

// MCPCaller is the slice of the MCP client the provider needs. The concrete
// mcp-go client satisfies it.
type MCPCaller interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPProvider bridges an external MCP tool server into the gateway, so
// deployments can add capability servers without code changes here.
type MCPProvider struct {
	name   string
	prefix string
	caller MCPCaller
}

// NewMCPStdio launches an MCP server subprocess and wraps it as a provider.
// name becomes the provider name and the tool name prefix.
func NewMCPStdio(name, command string, args []string) (*MCPProvider, error) {
	c, err := mcpclient.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "triage", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, err
	}
	return NewMCPProvider(name, c), nil
}

// NewMCPProvider wraps an initialized MCP client.
func NewMCPProvider(name string, caller MCPCaller) *MCPProvider {
	return &MCPProvider{name: name, prefix: name + ".", caller: caller}
}

// Name implements gateway.Provider.
func (p *MCPProvider) Name() string { return p.name }

// Close shuts down the underlying client.
func (p *MCPProvider) Close() error { return p.caller.Close() }

// Call implements gateway.Provider. Gateway tool names are prefixed with the
// provider name; the prefix is stripped before hitting the server.
func (p *MCPProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = strings.TrimPrefix(tool, p.prefix)
	req.Params.Arguments = args

	result, err := p.caller.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return mcpResultToOutput(result)
}

// Descriptors discovers the server's tools and declares them to the gateway.
func (p *MCPProvider) Descriptors(ctx context.Context) ([]gateway.Descriptor, error) {
	resp, err := p.caller.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	descriptors := make([]gateway.Descriptor, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		schema, err := mcpSchemaToMap(tool)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		descriptors = append(descriptors, gateway.Descriptor{
			Name:        p.prefix + tool.Name,
			Description: tool.Description,
			Provider:    p.name,
			Cacheable:   true,
			InputSchema: schema,
		})
	}
	return descriptors, nil
}

func mcpSchemaToMap(tool mcp.Tool) (map[string]any, error) {
	raw := []byte(tool.RawInputSchema)
	if len(raw) == 0 {
		encoded, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func mcpResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", mcpTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := mcpTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func mcpTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
