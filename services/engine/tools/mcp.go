// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
)

// mcpSession is the slice of the MCP client the provider uses. Narrowing
// the dependency keeps tests off the wire and the provider insulated from
// the rest of the client surface.
type mcpSession interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPProvider adapts an MCP server to the Provider interface.
type MCPProvider struct {
	session    mcpSession
	serverName string
}

var _ Provider = (*MCPProvider)(nil)

// NewStdioMCPProvider launches command as an MCP server over stdio,
// performs the initialize handshake, and returns a ready provider. env
// entries are KEY=VALUE pairs added to the child process environment.
func NewStdioMCPProvider(ctx context.Context, command string, env []string, args ...string) (*MCPProvider, error) {
	cli, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: start MCP server %q: %v", ErrToolExecution, command, err)
	}

	provider, err := newMCPProvider(ctx, cli)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	return provider, nil
}

func newMCPProvider(ctx context.Context, session mcpSession) (*MCPProvider, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "aleutian-queryengine",
		Version: "1.0.0",
	}

	initResult, err := session.Initialize(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("%w: MCP initialize handshake: %v", ErrToolExecution, err)
	}

	slog.Info("MCP session established",
		"server", initResult.ServerInfo.Name,
		"server_version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	return &MCPProvider{
		session:    session,
		serverName: initResult.ServerInfo.Name,
	}, nil
}

// ServerName returns the name the MCP server reported during initialize.
func (p *MCPProvider) ServerName() string { return p.serverName }

// Close shuts the MCP session down.
func (p *MCPProvider) Close() error { return p.session.Close() }

// ListTools implements Provider.
func (p *MCPProvider) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	result, err := p.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: list tools from %s: %v", ErrToolExecution, p.serverName, err)
	}

	defs := make([]llm.ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return defs, nil
}

// CallTool implements Provider. Tool-reported failures map to Result
// IsError; protocol failures become errors wrapping ErrToolExecution.
func (p *MCPProvider) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := p.session.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s on %s: %v", ErrToolExecution, name, p.serverName, err)
	}

	return &Result{
		Content: flattenContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// schemaToMap converts the typed MCP input schema to the loose map shape
// generation backends expect. A round-trip through JSON sidesteps the
// schema struct's field layout.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// flattenContent joins the textual parts of an MCP result. Non-text parts
// are noted rather than dropped silently.
func flattenContent(parts []mcp.Content) string {
	var b strings.Builder
	for _, part := range parts {
		switch c := part.(type) {
		case mcp.TextContent:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(c.Text)
		case *mcp.TextContent:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(c.Text)
		default:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[unsupported content type %T]", part)
		}
	}
	return b.String()
}
