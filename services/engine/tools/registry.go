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
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
)

// Handler implements one in-process tool.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry is a Provider backed by in-process Go functions. It serves the
// CLI's builtin tools and acts as the provider stand-in for tests.
type Registry struct {
	mu       sync.RWMutex
	defs     []llm.ToolDefinition
	handlers map[string]Handler
}

var _ Provider = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces a tool. Definitions keep registration order so
// ListTools output is stable.
func (r *Registry) Register(def llm.ToolDefinition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; exists {
		for i := range r.defs {
			if r.defs[i].Name == def.Name {
				r.defs[i] = def
				break
			}
		}
	} else {
		r.defs = append(r.defs, def)
	}
	r.handlers[def.Name] = handler
}

// ListTools implements Provider.
func (r *Registry) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out, nil
}

// CallTool implements Provider. Handler errors surface as tool-level
// failures, not transport errors.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	content, err := handler(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: content}, nil
}

// NewBuiltinRegistry returns a registry with the tools the CLI ships even
// when no MCP server is configured. current_time is deliberately volatile;
// wire it into the cache policy's always-fresh set.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(llm.ToolDefinition{
		Name:        "current_time",
		Description: "Returns the current date and time in RFC 3339 format. Accepts an optional IANA timezone name.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. America/Anchorage. Defaults to UTC.",
				},
			},
		},
	}, currentTimeTool)
	return r
}

func currentTimeTool(ctx context.Context, args map[string]any) (string, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = parsed
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}
