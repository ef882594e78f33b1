// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools connects the engine to external tool services. A Provider
// exposes tool discovery and invocation; the Executor runs batches of model
// requested calls against a provider, consulting the run's progress tracker
// so repeated calls are served from cache instead of hitting the service
// again.
package tools

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
)

var (
	// ErrToolExecution is the root of the tool failure taxonomy. Errors
	// returned by providers wrap it so callers can classify with
	// errors.Is.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrToolNotFound indicates the provider does not expose the
	// requested tool.
	ErrToolNotFound = errors.New("tool not found")
)

// Result is the outcome of one tool invocation.
type Result struct {
	// Content is the textual result, or the failure message when
	// IsError is set.
	Content string `json:"content"`

	// IsError reports a tool-level failure: the provider reached the
	// tool and the tool reported an error. Transport and protocol
	// failures come back as Go errors instead.
	IsError bool `json:"is_error"`
}

// Provider exposes a set of callable tools.
//
// # Description
//
// Implementations adapt a concrete tool surface (an MCP server, in-process
// Go functions) to the two operations the engine needs. CallTool separates
// failure modes: a tool that runs and reports failure returns a Result with
// IsError set and a nil error; a provider that cannot run the tool at all
// returns a non-nil error wrapping ErrToolExecution or ErrToolNotFound.
type Provider interface {
	// ListTools returns the definitions of every available tool.
	ListTools(ctx context.Context) ([]llm.ToolDefinition, error)

	// CallTool invokes one tool with the given arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
}
