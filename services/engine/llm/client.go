// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the generation-service contract the engine consumes:
// a request/response shape with optional tool calling, a streaming upgrade
// interface for the final user-facing response, and parse helpers for the
// structured JSON the engine asks models to produce.
package llm

import (
	"context"
	"time"
)

// Role names for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons reported in Response.StopReason.
const (
	StopReasonEnd          = "end"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"
)

// Response formats accepted in Request.ResponseFormat.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Client is the minimal generation-service interface. Implementations wrap
// a concrete backend (OpenAI-compatible API, local server) behind this
// contract so the engine never depends on a vendor SDK directly.
type Client interface {
	// Complete performs one non-streaming generation call.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the backend ("openai", "mock").
	Name() string

	// Model returns the model identifier requests run against.
	Model() string
}

// StreamingClient is the optional upgrade interface for backends that can
// stream the final user-facing response. Helper calls (analysis, planning,
// evaluation) always use Complete; only final response composition checks
// for this interface.
type StreamingClient interface {
	Client

	// CompleteStream generates with onChunk invoked for every content
	// delta in order. The returned Response carries the assembled full
	// content. A non-nil error from onChunk aborts the stream.
	CompleteStream(ctx context.Context, req *Request, onChunk func(chunk string) error) (*Response, error)
}

// Request is one generation call.
type Request struct {
	// SystemPrompt sets the system instruction, empty for none.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation, oldest first.
	Messages []Message `json:"messages"`

	// Tools the model may call. Empty disables tool calling.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// ResponseFormat is FormatText or FormatJSON. FormatJSON asks the
	// backend for a JSON-only response where supported; callers still
	// parse defensively.
	ResponseFormat string `json:"response_format,omitempty"`

	// MaxTokens caps the completion length. 0 uses the backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature,omitempty"`

	// StopSequences end generation when emitted.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// Message is one turn in the conversation.
type Message struct {
	// Role is one of the Role constants.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// ToolCalls are the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	// Name is the tool's unique name.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// InputSchema is the JSON Schema of the arguments object.
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the opaque call id results must be correlated with.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the call arguments object.
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult is the outcome of one tool call, correlated by id.
type ToolCallResult struct {
	// ToolCallID matches the originating ToolCall.ID.
	ToolCallID string `json:"tool_call_id"`

	// ToolName is the tool that ran, kept for logging.
	ToolName string `json:"tool_name"`

	// Content is the result text, or the failure message when IsError.
	Content string `json:"content"`

	// IsError reports whether the call failed.
	IsError bool `json:"is_error"`

	// Cached reports whether the result was served from the run's cache
	// without invoking the tool service.
	Cached bool `json:"cached"`
}

// Response is the outcome of one generation call.
type Response struct {
	// Content is the generated text, empty when the model only requested
	// tool calls.
	Content string `json:"content"`

	// ToolCalls are requested invocations, empty for plain text answers.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// StopReason is one of the StopReason constants.
	StopReason string `json:"stop_reason"`

	// TokensUsed is the total token count, 0 if the backend does not
	// report usage.
	TokensUsed int `json:"tokens_used"`

	// InputTokens and OutputTokens split TokensUsed where reported.
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Duration is the wall time of the call.
	Duration time.Duration `json:"duration"`

	// Model is the model that produced the response.
	Model string `json:"model"`
}

// HasToolCalls reports whether the model asked for tools to run.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// UserRequest is a convenience constructor for the common single-message
// request shape.
func UserRequest(systemPrompt, content string) *Request {
	return &Request{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: content}},
	}
}
