// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	// APIKey authenticates requests. Empty falls back to the
	// OPENAI_API_KEY environment variable, then the Podman secret at
	// /run/secrets/openai_api_key.
	APIKey string

	// BaseURL overrides the API endpoint, for local OpenAI-compatible
	// servers (vLLM, Ollama's compat layer). Empty uses api.openai.com.
	BaseURL string

	// Model is the model identifier. Empty falls back to OPENAI_MODEL,
	// then "gpt-4o-mini".
	Model string
}

// OpenAIClient talks to an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// Compile-time checks that OpenAIClient satisfies both client interfaces.
var (
	_ Client          = (*OpenAIClient)(nil)
	_ StreamingClient = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds an OpenAI backend from cfg, resolving the API key
// and model from the environment where cfg leaves them empty.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI client", "model", model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Name implements Client.
func (o *OpenAIClient) Name() string { return "openai" }

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	slog.Debug("Generating via OpenAI", "model", o.model, "messages", len(req.Messages), "tools", len(req.Tools))

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req))
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		StopReason:   stopReasonFromFinish(choice.FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
		Model:        resp.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		call, err := toolCallFromOpenAI(tc)
		if err != nil {
			slog.Warn("Skipping unparseable tool call", "tool", tc.Function.Name, "error", err)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	slog.Debug("Received response from OpenAI",
		"finish_reason", choice.FinishReason, "tool_calls", len(out.ToolCalls), "tokens", out.TokensUsed)
	return out, nil
}

// CompleteStream implements StreamingClient. Tool calling is not supported
// on the streaming path; callers stream only final response composition.
func (o *OpenAIClient) CompleteStream(ctx context.Context, req *Request, onChunk func(chunk string) error) (*Response, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("streaming requests must not carry tools")
	}

	start := time.Now()
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(req))
	if err != nil {
		slog.Error("OpenAI stream open failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	finishReason := openai.FinishReasonStop
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("OpenAI stream receive failed", "error", err)
			return nil, fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if chunk.Choices[0].FinishReason != "" {
			finishReason = chunk.Choices[0].FinishReason
		}
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				return nil, fmt.Errorf("stream consumer aborted: %w", err)
			}
		}
	}

	return &Response{
		Content:    content.String(),
		StopReason: stopReasonFromFinish(finishReason),
		Duration:   time.Since(start),
		Model:      o.model,
	}, nil
}

// ----------------------------------------------------------------------------
// Request/response mapping
// ----------------------------------------------------------------------------

func (o *OpenAIClient) buildRequest(req *Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model: o.model,
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, messageToOpenAI(msg))
	}

	for _, tool := range req.Tools {
		params := tool.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	if req.ResponseFormat == FormatJSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	return out
}

func messageToOpenAI(msg Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	switch msg.Role {
	case RoleSystem:
		out.Role = openai.ChatMessageRoleSystem
	case RoleAssistant:
		out.Role = openai.ChatMessageRoleAssistant
	case RoleTool:
		out.Role = openai.ChatMessageRoleTool
	default:
		out.Role = openai.ChatMessageRoleUser
	}
	for _, call := range msg.ToolCalls {
		args, err := marshalArguments(call.Arguments)
		if err != nil {
			slog.Warn("Dropping tool call with unmarshalable arguments", "tool", call.Name, "error", err)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return out
}

func toolCallFromOpenAI(tc openai.ToolCall) (ToolCall, error) {
	args := map[string]any{}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw != "" {
		if err := ExtractJSONInto(raw, &args); err != nil {
			return ToolCall{}, fmt.Errorf("tool call arguments: %w", err)
		}
	}
	return ToolCall{
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: args,
	}, nil
}

func marshalArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func stopReasonFromFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return StopReasonEnd
	case openai.FinishReasonLength:
		return StopReasonMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopReasonToolUse
	default:
		return string(reason)
	}
}
