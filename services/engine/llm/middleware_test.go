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
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedClient fails the first failCount calls, then succeeds.
type scriptedClient struct {
	calls     int
	failCount int
	failWith  error
	resp      *Response
}

func (c *scriptedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	c.calls++
	if c.calls <= c.failCount {
		return nil, c.failWith
	}
	if c.resp != nil {
		return c.resp, nil
	}
	return &Response{Content: "ok", StopReason: StopReasonEnd}, nil
}

func (c *scriptedClient) Name() string  { return "scripted" }
func (c *scriptedClient) Model() string { return "test-model" }

// scriptedStreamingClient adds a trivial streaming path.
type scriptedStreamingClient struct {
	scriptedClient
	chunks []string
}

func (c *scriptedStreamingClient) CompleteStream(ctx context.Context, req *Request, onChunk func(string) error) (*Response, error) {
	var b strings.Builder
	for _, chunk := range c.chunks {
		b.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return nil, err
			}
		}
	}
	return &Response{Content: b.String(), StopReason: StopReasonEnd}, nil
}

func fastRetryConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func TestResilientClientRetriesTransientFailure(t *testing.T) {
	inner := &scriptedClient{failCount: 2, failWith: errors.New("connection reset")}
	client := NewResilientClient(inner, fastRetryConfig())

	resp, err := client.Complete(context.Background(), UserRequest("", "hello"))
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want %q", resp.Content, "ok")
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestResilientClientExhaustsRetries(t *testing.T) {
	transient := errors.New("upstream unavailable")
	inner := &scriptedClient{failCount: 100, failWith: transient}
	client := NewResilientClient(inner, fastRetryConfig())

	_, err := client.Complete(context.Background(), UserRequest("", "hello"))
	if err == nil {
		t.Fatal("Complete() expected error after exhausting retries")
	}
	if !errors.Is(err, transient) {
		t.Errorf("error = %v, want wrapped %v", err, transient)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", inner.calls)
	}
}

func TestResilientClientDoesNotRetryCancellation(t *testing.T) {
	inner := &scriptedClient{failCount: 100, failWith: context.Canceled}
	client := NewResilientClient(inner, fastRetryConfig())

	_, err := client.Complete(context.Background(), UserRequest("", "hello"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (cancellation is not retried)", inner.calls)
	}
}

func TestResilientClientPreservesStreaming(t *testing.T) {
	streaming := NewResilientClient(&scriptedStreamingClient{chunks: []string{"a", "b"}}, fastRetryConfig())
	sc, ok := streaming.(StreamingClient)
	if !ok {
		t.Fatal("wrapped streaming client lost StreamingClient interface")
	}

	var got []string
	resp, err := sc.CompleteStream(context.Background(), UserRequest("", "hi"), func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream() error: %v", err)
	}
	if resp.Content != "ab" {
		t.Errorf("Content = %q, want %q", resp.Content, "ab")
	}
	if len(got) != 2 {
		t.Errorf("chunks delivered = %d, want 2", len(got))
	}

	if _, ok := NewResilientClient(&scriptedClient{}, fastRetryConfig()).(StreamingClient); ok {
		t.Error("non-streaming client must not advertise StreamingClient")
	}
}
