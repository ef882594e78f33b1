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
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ResilienceConfig tunes the retry and rate-limit wrapper.
type ResilienceConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the base delay, doubled each retry.
	RetryBackoff time.Duration

	// Timeout bounds each individual attempt. 0 disables the per-attempt
	// timeout.
	Timeout time.Duration

	// RequestsPerSecond throttles calls across the wrapped client.
	// 0 disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Defaults to 1 when throttling is
	// enabled.
	Burst int
}

// DefaultResilienceConfig returns conservative defaults for backend calls.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:        2,
		RetryBackoff:      100 * time.Millisecond,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// resilientClient decorates a Client with retry, per-attempt timeout, and
// rate limiting. Streaming calls are rate limited but never retried: chunks
// already delivered to the caller cannot be taken back.
type resilientClient struct {
	inner   Client
	cfg     ResilienceConfig
	limiter *rate.Limiter
}

var _ Client = (*resilientClient)(nil)

// NewResilientClient wraps inner with the retry and throttling behavior in
// cfg. The wrapper preserves streaming support when inner provides it.
func NewResilientClient(inner Client, cfg ResilienceConfig) Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	rc := &resilientClient{inner: inner, cfg: cfg, limiter: limiter}
	if _, ok := inner.(StreamingClient); ok {
		return &resilientStreamingClient{rc}
	}
	return rc
}

func (c *resilientClient) Name() string  { return c.inner.Name() }
func (c *resilientClient) Model() string { return c.inner.Model() }

// Complete implements Client.
func (c *resilientClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.doComplete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		slog.Debug("generation attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *resilientClient) doComplete(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	return c.inner.Complete(ctx, req)
}

// resilientStreamingClient adds the streaming passthrough when the wrapped
// backend supports it.
type resilientStreamingClient struct {
	*resilientClient
}

var _ StreamingClient = (*resilientStreamingClient)(nil)

// CompleteStream implements StreamingClient. The call is throttled but runs
// exactly once; a failed stream surfaces to the caller rather than retrying
// after partial output.
func (c *resilientStreamingClient) CompleteStream(ctx context.Context, req *Request, onChunk func(chunk string) error) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.inner.(StreamingClient).CompleteStream(ctx, req, onChunk)
}
