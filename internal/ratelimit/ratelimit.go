// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package ratelimit provides token-bucket admission control for outbound
// API requests.
//
// The bucket allows bursts up to its capacity (pagination issues many calls
// in a tight loop) while capping sustained throughput below the upstream
// API's enforced ceiling. Refill is computed lazily from elapsed wall-clock
// time by the underlying limiter; there is no background timer and no
// persistent state, so a restart simply starts with a full bucket.
//
// One Bucket instance is shared across every network call a sync operation
// issues, and across concurrent sync attempts, so the upstream API is
// protected globally.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a token bucket with continuous refill. Safe for concurrent use.
type Bucket struct {
	limiter   *rate.Limiter
	maxTokens float64
}

// NewBucket creates a bucket with the given capacity and refill rate in
// tokens per second. Non-positive parameters fall back to a 1-token,
// 1-per-second bucket rather than panicking.
func NewBucket(maxTokens, refillRate float64) *Bucket {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &Bucket{
		limiter:   rate.NewLimiter(rate.Limit(refillRate), int(maxTokens)),
		maxTokens: maxTokens,
	}
}

// TryConsume attempts to take n tokens without blocking. It returns whether
// the tokens were available; on false the bucket is left untouched.
func (b *Bucket) TryConsume(n int) bool {
	if n <= 0 {
		return true
	}
	return b.limiter.AllowN(time.Now(), n)
}

// WaitAndConsume blocks until n tokens are available or the context is
// cancelled. The wait is driven by the limiter's own timer and responds to
// cancellation immediately; no token is consumed on error.
func (b *Bucket) WaitAndConsume(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if float64(n) > b.maxTokens {
		return fmt.Errorf("requested %d tokens exceeds bucket capacity %.0f", n, b.maxTokens)
	}
	if err := b.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Tokens reports the tokens currently available, clamped to
// [0, MaxTokens] for observability.
func (b *Bucket) Tokens() float64 {
	tokens := b.limiter.Tokens()
	if tokens < 0 {
		return 0
	}
	if tokens > b.maxTokens {
		return b.maxTokens
	}
	return tokens
}

// MaxTokens returns the bucket capacity.
func (b *Bucket) MaxTokens() float64 {
	return b.maxTokens
}
