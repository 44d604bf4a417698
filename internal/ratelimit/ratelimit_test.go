// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTryConsumeBurst(t *testing.T) {
	b := NewBucket(5, 1)

	// The bucket starts full: a burst of capacity succeeds.
	for i := 0; i < 5; i++ {
		if !b.TryConsume(1) {
			t.Fatalf("consume %d of initial burst failed", i+1)
		}
	}

	// The bucket is now drained; an immediate consume fails.
	if b.TryConsume(1) {
		t.Error("consume succeeded on a drained bucket")
	}
}

func TestTokensInvariant(t *testing.T) {
	b := NewBucket(3, 100)

	checkBounds := func(label string) {
		t.Helper()
		tokens := b.Tokens()
		if tokens < 0 || tokens > b.MaxTokens() {
			t.Errorf("%s: tokens %v outside [0, %v]", label, tokens, b.MaxTokens())
		}
	}

	checkBounds("initial")
	b.TryConsume(3)
	checkBounds("after drain")
	b.TryConsume(1) // denied, must not go negative
	checkBounds("after denied consume")

	time.Sleep(50 * time.Millisecond) // refill happens lazily
	checkBounds("after refill")
}

func TestTryConsumeZeroOrNegative(t *testing.T) {
	b := NewBucket(1, 1)
	b.TryConsume(1)

	if !b.TryConsume(0) {
		t.Error("consuming zero tokens should always succeed")
	}
	if !b.TryConsume(-1) {
		t.Error("consuming negative tokens should always succeed")
	}
}

func TestWaitAndConsumeBlocksUntilRefill(t *testing.T) {
	b := NewBucket(1, 50) // 50 tokens/sec -> 20ms per token
	if !b.TryConsume(1) {
		t.Fatal("initial consume failed")
	}

	start := time.Now()
	if err := b.WaitAndConsume(context.Background(), 1); err != nil {
		t.Fatalf("WaitAndConsume failed: %v", err)
	}
	elapsed := time.Since(start)

	// One token refills in 20ms; the wait must not return early.
	if elapsed < 10*time.Millisecond {
		t.Errorf("WaitAndConsume returned after %v, before a token was available", elapsed)
	}
}

func TestWaitAndConsumeCancellation(t *testing.T) {
	b := NewBucket(1, 0.001) // effectively never refills
	b.TryConsume(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := b.WaitAndConsume(ctx, 1)
	if err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
}

func TestWaitAndConsumeOverCapacity(t *testing.T) {
	b := NewBucket(2, 1)
	if err := b.WaitAndConsume(context.Background(), 3); err == nil {
		t.Error("expected error when requesting more tokens than capacity")
	}
}

func TestNewBucketClampsParameters(t *testing.T) {
	b := NewBucket(0, -5)
	if b.MaxTokens() != 1 {
		t.Errorf("expected clamped capacity 1, got %v", b.MaxTokens())
	}
	if !b.TryConsume(1) {
		t.Error("clamped bucket should still serve one token")
	}
}
