// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package retry wraps single network operations with bounded exponential
// backoff, classifying failures as transient (retried) or fatal (surfaced
// immediately).
//
// Retried operations are read-only search calls, so re-issuing is always
// safe. The delay doubles from InitialDelay and is capped at MaxDelay; a
// context cancellation during a backoff wait aborts the whole executor.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
)

// Config parameterizes an Executor.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
}

// DefaultConfig returns the standard retry parameters: 5 attempts, delays
// 1s, 2s, 4s, 8s capped at 32s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     32 * time.Second,
	}
}

// Executor retries transient failures with exponential backoff. Safe for
// concurrent use; each Do call gets its own backoff state.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor, applying defaults for zero values.
func NewExecutor(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Executor{cfg: cfg}
}

// Do runs op, retrying transient failures up to MaxAttempts. Fatal failures
// and context cancellation return immediately. The returned error is the
// last error op produced.
func (e *Executor) Do(ctx context.Context, name string, op func() error) error {
	policy := e.newPolicy(ctx)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op()
			if err == nil {
				return nil
			}
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, delay time.Duration) {
			metrics.RetriesTotal.WithLabelValues(name).Inc()
			logging.Warn().
				Err(err).
				Str("operation", name).
				Int("attempt", attempt).
				Int("max_attempts", e.cfg.MaxAttempts).
				Dur("delay", delay).
				Msg("Transient failure, retrying")
		},
	)
}

// DoValue runs op through exec and returns its value. The zero value of T
// accompanies a non-nil error.
func DoValue[T any](ctx context.Context, exec *Executor, name string, op func() (T, error)) (T, error) {
	var result T
	err := exec.Do(ctx, name, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// newPolicy builds the per-call backoff policy: deterministic doubling from
// InitialDelay capped at MaxDelay, bounded by MaxAttempts and the context.
func (e *Executor) newPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialDelay
	b.MaxInterval = e.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxAttempts-1)), ctx)
}

// statusCoder is implemented by errors carrying an upstream HTTP status
// (jira.StatusError). Declared here so classification does not depend on
// the client package.
type statusCoder interface {
	HTTPStatus() int
}

// IsRetryable classifies an error as transient. Retryable: HTTP 429, 5xx,
// timeouts, and connection failures. Everything else (other 4xx statuses,
// malformed responses, cooperative cancellation) is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Cooperative cancellation is never retried.
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-request deadline is a timeout, and timeouts are transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection-level failures (reset, refused, broken pipe).
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
