// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
services.go - Supervised Services

HTTPService runs the control API server under supervision; JanitorService
periodically sweeps stale task state. Both implement suture.Service: Serve
blocks until the context is cancelled or the service fails, and suture
handles restarts.
*/

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
)

// HTTPService supervises the control API server.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService builds the supervised HTTP server around the given
// handler tree.
func NewHTTPService(handler http.Handler, cfg *config.ServerConfig) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Serve runs the server until ctx is cancelled, then shuts down gracefully
// within the shutdown timeout.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logging.Info().Msg("HTTP server stopped")
	return ctx.Err()
}

func (s *HTTPService) String() string { return "http-server" }

// sweeper is the tracker surface the janitor needs.
type sweeper interface {
	Sweep()
}

// JanitorService periodically sweeps the durable task state: expired
// terminal documents are deleted and orphaned tasks are failed.
type JanitorService struct {
	tracker  sweeper
	interval time.Duration
}

// NewJanitorService creates the janitor. A non-positive interval falls
// back to one minute.
func NewJanitorService(tracker sweeper, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JanitorService{tracker: tracker, interval: interval}
}

// Serve sweeps on the configured interval until ctx is cancelled.
func (j *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tracker.Sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *JanitorService) String() string { return "task-janitor" }
