// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
)

type countingSweeper struct {
	sweeps atomic.Int32
}

func (c *countingSweeper) Sweep() { c.sweeps.Add(1) }

func TestJanitorSweepsOnInterval(t *testing.T) {
	sw := &countingSweeper{}
	j := NewJanitorService(sw, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := j.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve() error = %v, want deadline exceeded", err)
	}
	if got := sw.sweeps.Load(); got < 2 {
		t.Errorf("swept %d times in 100ms at 10ms interval, want at least 2", got)
	}
}

func TestJanitorDefaultsInterval(t *testing.T) {
	j := NewJanitorService(&countingSweeper{}, 0)
	if j.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", j.interval)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func TestHTTPServiceServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	svc := NewHTTPService(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		&config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            port,
			ShutdownTimeout: time.Second,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Wait for the listener to come up.
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServiceNames(t *testing.T) {
	if got := (&HTTPService{}).String(); got != "http-server" {
		t.Errorf("HTTPService.String() = %q", got)
	}
	if got := NewJanitorService(&countingSweeper{}, time.Second).String(); got != "task-janitor" {
		t.Errorf("JanitorService.String() = %q", got)
	}
}
