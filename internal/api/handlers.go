// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
handlers.go - Control API Handlers

Sync lifecycle over HTTP:

	POST /api/v1/sync        -> 202 with the task ID, 409 when occupied
	POST /api/v1/sync/cancel -> 202 when a cancel was requested, 409 otherwise
	GET  /api/v1/sync/status -> the durable task document
	GET  /api/v1/sync/result -> the last completed fetch result

Starting a sync only enqueues it; progress is observed by polling status.
Error bodies carry a short operator-facing message, never internal error
chains.
*/

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
	syncengine "github.com/niksavis/burndown-chart-sub003/internal/sync"
	"github.com/niksavis/burndown-chart-sub003/internal/task"
)

// SyncEngine is the engine surface the handlers depend on.
type SyncEngine interface {
	StartSync(ctx context.Context) (string, error)
	Cancel() bool
	TaskState() (*models.TaskState, error)
	LastResult() *models.FetchResult
}

// Handler implements the control API endpoints.
type Handler struct {
	engine SyncEngine

	// baseCtx governs background syncs spawned by StartSync; it outlives
	// the triggering request.
	baseCtx context.Context
}

// NewHandler creates a Handler. ctx bounds the lifetime of background
// syncs, typically the process context.
func NewHandler(ctx context.Context, engine SyncEngine) *Handler {
	return &Handler{engine: engine, baseCtx: ctx}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartSync triggers a background sync.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.engine.StartSync(h.baseCtx)
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "a sync is already in progress")
			return
		}
		logging.Error().Err(err).Msg("Failed to start sync")
		writeError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// CancelSync requests cooperative cancellation of the running sync.
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Cancel() {
		writeError(w, http.StatusConflict, "no sync in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// SyncStatus returns the durable task document.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.TaskState()
	if err != nil {
		if errors.Is(err, task.ErrTransientRead) {
			// The writer may be mid-update; tell the poller to retry.
			writeError(w, http.StatusServiceUnavailable, "task state temporarily unavailable")
			return
		}
		logging.Error().Err(err).Msg("Failed to read task state")
		writeError(w, http.StatusInternalServerError, "failed to read task state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SyncResult returns the last completed fetch result.
func (h *Handler) SyncResult(w http.ResponseWriter, r *http.Request) {
	result := h.engine.LastResult()
	if result == nil {
		writeError(w, http.StatusNotFound, "no sync has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
