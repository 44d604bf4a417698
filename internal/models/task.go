// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// TaskStatus is the lifecycle state of the process-wide sync task.
type TaskStatus string

const (
	TaskStatusIdle       TaskStatus = "idle"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusError      TaskStatus = "error"
)

// TaskPhase identifies which stage of a sync operation is running.
type TaskPhase string

const (
	TaskPhaseFetch     TaskPhase = "fetch"
	TaskPhaseCalculate TaskPhase = "calculate"
)

// PhaseProgress tracks completion of a single task phase.
type PhaseProgress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// TaskState is the durable, process-wide singleton task document.
//
// Exactly one TaskState may be in_progress at a time. The document is
// persisted as a single JSON file written atomically; readers in other
// processes poll it for progress after a restart.
type TaskState struct {
	TaskID string     `json:"task_id"`
	Name   string     `json:"name,omitempty"`
	Status TaskStatus `json:"status"`
	Phase  TaskPhase  `json:"phase,omitempty"`

	Fetch     PhaseProgress `json:"fetch_progress"`
	Calculate PhaseProgress `json:"calculate_progress"`

	// Cancelled is the cooperative cancellation flag. It is set by Cancel
	// and polled by the fetch loop between requests; nothing is preempted.
	Cancelled bool `json:"cancelled"`

	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
	EndTime   time.Time `json:"end_time"`

	Error string `json:"error,omitempty"`

	// UIState is opaque frontend state stored alongside the task document.
	// Progress updates must round-trip it untouched, so it is kept as raw
	// JSON rather than decoded.
	UIState map[string]json.RawMessage `json:"ui_state,omitempty"`
}

// IdleTaskState returns the state reported when no task document exists.
func IdleTaskState() *TaskState {
	return &TaskState{Status: TaskStatusIdle}
}

// InProgress reports whether the task is currently running.
func (s *TaskState) InProgress() bool {
	return s.Status == TaskStatusInProgress
}

// Terminal reports whether the task has finished, successfully or not.
func (s *TaskState) Terminal() bool {
	return s.Status == TaskStatusComplete || s.Status == TaskStatusError
}

// Orphaned reports whether an in_progress task has been running longer than
// timeout, which means its owning process died without marking completion.
func (s *TaskState) Orphaned(now time.Time, timeout time.Duration) bool {
	if s.Status != TaskStatusInProgress {
		return false
	}
	ref := s.UpdatedAt
	if ref.IsZero() {
		ref = s.StartTime
	}
	return !ref.IsZero() && now.Sub(ref) > timeout
}
