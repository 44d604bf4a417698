// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(&config.TaskConfig{
		StatePath:     filepath.Join(t.TempDir(), "task_state.json"),
		OrphanTimeout: 30 * time.Minute,
		DisplayWindow: 10 * time.Minute,
	})
}

func mustStart(t *testing.T, tr *Tracker, name string) string {
	t.Helper()
	id, ok := tr.Start(name)
	if !ok {
		t.Fatalf("Start(%q) rejected, want accepted", name)
	}
	return id
}

func mustGet(t *testing.T, tr *Tracker) *models.TaskState {
	t.Helper()
	state, err := tr.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	return state
}

func finishFetch(t *testing.T, tr *Tracker) {
	t.Helper()
	if err := tr.UpdateProgress(models.TaskPhaseFetch, 10, 10, "done"); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
}

func TestGetMissingFileIsIdle(t *testing.T) {
	tr := newTestTracker(t)

	state := mustGet(t, tr)
	if state.Status != models.TaskStatusIdle {
		t.Errorf("Status = %q, want %q", state.Status, models.TaskStatusIdle)
	}
	if state.TaskID != "" {
		t.Errorf("TaskID = %q, want empty", state.TaskID)
	}
}

func TestStartCreatesInProgressState(t *testing.T) {
	tr := newTestTracker(t)

	id := mustStart(t, tr, "sync")
	if id == "" {
		t.Fatal("Start returned empty task ID")
	}

	state := mustGet(t, tr)
	if state.TaskID != id {
		t.Errorf("TaskID = %q, want %q", state.TaskID, id)
	}
	if state.Status != models.TaskStatusInProgress {
		t.Errorf("Status = %q, want %q", state.Status, models.TaskStatusInProgress)
	}
	if state.Phase != models.TaskPhaseFetch {
		t.Errorf("Phase = %q, want %q", state.Phase, models.TaskPhaseFetch)
	}
	if state.StartTime.IsZero() {
		t.Error("StartTime is zero")
	}
}

func TestStartRejectsSecondTask(t *testing.T) {
	tr := newTestTracker(t)

	first := mustStart(t, tr, "sync")

	id, ok := tr.Start("another")
	if ok {
		t.Fatal("second Start accepted, want rejected")
	}
	if id != "" {
		t.Errorf("rejected Start returned ID %q, want empty", id)
	}

	// The running task is untouched.
	if got := mustGet(t, tr).TaskID; got != first {
		t.Errorf("TaskID = %q, want %q", got, first)
	}
}

func TestStartRecoversOrphanedTask(t *testing.T) {
	tr := newTestTracker(t)

	base := time.Now()
	tr.now = func() time.Time { return base }
	orphan := mustStart(t, tr, "sync")

	// Advance past the orphan timeout without any progress updates.
	tr.now = func() time.Time { return base.Add(31 * time.Minute) }

	id, ok := tr.Start("sync")
	if !ok {
		t.Fatal("Start rejected, want orphan recovered")
	}
	if id == orphan {
		t.Error("new task reused orphaned task ID")
	}
	if got := mustGet(t, tr).Status; got != models.TaskStatusInProgress {
		t.Errorf("Status = %q, want %q", got, models.TaskStatusInProgress)
	}
}

func TestStartAfterTerminalState(t *testing.T) {
	tr := newTestTracker(t)

	mustStart(t, tr, "sync")
	if err := tr.Fail("boom"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	if _, ok := tr.Start("sync"); !ok {
		t.Error("Start rejected after terminal state, want accepted")
	}
}

func TestStartPreservesUIState(t *testing.T) {
	tr := newTestTracker(t)

	mustStart(t, tr, "sync")

	// Simulate the frontend stashing state in the document out of band.
	state := mustGet(t, tr)
	state.UIState = map[string]json.RawMessage{"chart": json.RawMessage(`{"zoom":3}`)}
	if err := tr.write(state); err != nil {
		t.Fatalf("write() error: %v", err)
	}
	if err := tr.Fail("boom"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	mustStart(t, tr, "sync")

	got := mustGet(t, tr).UIState["chart"]
	if string(got) != `{"zoom":3}` {
		t.Errorf("UIState[chart] = %s, want {\"zoom\":3}", got)
	}
}

func TestUpdateProgressComputesPercent(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		total       int
		wantPercent float64
	}{
		{"half", 50, 100, 50},
		{"complete", 100, 100, 100},
		{"zero total", 3, 0, 0},
		{"overshoot clamped", 120, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			mustStart(t, tr, "sync")

			if err := tr.UpdateProgress(models.TaskPhaseFetch, tt.current, tt.total, "fetching"); err != nil {
				t.Fatalf("UpdateProgress() error: %v", err)
			}

			got := mustGet(t, tr).Fetch
			if got.Percent != tt.wantPercent {
				t.Errorf("Percent = %v, want %v", got.Percent, tt.wantPercent)
			}
			if got.Current != tt.current || got.Total != tt.total {
				t.Errorf("progress = %d/%d, want %d/%d", got.Current, got.Total, tt.current, tt.total)
			}
		})
	}
}

func TestUpdateProgressPerPhase(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")

	finishFetch(t, tr)
	if err := tr.UpdateProgress(models.TaskPhaseCalculate, 2, 4, "crunching"); err != nil {
		t.Fatalf("UpdateProgress(calculate) error: %v", err)
	}

	state := mustGet(t, tr)
	if state.Phase != models.TaskPhaseCalculate {
		t.Errorf("Phase = %q, want %q", state.Phase, models.TaskPhaseCalculate)
	}
	if state.Fetch.Percent != 100 {
		t.Errorf("Fetch.Percent = %v, want 100 (calculate update must not clobber fetch)", state.Fetch.Percent)
	}
	if state.Calculate.Percent != 50 {
		t.Errorf("Calculate.Percent = %v, want 50", state.Calculate.Percent)
	}
}

func TestUpdateProgressPreservesUIState(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")

	state := mustGet(t, tr)
	state.UIState = map[string]json.RawMessage{"filters": json.RawMessage(`["open"]`)}
	if err := tr.write(state); err != nil {
		t.Fatalf("write() error: %v", err)
	}

	if err := tr.UpdateProgress(models.TaskPhaseFetch, 1, 2, ""); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}

	got := mustGet(t, tr).UIState["filters"]
	if string(got) != `["open"]` {
		t.Errorf("UIState[filters] = %s, want [\"open\"]", got)
	}
}

func TestUpdateProgressWithoutTask(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.UpdateProgress(models.TaskPhaseFetch, 1, 2, ""); err == nil {
		t.Error("UpdateProgress with no task succeeded, want error")
	}
}

func TestCancelSetsFlag(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")

	if tr.IsCancelled() {
		t.Fatal("IsCancelled() = true before Cancel")
	}
	if !tr.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}
	if !tr.IsCancelled() {
		t.Error("IsCancelled() = false after Cancel")
	}

	// Idempotent.
	if !tr.Cancel() {
		t.Error("repeated Cancel() = false, want true")
	}
}

func TestCancelWithoutTask(t *testing.T) {
	tr := newTestTracker(t)

	if tr.Cancel() {
		t.Error("Cancel() = true with no task in progress")
	}
}

func TestCompleteRefusedBeforeFetchDone(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")

	if err := tr.UpdateProgress(models.TaskPhaseFetch, 5, 10, ""); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}

	if err := tr.Complete(); !errors.Is(err, ErrFetchIncomplete) {
		t.Fatalf("Complete() error = %v, want ErrFetchIncomplete", err)
	}
	if got := mustGet(t, tr).Status; got != models.TaskStatusInProgress {
		t.Errorf("Status = %q after refused completion, want %q", got, models.TaskStatusInProgress)
	}
}

func TestCompleteAfterFetchDone(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")
	finishFetch(t, tr)

	if err := tr.Complete(); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	state := mustGet(t, tr)
	if state.Status != models.TaskStatusComplete {
		t.Errorf("Status = %q, want %q", state.Status, models.TaskStatusComplete)
	}
	if state.EndTime.IsZero() {
		t.Error("EndTime is zero after Complete")
	}
}

func TestFailRecordsMessage(t *testing.T) {
	tr := newTestTracker(t)
	mustStart(t, tr, "sync")

	if err := tr.Fail("connection refused"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	state := mustGet(t, tr)
	if state.Status != models.TaskStatusError {
		t.Errorf("Status = %q, want %q", state.Status, models.TaskStatusError)
	}
	if state.Error != "connection refused" {
		t.Errorf("Error = %q, want %q", state.Error, "connection refused")
	}
	if state.EndTime.IsZero() {
		t.Error("EndTime is zero after Fail")
	}
}

func TestMalformedStateRetriedThenTransient(t *testing.T) {
	tr := newTestTracker(t)

	if err := os.WriteFile(tr.path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	if _, err := tr.Get(); !errors.Is(err, ErrTransientRead) {
		t.Fatalf("Get() error = %v, want ErrTransientRead", err)
	}
}

func TestStateSurvivesTrackerRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TaskConfig{
		StatePath:     filepath.Join(dir, "task_state.json"),
		OrphanTimeout: 30 * time.Minute,
		DisplayWindow: 10 * time.Minute,
	}

	first := New(cfg)
	id := mustStart(t, first, "sync")
	if err := first.UpdateProgress(models.TaskPhaseFetch, 3, 10, "fetching"); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}

	// A fresh tracker over the same file sees the same document.
	second := New(cfg)
	state := mustGet(t, second)
	if state.TaskID != id {
		t.Errorf("TaskID = %q, want %q", state.TaskID, id)
	}
	if state.Fetch.Current != 3 {
		t.Errorf("Fetch.Current = %d, want 3", state.Fetch.Current)
	}
}

func TestSweepRemovesExpiredTerminalState(t *testing.T) {
	tr := newTestTracker(t)

	base := time.Now()
	tr.now = func() time.Time { return base }
	mustStart(t, tr, "sync")
	if err := tr.Fail("boom"); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	// Still inside the display window: stays.
	tr.now = func() time.Time { return base.Add(5 * time.Minute) }
	tr.Sweep()
	if _, err := os.Stat(tr.path); err != nil {
		t.Fatalf("state removed inside display window: %v", err)
	}

	// Past the window: removed, and pollers see idle.
	tr.now = func() time.Time { return base.Add(11 * time.Minute) }
	tr.Sweep()
	if _, err := os.Stat(tr.path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat() error = %v, want not-exist", err)
	}
	if got := mustGet(t, tr).Status; got != models.TaskStatusIdle {
		t.Errorf("Status = %q, want %q", got, models.TaskStatusIdle)
	}
}

func TestSweepFailsOrphanedTask(t *testing.T) {
	tr := newTestTracker(t)

	base := time.Now()
	tr.now = func() time.Time { return base }
	mustStart(t, tr, "sync")

	tr.now = func() time.Time { return base.Add(31 * time.Minute) }
	tr.Sweep()

	state := mustGet(t, tr)
	if state.Status != models.TaskStatusError {
		t.Errorf("Status = %q, want %q", state.Status, models.TaskStatusError)
	}
	if state.Error == "" {
		t.Error("Error message empty after orphan sweep")
	}
}

func TestSweepLeavesActiveTask(t *testing.T) {
	tr := newTestTracker(t)
	id := mustStart(t, tr, "sync")

	tr.Sweep()

	state := mustGet(t, tr)
	if state.TaskID != id || state.Status != models.TaskStatusInProgress {
		t.Errorf("state = %q/%q, want %q/%q", state.TaskID, state.Status, id, models.TaskStatusInProgress)
	}
}
