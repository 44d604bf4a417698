// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package task implements the durable, cancellable progress tracker for the
// process-wide sync task.
//
// The tracker owns a single JSON document on disk. Every transition is an
// atomic whole-file replace, so a poller in another process (or this
// process after a restart) reads either the previous state or the next one.
// Singleton enforcement is check-then-act against the durable file: the
// race window is tolerated because task starts are operationally rare and
// each write is atomic.
//
// Cancellation is cooperative. Cancel sets a flag in the document; the
// fetch loop polls IsCancelled between requests. Nothing is preempted, so
// the worst-case cancellation latency is one in-flight network call.
package task

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/niksavis/burndown-chart-sub003/internal/atomicfile"
	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

// ErrTransientRead reports that the state file could not be parsed after
// retries. Readers must treat this as "try again later", never as "no task":
// the writer may be mid-rename on a filesystem without atomic semantics.
var ErrTransientRead = errors.New("task state temporarily unreadable")

// ErrFetchIncomplete reports a Complete call while the fetch phase had not
// reached 100%. The premature completion is refused and logged, not applied.
var ErrFetchIncomplete = errors.New("fetch phase has not reached 100%")

// readAttempts and readRetryDelay bound the malformed-file retry loop.
const (
	readAttempts   = 3
	readRetryDelay = 25 * time.Millisecond
)

// Tracker is the durable task state machine. Safe for concurrent use
// in-process; cross-process coordination relies on atomic file writes.
type Tracker struct {
	path          string
	orphanTimeout time.Duration
	displayWindow time.Duration

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Tracker persisting to cfg.StatePath.
func New(cfg *config.TaskConfig) *Tracker {
	return &Tracker{
		path:          cfg.StatePath,
		orphanTimeout: cfg.OrphanTimeout,
		displayWindow: cfg.DisplayWindow,
		now:           time.Now,
	}
}

// Start begins a new task. It returns the new task ID and true on success,
// or "" and false when another task is already in progress and not
// orphaned. An orphaned predecessor is recovered (counted, logged) and
// replaced.
func (t *Tracker) Start(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	current, err := t.read()
	if err != nil {
		// An unreadable file is transient for readers, but for the writer
		// it means the previous owner's state is unrecoverable; replace it.
		logging.Warn().Err(err).Msg("Replacing unreadable task state")
	} else if current != nil && current.InProgress() {
		if !current.Orphaned(now, t.orphanTimeout) {
			metrics.TasksRejectedTotal.Inc()
			logging.Warn().
				Str("active_task", current.TaskID).
				Str("rejected", name).
				Msg("Task start rejected: another task is in progress")
			return "", false
		}
		metrics.TasksOrphanedTotal.Inc()
		logging.Warn().
			Str("task_id", current.TaskID).
			Time("started", current.StartTime).
			Msg("Recovering orphaned task")
	}

	state := &models.TaskState{
		TaskID:    uuid.New().String(),
		Name:      name,
		Status:    models.TaskStatusInProgress,
		Phase:     models.TaskPhaseFetch,
		StartTime: now,
		UpdatedAt: now,
	}
	if current != nil {
		// Frontend state outlives individual tasks.
		state.UIState = current.UIState
	}

	if err := t.write(state); err != nil {
		logging.Error().Err(err).Msg("Failed to persist task start")
		return "", false
	}

	metrics.TasksStartedTotal.Inc()
	logging.Info().Str("task_id", state.TaskID).Str("name", name).Msg("Task started")
	return state.TaskID, true
}

// Get returns the current task state. A missing file reads as idle; a
// malformed file is retried and then surfaced as ErrTransientRead.
func (t *Tracker) Get() (*models.TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.read()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return models.IdleTaskState(), nil
	}
	return state, nil
}

// UpdateProgress records phase progress, recomputing the percentage and
// preserving every unrelated field already persisted (UI state above all).
func (t *Tracker) UpdateProgress(phase models.TaskPhase, current, total int, message string) error {
	return t.mutate(func(state *models.TaskState) error {
		if !state.InProgress() {
			return fmt.Errorf("no task in progress")
		}

		progress := models.PhaseProgress{
			Current: current,
			Total:   total,
			Message: message,
		}
		if total > 0 {
			progress.Percent = 100 * float64(current) / float64(total)
			if progress.Percent > 100 {
				progress.Percent = 100
			}
		}

		state.Phase = phase
		switch phase {
		case models.TaskPhaseCalculate:
			state.Calculate = progress
		default:
			state.Fetch = progress
		}
		return nil
	})
}

// Cancel sets the cooperative cancellation flag. It returns whether a task
// was in progress to cancel; repeated calls are harmless.
func (t *Tracker) Cancel() bool {
	err := t.mutate(func(state *models.TaskState) error {
		if !state.InProgress() {
			return fmt.Errorf("no task in progress")
		}
		state.Cancelled = true
		return nil
	})
	if err != nil {
		return false
	}
	logging.Info().Msg("Task cancellation requested")
	return true
}

// IsCancelled reports the persisted cancellation flag. The fetch loop polls
// this between page requests.
func (t *Tracker) IsCancelled() bool {
	state, err := t.Get()
	if err != nil {
		return false
	}
	return state.InProgress() && state.Cancelled
}

// Complete marks the task complete. It is refused with ErrFetchIncomplete
// when the fetch phase has not reached 100%, so a premature "done" can
// never race ahead of in-flight background work.
func (t *Tracker) Complete() error {
	return t.mutate(func(state *models.TaskState) error {
		if !state.InProgress() {
			return fmt.Errorf("no task in progress")
		}
		if state.Fetch.Percent < 100 {
			logging.Warn().
				Float64("fetch_percent", state.Fetch.Percent).
				Msg("Refusing completion before fetch phase finished")
			return ErrFetchIncomplete
		}
		state.Status = models.TaskStatusComplete
		state.EndTime = t.now()
		return nil
	})
}

// Fail marks the task failed with a short user-facing message. Diagnostic
// detail belongs in the log, not in the progress document.
func (t *Tracker) Fail(message string) error {
	return t.mutate(func(state *models.TaskState) error {
		if !state.InProgress() {
			return fmt.Errorf("no task in progress")
		}
		state.Status = models.TaskStatusError
		state.Error = message
		state.EndTime = t.now()
		return nil
	})
}

// Sweep garbage-collects stale state: terminal tasks past the display
// window are deleted, orphaned in-progress tasks are marked failed. The
// janitor calls this periodically.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.read()
	if err != nil || state == nil {
		return
	}

	now := t.now()

	if state.Terminal() && !state.EndTime.IsZero() && now.Sub(state.EndTime) > t.displayWindow {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn().Err(err).Msg("Failed to remove stale task state")
			return
		}
		logging.Debug().Str("task_id", state.TaskID).Msg("Swept terminal task state")
		return
	}

	if state.Orphaned(now, t.orphanTimeout) {
		metrics.TasksOrphanedTotal.Inc()
		state.Status = models.TaskStatusError
		state.Error = "task orphaned: owning process stopped reporting progress"
		state.EndTime = now
		state.UpdatedAt = now
		if err := t.write(state); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist orphan recovery")
			return
		}
		logging.Warn().Str("task_id", state.TaskID).Msg("Marked orphaned task as failed")
	}
}

// mutate runs a read-modify-write cycle under the tracker lock.
func (t *Tracker) mutate(fn func(*models.TaskState) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.read()
	if err != nil {
		return err
	}
	if state == nil {
		state = models.IdleTaskState()
	}

	if err := fn(state); err != nil {
		return err
	}

	state.UpdatedAt = t.now()
	return t.write(state)
}

// read loads the state document. Missing file -> (nil, nil). A parse
// failure is retried with backoff before being reported as transient.
func (t *Tracker) read() (*models.TaskState, error) {
	var lastErr error
	delay := readRetryDelay

	for attempt := 0; attempt < readAttempts; attempt++ {
		raw, err := os.ReadFile(t.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			lastErr = err
		} else {
			var state models.TaskState
			if err := json.Unmarshal(raw, &state); err == nil {
				return &state, nil
			}
			lastErr = fmt.Errorf("malformed task state: %w", err)
		}

		time.Sleep(delay)
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %v", ErrTransientRead, lastErr)
}

// write persists the document via atomic replace.
func (t *Tracker) write(state *models.TaskState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode task state: %w", err)
	}
	if err := atomicfile.WriteFile(t.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	return nil
}
