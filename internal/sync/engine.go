// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
engine.go - Sync Orchestration

The engine ties strategy selection together: cache hit, delta sync, or
full fetch (two-phase when secondary issue types are configured). Exactly
one sync runs at a time, enforced through the durable task tracker, and
every sync runs in a background goroutine so the HTTP control API returns
immediately.

Strategy selection:

 1. Valid cache entry and delta enabled -> delta sync.
 2. Delta unreliable or failed         -> full fetch.
 3. No valid cache entry               -> full fetch.

Internal failures surface at this boundary as a boolean success flag plus
a short message in the task document; stack traces and wrapped error
chains stay in the log.
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/cachestore"
	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
	"github.com/niksavis/burndown-chart-sub003/internal/ratelimit"
	"github.com/niksavis/burndown-chart-sub003/internal/retry"
	"github.com/niksavis/burndown-chart-sub003/internal/task"
)

// taskName identifies sync tasks in the durable task document.
const taskName = "sync"

// ErrSyncInProgress reports a StartSync rejected because another sync owns
// the task slot.
var ErrSyncInProgress = errors.New("a sync task is already in progress")

// Engine coordinates fetch strategies, the cache, and the task tracker.
type Engine struct {
	cfg     *config.Config
	client  jira.Searcher
	bucket  *ratelimit.Bucket
	retrier *retry.Executor
	store   *cachestore.Store
	tracker *task.Tracker

	mu   sync.RWMutex
	last *models.FetchResult
}

// NewEngine wires an Engine from its parts. The bucket and retrier are
// shared across syncs so rate-limit accounting spans task boundaries.
func NewEngine(cfg *config.Config, client jira.Searcher, store *cachestore.Store, tracker *task.Tracker) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		bucket:  ratelimit.NewBucket(cfg.RateLimit.MaxTokens, cfg.RateLimit.RefillRate),
		retrier: retry.NewExecutor(retry.Config(cfg.Retry)),
		store:   store,
		tracker: tracker,
	}
}

// StartSync begins a sync in the background. It returns the task ID, or
// ErrSyncInProgress when the task slot is occupied. The context governs
// the whole background fetch, not just this call.
func (e *Engine) StartSync(ctx context.Context) (string, error) {
	taskID, ok := e.tracker.Start(taskName)
	if !ok {
		return "", ErrSyncInProgress
	}

	go e.run(ctx, taskID)
	return taskID, nil
}

// Cancel requests cooperative cancellation of the running sync.
func (e *Engine) Cancel() bool {
	return e.tracker.Cancel()
}

// TaskState reports the durable task document for status polling.
func (e *Engine) TaskState() (*models.TaskState, error) {
	return e.tracker.Get()
}

// LastResult returns the most recent completed fetch result, or nil when
// no sync has finished since startup.
func (e *Engine) LastResult() *models.FetchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// run executes one sync under the task started by StartSync. A panic in
// the fetch path must not leave the durable task in_progress forever, so
// it is recovered into a failed task.
func (e *Engine) run(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("task_id", taskID).Msg("Sync panicked")
			_ = e.tracker.Fail("internal error")
		}
	}()

	start := time.Now()
	result := e.fetch(ctx)
	result.CompletedAt = time.Now()
	metrics.ObserveSyncDuration(string(result.Source), start)

	e.mu.Lock()
	e.last = &result
	e.mu.Unlock()

	if !result.Success {
		metrics.SyncErrorsTotal.WithLabelValues(errorType(result.Error)).Inc()
		_ = e.tracker.Fail(result.Error)
		return
	}

	metrics.RecordSyncSuccess(string(result.Source), len(result.Issues))
	if err := e.tracker.Complete(); err != nil {
		logging.Error().Err(err).Msg("Failed to mark sync complete")
	}
}

// fetch runs strategy selection and returns the result. Errors are folded
// into the result; callers never see a raw error from here.
func (e *Engine) fetch(ctx context.Context) models.FetchResult {
	spec := cachestore.KeySpec{
		Query:         e.cfg.Query.JQL,
		LookbackDays:  e.cfg.Query.LookbackDays,
		FieldMappings: e.cfg.Query.FieldMappings,
	}
	key := cachestore.Key(spec)
	configHash := cachestore.ConfigHash(spec)

	if e.cfg.Sync.DeltaEnabled {
		if entry, ok := e.store.GetEntry(key, configHash, e.cfg.Cache.MaxAge); ok {
			result, ok := e.fetchDelta(ctx, entry, key, configHash)
			if ok {
				return result
			}
			// Fall through to a full fetch on any delta problem.
		}
	}

	return e.fetchFull(ctx, key, configHash)
}

// fetchDelta attempts an incremental sync. The second return value reports
// whether the delta was usable; false means try a full fetch, regardless
// of why.
func (e *Engine) fetchDelta(ctx context.Context, entry *models.CacheEntry, key, configHash string) (models.FetchResult, bool) {
	fetcher := e.newFetcher()

	merged, changed, err := FetchDelta(ctx, fetcher, entry, e.cfg.Query.JQL, e.cfg.Query.FieldMappings, e.cfg.Sync.DeltaThreshold)
	if err != nil {
		if errors.Is(err, jira.ErrCancelled) {
			return e.cancelledResult(models.FetchSourceDelta, merged, changed, len(merged)), true
		}
		if !errors.Is(err, ErrDeltaUnreliable) {
			logging.Warn().Err(err).Msg("Delta sync failed, falling back to full fetch")
		}
		return models.FetchResult{}, false
	}

	// Mark the fetch phase complete even though a delta may have fetched
	// nothing; completion gating counts phases, not records.
	e.finishFetchPhase(len(merged))

	if err := e.store.Put(key, merged, configHash); err != nil {
		logging.Error().Err(err).Msg("Failed to persist merged cache entry")
	}

	return models.FetchResult{
		Success:     true,
		Issues:      merged,
		ChangedKeys: changed,
		Total:       len(merged),
		Source:      models.FetchSourceDelta,
	}, true
}

// fetchFull runs a complete fetch, two-phase when secondary issue types
// are configured.
func (e *Engine) fetchFull(ctx context.Context, key, configHash string) models.FetchResult {
	fetcher := e.newFetcher()

	records, total, err := FetchTwoPhase(ctx, fetcher, &e.cfg.Sync, e.cfg.Query.JQL, e.cfg.Query.FieldMappings)
	if err != nil {
		if errors.Is(err, jira.ErrCancelled) {
			return e.cancelledResult(models.FetchSourceFull, records, nil, total)
		}
		logging.Error().Err(err).Msg("Full fetch failed")
		return models.FetchResult{
			Success: false,
			Issues:  records,
			Total:   total,
			Source:  models.FetchSourceFull,
			Error:   userMessage(err),
		}
	}

	e.finishFetchPhase(len(records))

	if err := e.store.Put(key, records, configHash); err != nil {
		logging.Error().Err(err).Msg("Failed to persist cache entry")
	}

	return models.FetchResult{
		Success:     true,
		Issues:      records,
		ChangedKeys: recordKeys(records),
		Total:       total,
		Source:      models.FetchSourceFull,
	}
}

// newFetcher builds a per-sync fetcher wired to the task document for
// progress reporting and cooperative cancellation.
func (e *Engine) newFetcher() *jira.Fetcher {
	return jira.NewFetcher(e.client, e.bucket, e.retrier, &e.cfg.Sync,
		jira.WithCancelCheck(e.tracker.IsCancelled),
		jira.WithProgress(func(fetched, total int) {
			if err := e.tracker.UpdateProgress(models.TaskPhaseFetch, fetched, total, "fetching issues"); err != nil {
				logging.Warn().Err(err).Msg("Failed to record fetch progress")
			}
		}),
	)
}

// finishFetchPhase pins the fetch phase at 100% so completion gating
// passes even when no progress callback fired (empty result sets).
func (e *Engine) finishFetchPhase(records int) {
	n := max(records, 1)
	if err := e.tracker.UpdateProgress(models.TaskPhaseFetch, n, n, "fetch complete"); err != nil {
		logging.Warn().Err(err).Msg("Failed to finalize fetch progress")
	}
}

// cancelledResult carries everything fetched before the cancel; partial
// results stay inspectable even though the sync did not succeed.
func (e *Engine) cancelledResult(source models.FetchSource, partial []models.IssueRecord, changed []string, total int) models.FetchResult {
	logging.Info().Int("partial", len(partial)).Msg("Sync cancelled")
	return models.FetchResult{
		Success:     false,
		Issues:      partial,
		ChangedKeys: changed,
		Total:       total,
		Source:      source,
		Error:       "sync cancelled",
	}
}

func recordKeys(records []models.IssueRecord) []string {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	return keys
}

// userMessage reduces an internal error chain to a short operator-facing
// message for the task document.
func userMessage(err error) string {
	var statusErr *jira.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("jira API error (HTTP %d)", statusErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "sync timed out"
	default:
		return "sync failed, see logs"
	}
}

func errorType(msg string) string {
	switch msg {
	case "sync cancelled":
		return "cancelled"
	case "sync timed out":
		return "timeout"
	default:
		return "fetch"
	}
}
