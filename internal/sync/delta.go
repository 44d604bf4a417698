// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
delta.go - Incremental Sync

Delta sync fetches only the issues updated since the last cached snapshot
and merges them over the cached set. It is strictly an optimization: any
doubt about the delta's reliability falls back to a full fetch, because a
wrong merge silently corrupts every downstream metric while a redundant
full fetch only costs time.

The since-anchor is the cache entry timestamp truncated to the minute and
advanced by one minute: JQL's updated comparison has minute resolution and
is inclusive, so the naive anchor would re-match everything updated within
the snapshot's own minute on every run.
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

// jqlTimeFormat is the minute-resolution layout accepted by JQL's
// updated >= comparison.
const jqlTimeFormat = "2006-01-02 15:04"

// ErrDeltaUnreliable reports a delta result too large relative to the
// cached set; the caller must fall back to a full fetch.
var ErrDeltaUnreliable = errors.New("delta result exceeds reliability threshold")

// DeltaAnchor computes the JQL-safe since-anchor from a cache snapshot
// timestamp.
func DeltaAnchor(snapshot time.Time) time.Time {
	return snapshot.Truncate(time.Minute).Add(time.Minute)
}

// DeltaJQL wraps the base query with the updated-since constraint. The
// base query is parenthesized so its own OR clauses cannot leak out of the
// conjunction.
func DeltaJQL(baseJQL string, since time.Time) string {
	return fmt.Sprintf(`(%s) AND updated >= "%s" ORDER BY updated ASC`,
		baseJQL, since.Format(jqlTimeFormat))
}

// Merge overlays delta records on the cached set: records with matching
// keys are replaced wholesale, new keys are appended. Nothing is ever
// deleted; removal is only observable through a full fetch. Merge is
// idempotent and returns the cached set's order with new keys at the end,
// plus the sorted keys that changed.
func Merge(cached, delta []models.IssueRecord) ([]models.IssueRecord, []string) {
	if len(delta) == 0 {
		return cached, nil
	}

	byKey := make(map[string]models.IssueRecord, len(delta))
	for _, rec := range delta {
		byKey[rec.Key] = rec
	}

	merged := make([]models.IssueRecord, 0, len(cached)+len(delta))
	changed := make([]string, 0, len(delta))

	for _, rec := range cached {
		if update, ok := byKey[rec.Key]; ok {
			merged = append(merged, update)
			changed = append(changed, rec.Key)
			delete(byKey, rec.Key)
			continue
		}
		merged = append(merged, rec)
	}

	// Remaining delta records are new issues. Append in input order.
	for _, rec := range delta {
		if _, ok := byKey[rec.Key]; ok {
			merged = append(merged, rec)
			changed = append(changed, rec.Key)
			delete(byKey, rec.Key)
		}
	}

	sort.Strings(changed)
	return merged, changed
}

// deltaFetcher is the fetch surface delta sync needs.
type deltaFetcher interface {
	Records(ctx context.Context, jql string, fieldMappings map[string]string) ([]models.IssueRecord, int, error)
}

// FetchDelta runs an incremental fetch against the cached entry and merges
// the result. threshold is the delta-to-cache size ratio above which the
// result is rejected as unreliable (ErrDeltaUnreliable).
func FetchDelta(ctx context.Context, f deltaFetcher, entry *models.CacheEntry, baseJQL string, fieldMappings map[string]string, threshold float64) ([]models.IssueRecord, []string, error) {
	since := DeltaAnchor(entry.Metadata.Timestamp)
	jql := DeltaJQL(baseJQL, since)

	delta, _, err := f.Records(ctx, jql, fieldMappings)
	if err != nil {
		// A cancelled fetch still surfaces what arrived; merge never
		// deletes, so overlaying a partial delta stays coherent.
		if errors.Is(err, jira.ErrCancelled) {
			merged, changed := Merge(entry.Data, delta)
			return merged, changed, err
		}
		return nil, nil, fmt.Errorf("delta fetch: %w", err)
	}

	// A delta comparable in size to the whole cached set means the anchor
	// is stale or the query changed shape underneath us.
	if len(entry.Data) > 0 && float64(len(delta)) > threshold*float64(len(entry.Data)) {
		logging.Warn().
			Int("delta", len(delta)).
			Int("cached", len(entry.Data)).
			Float64("threshold", threshold).
			Msg("Delta result too large, falling back to full fetch")
		return nil, nil, ErrDeltaUnreliable
	}

	merged, changed := Merge(entry.Data, delta)
	logging.Info().
		Time("since", since).
		Int("updated", len(changed)).
		Int("total", len(merged)).
		Msg("Delta sync merged")
	return merged, changed, nil
}
