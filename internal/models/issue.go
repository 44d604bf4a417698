// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package models defines the core data types shared across the sync engine:
// normalized issue records, fetch results, cache entry envelopes, and the
// durable task state document.
package models

import "time"

// IssueRecord is the normalized representation of one tracked work item.
//
// Records are immutable once fetched for a given fetch cycle: a re-fetch
// supersedes the whole record, and the only in-place mutation is the
// overwrite-on-match step of a delta merge.
type IssueRecord struct {
	// ID is the tracker-internal numeric identifier.
	ID string `json:"id"`

	// Key is the human-readable issue key (e.g. "PROJ-123") and the
	// primary key for merge operations.
	Key string `json:"key"`

	Summary   string `json:"summary,omitempty"`
	Status    string `json:"status"`
	IssueType string `json:"issue_type,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
	Project   string `json:"project,omitempty"`

	Created  time.Time  `json:"created"`
	Updated  time.Time  `json:"updated"`
	Resolved *time.Time `json:"resolved,omitempty"`

	// FixVersions carries the release identifiers used as the correlation
	// attribute by the two-phase fetch.
	FixVersions []string `json:"fix_versions,omitempty"`

	Labels []string `json:"labels,omitempty"`

	// Custom holds mapped custom attributes keyed by their logical name
	// from the configured field mapping (e.g. "story_points").
	Custom map[string]any `json:"custom,omitempty"`
}

// FetchSource identifies which strategy produced a FetchResult.
type FetchSource string

const (
	FetchSourceFull  FetchSource = "full"
	FetchSourceDelta FetchSource = "delta"
	FetchSourceCache FetchSource = "cache"
)

// FetchResult is the engine's unit of output, consumed downstream by the
// metric calculators. On failure Issues may carry partial results; Success
// tells the caller whether the set is complete.
type FetchResult struct {
	Success bool          `json:"success"`
	Issues  []IssueRecord `json:"issues"`

	// ChangedKeys lists the issue keys that changed relative to the
	// previously cached set. Empty after a no-op delta sync; equal to all
	// keys after a full fetch of a cold cache.
	ChangedKeys []string `json:"changed_keys"`

	// Total is the total reported by the server on the first page.
	Total int `json:"total"`

	Source      FetchSource `json:"source"`
	Error       string      `json:"error,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// CacheMetadata is the validation envelope stored with each cache entry.
type CacheMetadata struct {
	Timestamp  time.Time `json:"timestamp"`
	ConfigHash string    `json:"config_hash"`
}

// CacheEntry is the on-disk layout of one cache file:
// {"metadata": {...}, "data": [...]}.
type CacheEntry struct {
	Metadata CacheMetadata `json:"metadata"`
	Data     []IssueRecord `json:"data"`
}
