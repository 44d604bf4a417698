// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
fetcher.go - Paginated Search Fetcher

This file implements the page-at-a-time fetch loop over the Jira search
endpoint. Each page waits on the outbound token bucket, runs under the
retry executor, and is followed by a cooperative cancellation check, so a
cancel takes effect within one in-flight request.

The loop is an explicit state machine (Idle, Requesting, PageReceived,
Done, Failed, Cancelled) observable via State. Pages are fetched strictly
sequentially: offset pagination against a changing result set is already
best-effort, and concurrent pages would only widen the inconsistency
window while hammering the rate limit.
*/

package jira

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
	jiramodels "github.com/niksavis/burndown-chart-sub003/internal/models/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/ratelimit"
	"github.com/niksavis/burndown-chart-sub003/internal/retry"
)

// maxPages is a hard safety cap on pages per fetch. At the maximum page
// size this is one million records; hitting it means the query is
// unbounded or the server is misreporting totals.
const maxPages = 1000

// ErrCancelled reports a fetch stopped by cooperative cancellation.
var ErrCancelled = errors.New("fetch cancelled")

// ErrPageLimit reports a fetch that hit the hard page cap before the
// server-reported total was reached.
var ErrPageLimit = errors.New("fetch exceeded maximum page count")

// FetchState is the observable state of the pagination loop.
type FetchState int32

const (
	StateIdle FetchState = iota
	StateRequesting
	StatePageReceived
	StateDone
	StateFailed
	StateCancelled
)

func (s FetchState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StatePageReceived:
		return "page_received"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// ProgressFunc receives pagination progress after every page. total is the
// server-reported match count from the first page.
type ProgressFunc func(fetched, total int)

// Fetcher drains an offset-paginated search query page by page. A Fetcher
// runs one fetch at a time; State reports where that fetch is.
type Fetcher struct {
	client   Searcher
	bucket   *ratelimit.Bucket
	retrier  *retry.Executor
	pageSize int
	maxIssue int

	// cancelled is polled between pages; it is the bridge to the durable
	// task document's cooperative cancel flag.
	cancelled func() bool
	progress  ProgressFunc

	state atomic.Int32
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithCancelCheck installs the cooperative cancellation poll.
func WithCancelCheck(fn func() bool) FetcherOption {
	return func(f *Fetcher) { f.cancelled = fn }
}

// WithProgress installs the per-page progress callback.
func WithProgress(fn ProgressFunc) FetcherOption {
	return func(f *Fetcher) { f.progress = fn }
}

// NewFetcher builds a Fetcher. The page size is clamped to the server's
// hard cap; values below 1 fall back to the cap.
func NewFetcher(client Searcher, bucket *ratelimit.Bucket, retrier *retry.Executor, cfg *config.SyncConfig, opts ...FetcherOption) *Fetcher {
	pageSize := cfg.PageSize
	if pageSize < 1 || pageSize > config.MaxPageSize {
		pageSize = config.MaxPageSize
	}

	f := &Fetcher{
		client:   client,
		bucket:   bucket,
		retrier:  retrier,
		pageSize: pageSize,
		maxIssue: cfg.MaxIssues,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the current state of the pagination loop.
func (f *Fetcher) State() FetchState {
	return FetchState(f.state.Load())
}

func (f *Fetcher) setState(s FetchState) {
	f.state.Store(int32(s))
}

// FetchAll drains every page of the query. fields lists the tracker field
// identifiers to request; the caller derives it from the field mappings.
//
// On failure the issues fetched so far are returned alongside the error so
// the caller can decide whether partial data is usable. Cancellation is
// reported as ErrCancelled.
func (f *Fetcher) FetchAll(ctx context.Context, jql string, fields []string) ([]jiramodels.Issue, int, error) {
	var (
		issues  []jiramodels.Issue
		total   int
		startAt int
	)

	f.setState(StateIdle)
	start := time.Now()

	for page := 0; page < maxPages; page++ {
		if f.isCancelled() {
			f.setState(StateCancelled)
			logging.Info().Int("fetched", len(issues)).Msg("Fetch cancelled between pages")
			return issues, total, ErrCancelled
		}

		f.setState(StateRequesting)
		resp, err := f.fetchPage(ctx, jql, fields, startAt)
		if err != nil {
			f.setState(StateFailed)
			return issues, total, fmt.Errorf("page at offset %d: %w", startAt, err)
		}
		f.setState(StatePageReceived)
		metrics.PagesFetchedTotal.Inc()

		// The first page fixes the expected total; later pages may disagree
		// if the result set shifts mid-fetch, and the first answer wins.
		if page == 0 {
			total = resp.Total
		}

		issues = append(issues, resp.Issues...)
		if f.progress != nil {
			f.progress(len(issues), total)
		}

		if f.maxIssue > 0 && len(issues) >= f.maxIssue {
			issues = issues[:f.maxIssue]
			logging.Info().Int("max_issues", f.maxIssue).Msg("Fetch truncated at configured issue limit")
			f.setState(StateDone)
			break
		}

		// Termination: the server returned fewer rows than requested, or
		// the offset has walked past the reported total.
		if len(resp.Issues) == 0 || startAt+len(resp.Issues) >= total {
			f.setState(StateDone)
			break
		}
		startAt += len(resp.Issues)
	}

	if f.State() != StateDone {
		f.setState(StateFailed)
		return issues, total, fmt.Errorf("%w: %d pages at size %d", ErrPageLimit, maxPages, f.pageSize)
	}

	logging.Info().
		Int("issues", len(issues)).
		Int("total", total).
		Dur("elapsed", time.Since(start)).
		Msg("Fetch complete")
	return issues, total, nil
}

// fetchPage executes a single page request under the token bucket and the
// retry executor.
func (f *Fetcher) fetchPage(ctx context.Context, jql string, fields []string, startAt int) (*jiramodels.SearchResponse, error) {
	waitStart := time.Now()
	if err := f.bucket.WaitAndConsume(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.RateLimitWaitDuration.Observe(time.Since(waitStart).Seconds())

	req := &jiramodels.SearchRequest{
		JQL:        jql,
		StartAt:    startAt,
		MaxResults: f.pageSize,
		Fields:     fields,
	}

	return retry.DoValue(ctx, f.retrier, "search", func() (*jiramodels.SearchResponse, error) {
		return f.client.Search(ctx, req)
	})
}

func (f *Fetcher) isCancelled() bool {
	return f.cancelled != nil && f.cancelled()
}

// SearchFields derives the field list for search requests: the typed
// fields the normalizer understands plus every configured custom field.
func SearchFields(fieldMappings map[string]string) []string {
	fields := []string{
		"summary", "status", "issuetype", "priority", "project",
		"assignee", "created", "updated", "resolutiondate",
		"fixVersions", "labels",
	}
	for _, id := range fieldMappings {
		fields = append(fields, id)
	}
	return fields
}

// Records fetches and normalizes in one step. Partial results survive a
// failed fetch for the same reasons FetchAll's do.
func (f *Fetcher) Records(ctx context.Context, jql string, fieldMappings map[string]string) ([]models.IssueRecord, int, error) {
	issues, total, err := f.FetchAll(ctx, jql, SearchFields(fieldMappings))
	return NormalizeAll(issues, fieldMappings), total, err
}
