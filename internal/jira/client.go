// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
client.go - Jira REST API Client

This file provides the HTTP communication layer for the Jira search API.

Client Features:
  - Bearer token authentication
  - Circuit breaker protection against a persistently failing upstream
  - Typed HTTP status errors so the retry layer can classify failures
  - Context support for cancellation and timeouts

Search uses POST as a GET substitute: JQL queries routinely exceed URL
length limits, and the call is read-only and safe to retry.

Related Files:
  - fetcher.go: pagination state machine built on this client
  - normalize.go: wire issue to IssueRecord conversion
*/

package jira

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
	jiramodels "github.com/niksavis/burndown-chart-sub003/internal/models/jira"
)

// maxErrorBodySize bounds how much of an error response body is read for
// diagnostics. Large HTML error pages from proxies must not blow up memory.
const maxErrorBodySize = 64 * 1024

// searchPath is the offset-paginated search endpoint.
const searchPath = "/rest/api/2/search"

// StatusError is an HTTP-level failure from the Jira API. It carries the
// status code so the retry layer can tell transient failures (429, 5xx)
// from fatal ones (other 4xx) without string matching.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("jira API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("jira API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements the status classifier used by the retry executor.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Searcher is the client surface the fetcher depends on. The production
// implementation is Client; tests substitute fakes.
type Searcher interface {
	Search(ctx context.Context, req *jiramodels.SearchRequest) (*jiramodels.SearchResponse, error)
}

// Client talks to the Jira REST API. Safe for concurrent use; each request
// creates its own http.Request.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*jiramodels.SearchResponse]
}

// NewClient creates a Jira API client from configuration. The circuit
// breaker opens after five consecutive failures and probes again after 60s;
// while open, calls fail immediately without hitting the network.
func NewClient(cfg *config.JiraConfig) *Client {
	settings := gobreaker.Settings{
		Name:        "jira-api",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Fatal client-side errors (bad JQL, expired token) say nothing
			// about upstream health; only transient failures trip the breaker.
			if err == nil {
				return true
			}
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
	}

	return &Client{
		baseURL: cfg.URL,
		token:   cfg.Token,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[*jiramodels.SearchResponse](settings),
	}
}

// Search executes one search call and returns the decoded page.
func (c *Client) Search(ctx context.Context, req *jiramodels.SearchRequest) (*jiramodels.SearchResponse, error) {
	return c.breaker.Execute(func() (*jiramodels.SearchResponse, error) {
		return c.doSearch(ctx, req)
	})
}

// Ping verifies connectivity and credentials with a minimal search call.
// Used at startup when jira.ping_on_start is set.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Search(ctx, &jiramodels.SearchRequest{
		JQL:        "order by created DESC",
		MaxResults: 1,
		Fields:     []string{"key"},
	})
	if err != nil {
		return fmt.Errorf("jira ping failed: %w", err)
	}
	return nil
}

func (c *Client) doSearch(ctx context.Context, req *jiramodels.SearchRequest) (*jiramodels.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(readBodyForError(resp.Body)),
		}
	}

	var page jiramodels.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &page, nil
}

// readBodyForError reads up to maxErrorBodySize of a response body for
// error reporting, noting truncation.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
