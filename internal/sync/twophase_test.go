// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package sync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

// scriptedFetcher returns one canned response per call, in order.
type scriptedFetcher struct {
	responses []fetchResponse
	jqls      []string
}

type fetchResponse struct {
	records []models.IssueRecord
	err     error
}

func (f *scriptedFetcher) Records(_ context.Context, jql string, _ map[string]string) ([]models.IssueRecord, int, error) {
	f.jqls = append(f.jqls, jql)
	if len(f.responses) == 0 {
		return nil, 0, errors.New("unexpected fetch")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.records, len(resp.records), resp.err
}

func recWithVersions(key string, versions ...string) models.IssueRecord {
	return models.IssueRecord{
		ID:          key,
		Key:         key,
		IssueType:   "Story",
		Updated:     time.Now(),
		FixVersions: versions,
	}
}

func TestCorrelationValues(t *testing.T) {
	records := []models.IssueRecord{
		recWithVersions("A-1", "2.1.0"),
		recWithVersions("A-2", "2.2.0", "2.1.0"),
		recWithVersions("A-3"),
		recWithVersions("A-4", ""),
	}

	got := CorrelationValues(records)
	if !reflect.DeepEqual(got, []string{"2.1.0", "2.2.0"}) {
		t.Errorf("CorrelationValues() = %v, want [2.1.0 2.2.0]", got)
	}

	if CorrelationValues(nil) != nil {
		t.Error("CorrelationValues(nil) != nil")
	}
}

func TestSecondaryJQL(t *testing.T) {
	got := SecondaryJQL([]string{"2.1.0", `R "X"`}, []string{"Bug", "Support"})
	want := `fixVersion in ("2.1.0", "R \"X\"") AND issuetype in ("Bug", "Support") ORDER BY updated ASC`
	if got != want {
		t.Errorf("SecondaryJQL() = %q, want %q", got, want)
	}
}

func TestFetchTwoPhaseCombines(t *testing.T) {
	primary := []models.IssueRecord{
		recWithVersions("A-1", "2.1.0"),
		recWithVersions("A-2", "2.2.0"),
	}
	secondary := []models.IssueRecord{
		{ID: "B-1", Key: "B-1", IssueType: "Bug"},
		{ID: "A-1", Key: "A-1", IssueType: "Story"}, // already in primary
	}

	f := &scriptedFetcher{responses: []fetchResponse{
		{records: primary},
		{records: secondary},
	}}
	cfg := &config.SyncConfig{SecondaryIssueTypes: []string{"Bug"}}

	combined, _, err := FetchTwoPhase(context.Background(), f, cfg, "project = PROJ", nil)
	if err != nil {
		t.Fatalf("FetchTwoPhase() error: %v", err)
	}

	if got := keysOf(combined); !reflect.DeepEqual(got, []string{"A-1", "A-2", "B-1"}) {
		t.Errorf("combined keys = %v, want [A-1 A-2 B-1]", got)
	}
	// Primary record wins the duplicate.
	if combined[0].IssueType != "Story" {
		t.Errorf("A-1 issue type = %q, want Story", combined[0].IssueType)
	}

	if len(f.jqls) != 2 {
		t.Fatalf("made %d fetches, want 2", len(f.jqls))
	}
	wantSecondary := `fixVersion in ("2.1.0", "2.2.0") AND issuetype in ("Bug") ORDER BY updated ASC`
	if f.jqls[1] != wantSecondary {
		t.Errorf("secondary JQL = %q, want %q", f.jqls[1], wantSecondary)
	}
}

func TestFetchTwoPhaseSkipsWithoutSecondaryTypes(t *testing.T) {
	f := &scriptedFetcher{responses: []fetchResponse{
		{records: []models.IssueRecord{recWithVersions("A-1", "2.1.0")}},
	}}

	combined, _, err := FetchTwoPhase(context.Background(), f, &config.SyncConfig{}, "q", nil)
	if err != nil {
		t.Fatalf("FetchTwoPhase() error: %v", err)
	}
	if len(combined) != 1 || len(f.jqls) != 1 {
		t.Errorf("records %d, fetches %d, want 1/1", len(combined), len(f.jqls))
	}
}

func TestFetchTwoPhaseSkipsWithoutCorrelationValues(t *testing.T) {
	f := &scriptedFetcher{responses: []fetchResponse{
		{records: recs("A-1", "A-2")}, // no fix versions
	}}
	cfg := &config.SyncConfig{SecondaryIssueTypes: []string{"Bug"}}

	combined, _, err := FetchTwoPhase(context.Background(), f, cfg, "q", nil)
	if err != nil {
		t.Fatalf("FetchTwoPhase() error: %v", err)
	}
	if len(combined) != 2 {
		t.Errorf("combined = %d records, want 2", len(combined))
	}
	if len(f.jqls) != 1 {
		t.Errorf("made %d fetches, want 1 (no secondary query)", len(f.jqls))
	}
}

func TestFetchTwoPhaseDegradesOnSecondaryFailure(t *testing.T) {
	primary := []models.IssueRecord{recWithVersions("A-1", "2.1.0")}
	f := &scriptedFetcher{responses: []fetchResponse{
		{records: primary},
		{err: errors.New("secondary down")},
	}}
	cfg := &config.SyncConfig{SecondaryIssueTypes: []string{"Bug"}}

	combined, _, err := FetchTwoPhase(context.Background(), f, cfg, "q", nil)
	if err != nil {
		t.Fatalf("FetchTwoPhase() error = %v, want degraded success", err)
	}
	if got := keysOf(combined); !reflect.DeepEqual(got, []string{"A-1"}) {
		t.Errorf("combined = %v, want primary only", got)
	}
}

func TestFetchTwoPhaseCancelIsNotDegradation(t *testing.T) {
	primary := []models.IssueRecord{recWithVersions("A-1", "2.1.0")}
	f := &scriptedFetcher{responses: []fetchResponse{
		{records: primary},
		{err: jira.ErrCancelled},
	}}
	cfg := &config.SyncConfig{SecondaryIssueTypes: []string{"Bug"}}

	combined, _, err := FetchTwoPhase(context.Background(), f, cfg, "q", nil)
	if !errors.Is(err, jira.ErrCancelled) {
		t.Fatalf("FetchTwoPhase() error = %v, want cancellation to propagate", err)
	}
	if got := keysOf(combined); !reflect.DeepEqual(got, []string{"A-1"}) {
		t.Errorf("partial records = %v, want primary set", got)
	}
}

func TestFetchTwoPhaseFailsOnPrimaryFailure(t *testing.T) {
	primaryErr := errors.New("primary down")
	f := &scriptedFetcher{responses: []fetchResponse{{err: primaryErr}}}
	cfg := &config.SyncConfig{SecondaryIssueTypes: []string{"Bug"}}

	_, _, err := FetchTwoPhase(context.Background(), f, cfg, "q", nil)
	if !errors.Is(err, primaryErr) {
		t.Fatalf("FetchTwoPhase() error = %v, want wrapped primary error", err)
	}
}
