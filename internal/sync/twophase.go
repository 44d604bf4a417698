// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
twophase.go - Correlated Two-Phase Fetch

Phase one fetches the primary query. Phase two derives the correlation
values (fix versions) from the primary results and fetches the secondary
issue types sharing those versions, so release-scoped metrics see the
defects and support work attached to the same releases as the planned
stories.

Phase two is additive: when it fails, the engine degrades to primary-only
results with a warning instead of failing the sync. Cancellation is the
one exception; it propagates, with the primary results attached as the
partial set.
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

// CorrelationValues extracts the sorted, unique correlation attribute
// values from primary records. Only fixVersions is supported as the
// correlation field; records without values contribute nothing.
func CorrelationValues(records []models.IssueRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, v := range rec.FixVersions {
			if v != "" {
				seen[v] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// SecondaryJQL builds the phase-two query from correlation values and the
// configured secondary issue types. Values are quoted with embedded quotes
// escaped, so version names with spaces or commas survive.
func SecondaryJQL(values, issueTypes []string) string {
	return fmt.Sprintf(`fixVersion in (%s) AND issuetype in (%s) ORDER BY updated ASC`,
		quoteList(values), quoteList(issueTypes))
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, `"`+strings.ReplaceAll(item, `"`, `\"`)+`"`)
	}
	return strings.Join(quoted, ", ")
}

// FetchTwoPhase runs the correlated fetch. The returned records are the
// primary set followed by secondary records not already present in it,
// deduplicated by key with the primary record winning.
func FetchTwoPhase(ctx context.Context, f deltaFetcher, cfg *config.SyncConfig, baseJQL string, fieldMappings map[string]string) ([]models.IssueRecord, int, error) {
	primary, total, err := f.Records(ctx, baseJQL, fieldMappings)
	if err != nil {
		return primary, total, fmt.Errorf("primary fetch: %w", err)
	}

	if len(cfg.SecondaryIssueTypes) == 0 {
		return primary, total, nil
	}

	values := CorrelationValues(primary)
	if len(values) == 0 {
		logging.Debug().Msg("No correlation values in primary results, skipping secondary fetch")
		return primary, total, nil
	}

	secondary, _, err := f.Records(ctx, SecondaryJQL(values, cfg.SecondaryIssueTypes), fieldMappings)
	if err != nil {
		// A cancel observed mid-phase-two is a cancel, not a degradation.
		if errors.Is(err, jira.ErrCancelled) {
			return primary, total, err
		}
		// Secondary data enriches, it does not gate.
		logging.Warn().Err(err).Msg("Secondary fetch failed, continuing with primary results only")
		return primary, total, nil
	}

	seen := make(map[string]struct{}, len(primary))
	for _, rec := range primary {
		seen[rec.Key] = struct{}{}
	}

	combined := primary
	for _, rec := range secondary {
		if _, ok := seen[rec.Key]; ok {
			continue
		}
		seen[rec.Key] = struct{}{}
		combined = append(combined, rec)
	}

	logging.Info().
		Int("primary", len(primary)).
		Int("secondary", len(combined)-len(primary)).
		Strs("versions", values).
		Msg("Two-phase fetch combined")
	return combined, total, nil
}
