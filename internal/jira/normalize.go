// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

/*
normalize.go - Wire Issue Normalization

Converts raw search API issues into the engine's IssueRecord shape.
Configured custom fields (customfield_*) are pulled out of the raw field
map and surfaced under their logical names, so downstream consumers never
see tracker-specific identifiers.
*/

package jira

import (
	"github.com/goccy/go-json"

	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
	jiramodels "github.com/niksavis/burndown-chart-sub003/internal/models/jira"
)

// Normalize converts one wire issue into an IssueRecord. fieldMappings
// maps logical names to tracker field identifiers; mapped fields present
// on the issue land in Custom under the logical name.
func Normalize(issue jiramodels.Issue, fieldMappings map[string]string) models.IssueRecord {
	fields := issue.Fields

	rec := models.IssueRecord{
		ID:      issue.ID,
		Key:     issue.Key,
		Summary: fields.Summary,
		Created: fields.Created.Time,
		Updated: fields.Updated.Time,
		Labels:  fields.Labels,
	}

	if fields.Status != nil {
		rec.Status = fields.Status.Name
	}
	if fields.IssueType != nil {
		rec.IssueType = fields.IssueType.Name
	}
	if fields.Priority != nil {
		rec.Priority = fields.Priority.Name
	}
	if fields.Project != nil {
		rec.Project = fields.Project.Key
		if rec.Project == "" {
			rec.Project = fields.Project.Name
		}
	}
	if fields.Assignee != nil {
		rec.Assignee = assigneeName(fields.Assignee)
	}
	if fields.ResolutionDate != nil && !fields.ResolutionDate.IsZero() {
		resolved := fields.ResolutionDate.Time
		rec.Resolved = &resolved
	}

	for _, v := range fields.FixVersions {
		if v.Name != "" {
			rec.FixVersions = append(rec.FixVersions, v.Name)
		}
	}

	rec.Custom = extractCustom(issue.Key, fields.Raw, fieldMappings)
	return rec
}

// NormalizeAll converts a page of wire issues. Order is preserved.
func NormalizeAll(issues []jiramodels.Issue, fieldMappings map[string]string) []models.IssueRecord {
	if len(issues) == 0 {
		return nil
	}
	records := make([]models.IssueRecord, 0, len(issues))
	for _, issue := range issues {
		records = append(records, Normalize(issue, fieldMappings))
	}
	return records
}

// extractCustom decodes each mapped custom field from the raw field map.
// Undecodable values are logged and skipped rather than failing the
// whole record; a single broken custom field must not sink a sync.
func extractCustom(key string, raw map[string]json.RawMessage, fieldMappings map[string]string) map[string]any {
	if len(fieldMappings) == 0 || len(raw) == 0 {
		return nil
	}

	var custom map[string]any
	for logical, fieldID := range fieldMappings {
		blob, ok := raw[fieldID]
		if !ok || string(blob) == "null" {
			continue
		}

		var value any
		if err := json.Unmarshal(blob, &value); err != nil {
			logging.Warn().
				Str("issue", key).
				Str("field", fieldID).
				Err(err).
				Msg("Skipping undecodable custom field")
			continue
		}

		if custom == nil {
			custom = make(map[string]any, len(fieldMappings))
		}
		custom[logical] = value
	}
	return custom
}

// assigneeName picks the most human-friendly identifier available.
func assigneeName(u *jiramodels.UserField) string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Name != "":
		return u.Name
	default:
		return u.AccountID
	}
}
