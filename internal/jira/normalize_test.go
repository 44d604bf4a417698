// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package jira

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	jiramodels "github.com/niksavis/burndown-chart-sub003/internal/models/jira"
)

func wireTime(t *testing.T, s string) jiramodels.Time {
	t.Helper()
	parsed, err := time.Parse(jiramodels.TimeFormat, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return jiramodels.Time{Time: parsed}
}

func TestNormalizeTypedFields(t *testing.T) {
	created := wireTime(t, "2026-05-01T09:00:00.000+0000")
	updated := wireTime(t, "2026-05-10T16:30:00.000+0000")
	resolved := wireTime(t, "2026-05-10T16:30:00.000+0000")

	issue := jiramodels.Issue{
		ID:  "10042",
		Key: "PROJ-42",
		Fields: jiramodels.IssueFields{
			Summary:        "Fix the flux capacitor",
			Status:         &jiramodels.NamedField{Name: "Done"},
			IssueType:      &jiramodels.NamedField{Name: "Story"},
			Priority:       &jiramodels.NamedField{Name: "High"},
			Project:        &jiramodels.NamedField{Key: "PROJ", Name: "Project"},
			Assignee:       &jiramodels.UserField{DisplayName: "Ada Lovelace"},
			Created:        created,
			Updated:        updated,
			ResolutionDate: &resolved,
			FixVersions:    []jiramodels.NamedField{{Name: "2.1.0"}, {Name: "2.2.0"}},
			Labels:         []string{"backend"},
		},
	}

	rec := Normalize(issue, nil)

	if rec.ID != "10042" || rec.Key != "PROJ-42" {
		t.Errorf("identity = %q/%q", rec.ID, rec.Key)
	}
	if rec.Status != "Done" || rec.IssueType != "Story" || rec.Priority != "High" {
		t.Errorf("named fields = %q/%q/%q", rec.Status, rec.IssueType, rec.Priority)
	}
	if rec.Project != "PROJ" {
		t.Errorf("Project = %q, want key PROJ", rec.Project)
	}
	if rec.Assignee != "Ada Lovelace" {
		t.Errorf("Assignee = %q", rec.Assignee)
	}
	if !rec.Created.Equal(created.Time) || !rec.Updated.Equal(updated.Time) {
		t.Errorf("timestamps = %v/%v", rec.Created, rec.Updated)
	}
	if rec.Resolved == nil || !rec.Resolved.Equal(resolved.Time) {
		t.Errorf("Resolved = %v", rec.Resolved)
	}
	if len(rec.FixVersions) != 2 || rec.FixVersions[0] != "2.1.0" {
		t.Errorf("FixVersions = %v", rec.FixVersions)
	}
}

func TestNormalizeNilFields(t *testing.T) {
	rec := Normalize(jiramodels.Issue{ID: "1", Key: "PROJ-1"}, nil)

	if rec.Status != "" || rec.Assignee != "" || rec.Resolved != nil {
		t.Errorf("nil fields leaked: %+v", rec)
	}
	if rec.FixVersions != nil || rec.Custom != nil {
		t.Errorf("empty collections not nil: %+v", rec)
	}
}

func TestNormalizeCustomFields(t *testing.T) {
	issue := jiramodels.Issue{
		Key: "PROJ-7",
		Fields: jiramodels.IssueFields{
			Raw: map[string]json.RawMessage{
				"customfield_10016": json.RawMessage(`5`),
				"customfield_10020": json.RawMessage(`{"name":"Sprint 12"}`),
				"customfield_10099": json.RawMessage(`null`),
			},
		},
	}

	mappings := map[string]string{
		"story_points": "customfield_10016",
		"sprint":       "customfield_10020",
		"nullable":     "customfield_10099",
		"absent":       "customfield_11111",
	}

	rec := Normalize(issue, mappings)

	if got, ok := rec.Custom["story_points"].(float64); !ok || got != 5 {
		t.Errorf("story_points = %v", rec.Custom["story_points"])
	}
	sprint, ok := rec.Custom["sprint"].(map[string]any)
	if !ok || sprint["name"] != "Sprint 12" {
		t.Errorf("sprint = %v", rec.Custom["sprint"])
	}
	if _, ok := rec.Custom["nullable"]; ok {
		t.Error("null custom field surfaced, want skipped")
	}
	if _, ok := rec.Custom["absent"]; ok {
		t.Error("absent custom field surfaced, want skipped")
	}
}

func TestNormalizeSkipsBrokenCustomField(t *testing.T) {
	issue := jiramodels.Issue{
		Key: "PROJ-8",
		Fields: jiramodels.IssueFields{
			Summary: "still normalized",
			Raw: map[string]json.RawMessage{
				"customfield_10016": json.RawMessage(`{broken`),
			},
		},
	}

	rec := Normalize(issue, map[string]string{"story_points": "customfield_10016"})

	if _, ok := rec.Custom["story_points"]; ok {
		t.Error("broken custom field surfaced, want skipped")
	}
	if rec.Summary != "still normalized" {
		t.Error("broken custom field corrupted the record")
	}
}

func TestAssigneeNamePreference(t *testing.T) {
	tests := []struct {
		name string
		user jiramodels.UserField
		want string
	}{
		{"display name wins", jiramodels.UserField{DisplayName: "Ada", Name: "alovelace", AccountID: "abc"}, "Ada"},
		{"falls back to name", jiramodels.UserField{Name: "alovelace", AccountID: "abc"}, "alovelace"},
		{"falls back to account id", jiramodels.UserField{AccountID: "abc"}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := assigneeName(&tt.user); got != tt.want {
				t.Errorf("assigneeName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeAllPreservesOrder(t *testing.T) {
	issues := makeIssues(5)
	records := NormalizeAll(issues, nil)

	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i, rec := range records {
		if rec.Key != issues[i].Key {
			t.Errorf("record %d = %q, want %q", i, rec.Key, issues[i].Key)
		}
	}

	if NormalizeAll(nil, nil) != nil {
		t.Error("NormalizeAll(nil) != nil")
	}
}
