// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package jira defines the wire types for the Jira REST search API.
//
// The search endpoint is offset-paginated: requests carry startAt and
// maxResults, responses report the matching total. Pagination continues
// while startAt + len(issues) < total.
package jira

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TimeFormat is the timestamp layout used by the Jira REST API.
const TimeFormat = "2006-01-02T15:04:05.000-0700"

// Time wraps time.Time with Jira's JSON timestamp layout.
type Time struct {
	time.Time
}

// UnmarshalJSON parses a Jira timestamp, accepting null and empty strings.
func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(TimeFormat, s)
	if err != nil {
		return fmt.Errorf("invalid jira timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON renders the timestamp in Jira's layout.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(TimeFormat) + `"`), nil
}

// SearchRequest is the JSON body of a POST search call. POST is used as a
// GET substitute so long JQL queries do not overflow URL limits; the call
// is read-only and safe to retry.
type SearchRequest struct {
	JQL        string   `json:"jql"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields,omitempty"`
	Expand     []string `json:"expand,omitempty"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Issue is one raw issue as returned by the search endpoint.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// NamedField is the common {"name": ...} shape of status, priority,
// issue type, version, and project fields.
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
}

// UserField identifies a Jira user on an issue.
type UserField struct {
	AccountID    string `json:"accountId,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// IssueFields holds the typed fields the engine understands plus the raw
// field map, so configured custom fields (customfield_*) stay reachable
// without the engine knowing their identifiers up front.
type IssueFields struct {
	Summary        string       `json:"summary"`
	Status         *NamedField  `json:"status"`
	IssueType      *NamedField  `json:"issuetype"`
	Priority       *NamedField  `json:"priority"`
	Project        *NamedField  `json:"project"`
	Assignee       *UserField   `json:"assignee"`
	Created        Time         `json:"created"`
	Updated        Time         `json:"updated"`
	ResolutionDate *Time        `json:"resolutiondate"`
	FixVersions    []NamedField `json:"fixVersions"`
	Labels         []string     `json:"labels"`

	// Raw is the undecoded field map, populated during unmarshaling.
	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the raw field map for
// custom attribute extraction.
func (f *IssueFields) UnmarshalJSON(b []byte) error {
	type plain IssueFields
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = IssueFields(p)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	f.Raw = raw
	return nil
}
