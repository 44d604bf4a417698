// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

package cachestore

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// KeySpec is the normalized input to cache key generation: the query text,
// the time window, and the field mapping. Identical specs always produce
// the same key; changing any single input changes it.
type KeySpec struct {
	Query         string
	LookbackDays  int
	FieldMappings map[string]string
}

// Key derives the deterministic 128-bit cache key for a spec, hex encoded.
func Key(spec KeySpec) string {
	return hash128("key", canonical(spec))
}

// ConfigHash derives the processing-configuration hash stored with each
// cache entry. It covers the same normalized inputs as the key but under a
// separate domain, so a key collision can never satisfy a config check.
func ConfigHash(spec KeySpec) string {
	return hash128("cfg", canonical(spec))
}

// canonical renders a spec into a stable byte form: query text, window, and
// field-mapping entries sorted by logical name.
func canonical(spec KeySpec) string {
	var b strings.Builder
	b.WriteString(spec.Query)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "lookback=%d\n", spec.LookbackDays)

	names := make([]string, 0, len(spec.FieldMappings))
	for name := range spec.FieldMappings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(spec.FieldMappings[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// hash128 computes the domain-separated xxh3 128-bit digest, hex encoded.
func hash128(domain, input string) string {
	sum := xxh3.Hash128([]byte(domain + ":" + input)).Bytes()
	return hex.EncodeToString(sum[:])
}
