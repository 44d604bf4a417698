// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package cachestore implements the keyed, content-hashed issue cache.
//
// Each cache key maps to one JSON file of the form
// {"metadata": {"timestamp": ..., "config_hash": ...}, "data": [...]},
// written atomically (temp file, fsync, rename). An entry is valid only if
// its stored config hash matches the caller's current processing
// configuration and it is younger than the caller's max age. A malformed or
// oversized file is demoted to a cache miss and removed; it never fails a
// sync. An in-memory LRU layer fronts the files to spare repeated decoding
// of large record sets.
package cachestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/niksavis/burndown-chart-sub003/internal/atomicfile"
	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/metrics"
	"github.com/niksavis/burndown-chart-sub003/internal/models"
)

const cacheFileSuffix = ".json"

// Store is the file-backed issue cache. Safe for concurrent use.
type Store struct {
	dir     string
	maxSize int64
	mem     *lruCache
}

// New creates a Store rooted at cfg.Dir, creating the directory if needed.
func New(cfg *config.CacheConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", cfg.Dir, err)
	}
	return &Store{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSizeBytes,
		mem:     newLRUCache(cfg.MemoryCapacity, cfg.MemoryTTL),
	}, nil
}

// Get returns the cached records for key if the entry exists, is younger
// than maxAge, and was written under the same config hash.
func (s *Store) Get(key, configHash string, maxAge time.Duration) ([]models.IssueRecord, bool) {
	entry, ok := s.GetEntry(key, configHash, maxAge)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// GetEntry is Get with the metadata envelope included, for callers that
// need the entry timestamp (the delta engine's "updated since" anchor).
func (s *Store) GetEntry(key, configHash string, maxAge time.Duration) (*models.CacheEntry, bool) {
	if entry, ok := s.mem.get(key); ok {
		if s.valid(entry, key, configHash, maxAge) {
			metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
			return entry, true
		}
		s.mem.remove(key)
	}

	entry, err := s.readFile(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			// Corrupt cache never fails the sync; it is a miss.
			logging.Warn().Err(err).Str("key", key).Msg("Removing unreadable cache entry")
			metrics.CacheCorruptTotal.Inc()
			_ = os.Remove(s.path(key))
		}
		metrics.CacheMissesTotal.WithLabelValues("absent").Inc()
		return nil, false
	}

	if !s.valid(entry, key, configHash, maxAge) {
		return nil, false
	}

	s.mem.add(key, entry)
	metrics.CacheHitsTotal.WithLabelValues("file").Inc()
	return entry, true
}

// Put stores data under key, always overwriting. The write is atomic: a
// reader sees either the previous entry or the new one, never a torn file.
func (s *Store) Put(key string, data []models.IssueRecord, configHash string) error {
	entry := &models.CacheEntry{
		Metadata: models.CacheMetadata{
			Timestamp:  time.Now().UTC(),
			ConfigHash: configHash,
		},
		Data: data,
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	if err := atomicfile.WriteFile(s.path(key), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}

	s.mem.add(key, entry)
	logging.Debug().Str("key", key).Int("records", len(data)).Msg("Cache entry written")
	return nil
}

// Invalidate removes one entry. Missing entries are not an error.
func (s *Store) Invalidate(key string) error {
	s.mem.remove(key)
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to invalidate cache entry %s: %w", key, err)
	}
	return nil
}

// InvalidateAll removes every cache file in the store's directory.
func (s *Store) InvalidateAll() error {
	s.mem.clear()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), cacheFileSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// valid applies the entry validity invariant: matching config hash and age
// within maxAge.
func (s *Store) valid(entry *models.CacheEntry, key, configHash string, maxAge time.Duration) bool {
	if entry.Metadata.ConfigHash != configHash {
		logging.Debug().Str("key", key).Msg("Cache entry config hash mismatch")
		metrics.CacheMissesTotal.WithLabelValues("config_changed").Inc()
		return false
	}
	if time.Since(entry.Metadata.Timestamp) > maxAge {
		logging.Debug().Str("key", key).Time("written", entry.Metadata.Timestamp).Msg("Cache entry expired")
		metrics.CacheMissesTotal.WithLabelValues("expired").Inc()
		return false
	}
	return true
}

// readFile loads and decodes one cache file, enforcing the size bound.
func (s *Store) readFile(key string) (*models.CacheEntry, error) {
	path := s.path(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		return nil, fmt.Errorf("cache file %s is %d bytes, exceeds limit %d", path, info.Size(), s.maxSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("malformed cache file %s: %w", path, err)
	}
	return &entry, nil
}

// path maps a cache key to its file.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+cacheFileSuffix)
}
