// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package config defines the typed configuration surface of the sync engine
// and its layered koanf loader (defaults, optional YAML file, environment).
//
// Every knob the engine exposes lives here as a named, typed field with a
// default; dynamic configuration dictionaries are deliberately absent. The
// configuration is validated once, before any network call.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// MaxPageSize is the server's hard per-call record cap. Page size requests
// above this are clamped client-side.
const MaxPageSize = 1000

// Config is the root configuration for the sync engine.
type Config struct {
	Jira      JiraConfig      `koanf:"jira"`
	Query     QueryConfig     `koanf:"query"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Retry     RetryConfig     `koanf:"retry"`
	Sync      SyncConfig      `koanf:"sync"`
	Task      TaskConfig      `koanf:"task"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// JiraConfig holds connection settings for the issue tracker REST API.
type JiraConfig struct {
	// URL is the base URL of the Jira instance (e.g. https://jira.example.com).
	URL string `koanf:"url"`

	// Token is the bearer token sent in the Authorization header.
	Token string `koanf:"token"`

	// Timeout bounds a single HTTP request, including body read.
	Timeout time.Duration `koanf:"timeout"`

	// PingOnStart verifies connectivity at startup before serving.
	PingOnStart bool `koanf:"ping_on_start"`
}

// QueryConfig describes the issue query whose results the engine keeps fresh.
type QueryConfig struct {
	// JQL is the base query text. Required.
	JQL string `koanf:"jql"`

	// LookbackDays is the time window of interest; it participates in the
	// cache key so a changed window never reuses stale entries.
	LookbackDays int `koanf:"lookback_days"`

	// FieldMappings maps logical attribute names to tracker field
	// identifiers (e.g. story_points -> customfield_10016). The mapped
	// fields are requested from the API and surfaced on
	// IssueRecord.Custom under their logical names.
	FieldMappings map[string]string `koanf:"field_mappings"`
}

// CacheConfig controls the file-backed issue cache.
type CacheConfig struct {
	// Dir is the directory holding one JSON file per cache key.
	Dir string `koanf:"dir"`

	// MaxAge is the freshness bound; entries older than this are invalid.
	MaxAge time.Duration `koanf:"max_age"`

	// MaxSizeBytes rejects cache files larger than this on read, treating
	// them as corrupt. 0 disables the check.
	MaxSizeBytes int64 `koanf:"max_size_bytes"`

	// MemoryCapacity is the entry count of the in-memory hot layer.
	MemoryCapacity int `koanf:"memory_capacity"`

	// MemoryTTL is the TTL of in-memory entries.
	MemoryTTL time.Duration `koanf:"memory_ttl"`
}

// RateLimitConfig parameterizes the outbound token bucket.
type RateLimitConfig struct {
	// MaxTokens is the bucket capacity (burst size).
	MaxTokens float64 `koanf:"max_tokens"`

	// RefillRate is the sustained refill in tokens per second. It must
	// stay below the upstream API's enforced ceiling.
	RefillRate float64 `koanf:"refill_rate"`
}

// RetryConfig parameterizes the transient-failure retry executor.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

// SyncConfig controls fetch strategy selection.
type SyncConfig struct {
	// PageSize is the records requested per search call, clamped to
	// MaxPageSize.
	PageSize int `koanf:"page_size"`

	// MaxIssues is an optional hard limit on fetched records. 0 means
	// unlimited.
	MaxIssues int `koanf:"max_issues"`

	// DeltaEnabled turns incremental sync on. Delta sync is an
	// optimization only; any delta failure falls back to a full fetch.
	DeltaEnabled bool `koanf:"delta_enabled"`

	// DeltaThreshold is the fraction of the cached set size above which a
	// delta result is considered unreliable and a full fetch is forced.
	// Tuned empirically, kept configurable.
	DeltaThreshold float64 `koanf:"delta_threshold"`

	// SecondaryIssueTypes lists the issue categories fetched in phase two
	// of a correlated fetch. Empty disables the two-phase strategy.
	SecondaryIssueTypes []string `koanf:"secondary_issue_types"`
}

// TaskConfig controls the durable task state document.
type TaskConfig struct {
	// StatePath is the JSON file holding the singleton TaskState.
	StatePath string `koanf:"state_path"`

	// OrphanTimeout marks an in_progress task as failed when no update
	// has been written for this long.
	OrphanTimeout time.Duration `koanf:"orphan_timeout"`

	// DisplayWindow keeps terminal task state visible to pollers before
	// the janitor deletes it.
	DisplayWindow time.Duration `koanf:"display_window"`

	// SweepInterval is how often the janitor looks for stale state.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ServerConfig holds the HTTP control API settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Jira: JiraConfig{
			URL:         "",
			Token:       "",
			Timeout:     60 * time.Second,
			PingOnStart: false,
		},
		Query: QueryConfig{
			JQL:          "",
			LookbackDays: 90,
			FieldMappings: map[string]string{
				"story_points": "customfield_10016",
			},
		},
		Cache: CacheConfig{
			Dir:            "/data/cache",
			MaxAge:         time.Hour,
			MaxSizeBytes:   64 << 20, // 64MB per cache file
			MemoryCapacity: 32,
			MemoryTTL:      time.Hour,
		},
		RateLimit: RateLimitConfig{
			MaxTokens:  10,
			RefillRate: 2,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     32 * time.Second,
		},
		Sync: SyncConfig{
			PageSize:            MaxPageSize,
			MaxIssues:           0,
			DeltaEnabled:        true,
			DeltaThreshold:      0.20,
			SecondaryIssueTypes: nil,
		},
		Task: TaskConfig{
			StatePath:     "/data/task_state.json",
			OrphanTimeout: 30 * time.Minute,
			DisplayWindow: 10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3858,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitPerMin: 300,
			MetricsEnabled:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration once at startup, before any network
// call. A failure here is a fail-fast condition: the process refuses to
// start rather than failing mid-sync.
func (c *Config) Validate() error {
	if c.Jira.URL == "" {
		return fmt.Errorf("jira.url is required")
	}
	u, err := url.Parse(c.Jira.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("jira.url %q is not a valid http(s) URL", c.Jira.URL)
	}
	if c.Jira.Token == "" {
		return fmt.Errorf("jira.token is required")
	}
	if c.Jira.Timeout <= 0 {
		return fmt.Errorf("jira.timeout must be positive, got %v", c.Jira.Timeout)
	}

	if c.Query.JQL == "" {
		return fmt.Errorf("query.jql is required")
	}
	if c.Query.LookbackDays < 0 {
		return fmt.Errorf("query.lookback_days must not be negative, got %d", c.Query.LookbackDays)
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > MaxPageSize {
		return fmt.Errorf("sync.page_size must be in 1..%d, got %d", MaxPageSize, c.Sync.PageSize)
	}
	if c.Sync.MaxIssues < 0 {
		return fmt.Errorf("sync.max_issues must not be negative, got %d", c.Sync.MaxIssues)
	}
	if c.Sync.DeltaThreshold <= 0 || c.Sync.DeltaThreshold > 1 {
		return fmt.Errorf("sync.delta_threshold must be in (0, 1], got %v", c.Sync.DeltaThreshold)
	}

	if c.RateLimit.MaxTokens <= 0 {
		return fmt.Errorf("rate_limit.max_tokens must be positive, got %v", c.RateLimit.MaxTokens)
	}
	if c.RateLimit.RefillRate <= 0 {
		return fmt.Errorf("rate_limit.refill_rate must be positive, got %v", c.RateLimit.RefillRate)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive, got %v", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay %v must not be below retry.initial_delay %v",
			c.Retry.MaxDelay, c.Retry.InitialDelay)
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive, got %v", c.Cache.MaxAge)
	}

	if c.Task.StatePath == "" {
		return fmt.Errorf("task.state_path is required")
	}
	if c.Task.OrphanTimeout <= 0 {
		return fmt.Errorf("task.orphan_timeout must be positive, got %v", c.Task.OrphanTimeout)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	return nil
}
