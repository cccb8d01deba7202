// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat and snake_case so that EVALSYNC_FOO_BAR maps to foo_bar.
// - New() returns the defaults; Load layers a YAML file and env vars on top.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Backends accepted by RemoteBackend and LocalBackend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`
	// LogFile enables a rotated log file alongside stdout.
	LogFile          string `koanf:"log_file"`
	LogMaxSizeMB     int    `koanf:"log_max_size_mb"`
	LogMaxBackups    int    `koanf:"log_max_backups"`
	LogMaxAgeDays    int    `koanf:"log_max_age_days"`
	LogCompressFiles bool   `koanf:"log_compress"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Collection is the remote collection holding evaluations.
	Collection string `koanf:"collection"`

	// RemoteBackend is memory or redis.
	RemoteBackend string `koanf:"remote_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// LocalBackend is memory or sqlite.
	LocalBackend string `koanf:"local_backend"`
	LocalDBPath  string `koanf:"local_db_path"`

	// Timeouts bounding remote calls. A probe timeout counts as offline.
	ProbeTimeoutMS int `koanf:"probe_timeout_ms"`
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// Background loops; zero disables the loop.
	ProbeIntervalSec   int `koanf:"probe_interval_sec"`
	RefreshIntervalSec int `koanf:"refresh_interval_sec"`

	// SyncConcurrency bounds concurrent upserts inside one sync pass.
	SyncConcurrency int `koanf:"sync_concurrency"`

	// Intake pipeline sizing.
	IntakeQueueSize   int `koanf:"intake_queue_size"`
	IntakeWorkerCount int `koanf:"intake_worker_count"`

	// SnapshotTTLSec bounds how long a merged view is served from cache.
	SnapshotTTLSec int `koanf:"snapshot_ttl_sec"`

	// MetricsEnabled turns Prometheus recording off when false; /metrics
	// then serves only what was recorded before.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// Tracing.
	ServiceName      string  `koanf:"service_name"`
	OTLPEndpoint     string  `koanf:"otlp_endpoint"`
	OTLPInsecure     bool    `koanf:"otlp_insecure"`
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`
}

// New returns a Config populated with defaults.
func New() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 2 {
		workers = 2
	}
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		LogMaxSizeMB:       50,
		LogMaxBackups:      5,
		LogMaxAgeDays:      30,
		Addr:               ":9080",
		Collection:         "evaluations",
		RemoteBackend:      BackendMemory,
		RedisAddr:          "localhost:6379",
		RedisPrefix:        "evalsync",
		LocalBackend:       BackendMemory,
		LocalDBPath:        "evalsync-local.db",
		ProbeTimeoutMS:     5_000,
		FetchTimeoutMS:     15_000,
		ProbeIntervalSec:   30,
		RefreshIntervalSec: 120,
		SyncConcurrency:    4,
		IntakeQueueSize:    1_024,
		IntakeWorkerCount:  workers,
		SnapshotTTLSec:     300,
		MetricsEnabled:     true,
		ServiceName:        "evalsync",
		OTLPInsecure:       true,
		TraceSampleRatio:   1.0,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Collection == "":
		return fmt.Errorf("%w: collection must not be empty", ErrInvalidConfig)
	}

	switch c.RemoteBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown remote_backend %q", ErrInvalidConfig, c.RemoteBackend)
	}

	switch c.LocalBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.LocalDBPath == "" {
			return fmt.Errorf("%w: local_db_path is required for the sqlite backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown local_backend %q", ErrInvalidConfig, c.LocalBackend)
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("%w: trace_sample_ratio must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ProbeTimeout returns the connectivity probe bound.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// FetchTimeout returns the fetch-all bound.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// ProbeInterval returns the periodic verification interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// RefreshInterval returns the auto-refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// SnapshotTTL returns the merged-view cache TTL.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSec) * time.Second
}
