// Package config loads kvsd's ambient configuration from the environment,
// layered under the positional CLI arguments the server protocol requires.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds ambient server configuration sourced from the environment.
// The four positional CLI arguments (jobs dir, MAX_PROC, MAX_THREADS,
// register pipe name) are parsed separately in cmd/kvsd and take priority
// over the env-sourced equivalents below when both are present.
type Config struct {
	// Table / registry shape
	TableBuckets           int `env:"KVSD_TABLE_BUCKETS" envDefault:"26"`
	MaxStringSize          int `env:"KVSD_MAX_STRING_SIZE" envDefault:"40"`
	MaxPipePathLength      int `env:"KVSD_MAX_PIPE_PATH_LENGTH" envDefault:"40"`
	MaxSessionCount        int `env:"KVSD_MAX_SESSION_COUNT" envDefault:"16"`
	MaxSubscribersPerKeyFactor int `env:"KVSD_MAX_SUBSCRIBERS_PER_KEY_FACTOR" envDefault:"10"`

	// Worker pools (overridable by CLI positional args)
	JobWorkers     int `env:"KVSD_JOB_WORKERS" envDefault:"4"`
	MaxSnapshotProcs int `env:"KVSD_MAX_SNAPSHOT_PROCS" envDefault:"4"`

	// Admission / backpressure
	RegistrationAcceptBurst int     `env:"KVSD_REGISTER_ACCEPT_BURST" envDefault:"8"`
	RegistrationAcceptRate  float64 `env:"KVSD_REGISTER_ACCEPT_RATE" envDefault:"100"`

	// Resource monitoring
	ResourceSampleInterval time.Duration `env:"KVSD_RESOURCE_SAMPLE_INTERVAL" envDefault:"5s"`
	CPUPauseThreshold      float64       `env:"KVSD_CPU_PAUSE_THRESHOLD" envDefault:"90.0"`

	// Observability
	MetricsAddr string `env:"KVSD_METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"KVSD_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"KVSD_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"KVSD_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.TableBuckets <= 0 {
		return fmt.Errorf("KVSD_TABLE_BUCKETS must be > 0, got %d", c.TableBuckets)
	}
	if c.MaxStringSize <= 0 {
		return fmt.Errorf("KVSD_MAX_STRING_SIZE must be > 0, got %d", c.MaxStringSize)
	}
	if c.MaxSessionCount <= 0 {
		return fmt.Errorf("KVSD_MAX_SESSION_COUNT must be > 0, got %d", c.MaxSessionCount)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("KVSD_JOB_WORKERS must be > 0, got %d", c.JobWorkers)
	}
	if c.MaxSnapshotProcs <= 0 {
		return fmt.Errorf("KVSD_MAX_SNAPSHOT_PROCS must be > 0, got %d", c.MaxSnapshotProcs)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("KVSD_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("KVSD_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("KVSD_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}
	return nil
}

// MaxSubscribersPerKey returns the per-key subscriber cap implied by
// spec.md's suggested 10*S bound, where S is the session cap.
func (c *Config) MaxSubscribersPerKey() int {
	return c.MaxSubscribersPerKeyFactor * c.MaxSessionCount
}

// LogConfig emits the loaded configuration through structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("table_buckets", c.TableBuckets).
		Int("max_string_size", c.MaxStringSize).
		Int("max_session_count", c.MaxSessionCount).
		Int("max_subscribers_per_key", c.MaxSubscribersPerKey()).
		Int("job_workers", c.JobWorkers).
		Int("max_snapshot_procs", c.MaxSnapshotProcs).
		Float64("register_accept_rate", c.RegistrationAcceptRate).
		Dur("resource_sample_interval", c.ResourceSampleInterval).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
