// Package config loads and watches the recurd configuration.
package config

import "time"

// Config represents the core recurd configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the recurd HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig configures the job runner
type SchedulerConfig struct {
	// How often the runner scans for due jobs
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// Cap on job starts per minute; protects downstream handlers when a
	// backlog of due jobs accumulates (e.g. after downtime)
	MaxStartsPerMinute int `mapstructure:"max_starts_per_minute"`
}

// SweeperConfig configures stuck-job detection and recovery
type SweeperConfig struct {
	// A running job whose updated_at is older than this is considered stuck
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes"`

	// How often the periodic sweep fires
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`

	// Sweeps requested more often than this are skipped
	MinIntervalSeconds int `mapstructure:"min_interval_seconds"`

	// Delay before the first sweep after process start
	InitialDelaySeconds int `mapstructure:"initial_delay_seconds"`

	// Stuck jobs with retry_count below this are rescued; at or above, failed
	MaxRetries int `mapstructure:"max_retries"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// StuckThreshold returns the staleness cutoff as a duration
func (c SweeperConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMinutes) * time.Minute
}

// SweepInterval returns the sweep cadence as a duration
func (c SweeperConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MinInterval returns the minimum time between sweeps as a duration
func (c SweeperConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// InitialDelay returns the delay before the first sweep as a duration
func (c SweeperConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// PollInterval returns the runner scan cadence as a duration
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
