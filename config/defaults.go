package config

import "github.com/spf13/viper"

// Default server port
const DefaultServerPort = 8720

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "recurd.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Scheduler (job runner) defaults
	v.SetDefault("scheduler.poll_interval_seconds", 5)
	v.SetDefault("scheduler.max_starts_per_minute", 60)

	// Sweeper defaults. The 15-minute stuck threshold is three times the
	// 5-minute sweep cadence, so a merely slow job survives two sweeps
	// before being treated as abandoned.
	v.SetDefault("sweeper.stuck_threshold_minutes", 15)
	v.SetDefault("sweeper.sweep_interval_seconds", 300)
	v.SetDefault("sweeper.min_interval_seconds", 120)
	v.SetDefault("sweeper.initial_delay_seconds", 30)
	v.SetDefault("sweeper.max_retries", 3)

	// Logging defaults
	v.SetDefault("log.json", false)
}
