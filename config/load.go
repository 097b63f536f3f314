package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/recurd/recurd/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the recurd configuration using Viper.
// The result is cached; use Reset to clear (tests only).
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &cfg, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Environment variable binding: RECURD_SWEEPER_MAX_RETRIES etc.
	v.SetEnvPrefix("RECURD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Project config file, if present
	if path := FindConfigFile(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		// Missing or unreadable config is not fatal; defaults + env apply
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// FindConfigFile searches for recurd.toml by walking up the directory tree
// from the working directory, then falls back to ~/.recurd/recurd.toml.
// Returns empty string if no config file exists.
func FindConfigFile() string {
	dir, err := os.Getwd()
	if err == nil {
		for {
			path := filepath.Join(dir, "recurd.toml")
			if _, err := os.Stat(path); err == nil {
				return path
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(homeDir, ".recurd", "recurd.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
