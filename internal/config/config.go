package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"covbench/internal/errors"
)

// Results sink names accepted by RESULTS_SINK.
const (
	SinkJSON     = "json"
	SinkPostgres = "postgres"
	SinkXLSX     = "xlsx"
)

// Config represents the complete application configuration
type Config struct {
	Log      LogConfig
	Results  ResultsConfig
	Database DatabaseConfig
	Run      RunConfig
	Server   ServerConfig
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// ResultsConfig selects where run records are written
type ResultsConfig struct {
	Dir  string
	Sink string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RunConfig holds evaluation protocol settings
type RunConfig struct {
	EvalIter     int
	Seed         int64
	TrialTimeout time.Duration // 0 disables the per-trial timeout
}

// ServerConfig holds API server settings
type ServerConfig struct {
	Port        string
	GinMode     string
	MetricsAddr string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Log:      LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "INFO")},
		Results:  *loadResultsConfig(),
		Database: *loadDatabaseConfig(),
		Server:   *loadServerConfig(),
	}

	runConfig, err := loadRunConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load run configuration")
	}
	config.Run = *runConfig

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadResultsConfig() *ResultsConfig {
	return &ResultsConfig{
		Dir:  getEnvOrDefault("RESULTS_DIR", "results"),
		Sink: strings.ToLower(getEnvOrDefault("RESULTS_SINK", SinkJSON)),
	}
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		MaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns: getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
	}
}

func loadRunConfig() (*RunConfig, error) {
	timeout, err := getEnvDurationOrDefault("TRIAL_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	return &RunConfig{
		EvalIter:     getEnvIntOrDefault("EVAL_ITER", 5),
		Seed:         int64(getEnvIntOrDefault("SEED", 42)),
		TrialTimeout: timeout,
	}, nil
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:        getEnvOrDefault("API_PORT", "8080"),
		GinMode:     getEnvOrDefault("GIN_MODE", "release"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Results.Sink {
	case SinkJSON, SinkXLSX:
		if c.Results.Dir == "" {
			return errors.ConfigInvalid("RESULTS_DIR is required for file sinks")
		}
	case SinkPostgres:
		if c.Database.URL == "" {
			return errors.ConfigInvalid("DATABASE_URL is required when RESULTS_SINK=postgres")
		}
	default:
		return errors.ConfigInvalid("RESULTS_SINK must be json, postgres or xlsx, got " + strconv.Quote(c.Results.Sink))
	}
	if c.Run.EvalIter < 1 {
		return errors.ConfigInvalid("EVAL_ITER must be at least 1")
	}
	if c.Run.TrialTimeout < 0 {
		return errors.ConfigInvalid("TRIAL_TIMEOUT cannot be negative")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault rejects malformed durations instead of defaulting.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if value == "0" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.ConfigInvalid(key + " is not a valid duration: " + value)
	}
	return duration, nil
}
