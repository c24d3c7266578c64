package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvHome           = "TIDESYNC_HOME"
	EnvBatchAPI       = "TIDESYNC_BATCH_API"
	EnvBatchSize      = "TIDESYNC_BATCH_SIZE"
	EnvCycleInterval  = "TIDESYNC_CYCLE_INTERVAL"
	EnvMaxRetries     = "TIDESYNC_MAX_RETRIES"
	EnvStorePath      = "TIDESYNC_STORE_PATH"
	EnvStoreInMemory  = "TIDESYNC_STORE_IN_MEMORY"
	EnvLogLevel       = "TIDESYNC_LOG_LEVEL"
	EnvReconnectCap   = "TIDESYNC_RECONNECT_CAP"
	EnvStatusInterval = "TIDESYNC_STATUS_INTERVAL"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvBatchAPI); v != "" {
		cfg.Endpoints.BatchAPI = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Batch.Size = n
		}
	}

	if v := os.Getenv(EnvCycleInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Batch.CycleInterval = d
		}
	}

	if v := os.Getenv(EnvMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Batch.MaxRetries = n
		}
	}

	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv(EnvStoreInMemory); v != "" {
		cfg.Store.InMemory = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvReconnectCap); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Push.ReconnectCap = n
		}
	}

	if v := os.Getenv(EnvStatusInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Status.PollInterval = d
		}
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
