// Package config provides configuration management for tidesync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kwestra/tidesync/internal/fileutil"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Home      string          `yaml:"home"`
	Batch     BatchConfig     `yaml:"batch"`
	Status    StatusConfig    `yaml:"status"`
	Push      PushConfig      `yaml:"push"`
	Store     StoreConfig     `yaml:"store"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BatchConfig controls the scheduler loop and batch executor.
type BatchConfig struct {
	Size            int           `yaml:"size"`              // items per ordinary batch
	CycleInterval   time.Duration `yaml:"cycle_interval"`    // sleep between cycles
	MaxRetries      int           `yaml:"max_retries"`       // per-item retry cap
	ClientRPS       float64       `yaml:"client_rps"`        // rate-limited class budget
	ClientBurst     int           `yaml:"client_burst"`      // rate-limited class burst
	SubmitPacingRPS int           `yaml:"submit_pacing_rps"` // batch submission pacing
}

// StatusConfig controls the pending-transaction backoff tracker.
type StatusConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`   // tracker cycle
	BaseBackoff    time.Duration `yaml:"base_backoff"`    // initial backoffTime
	ResyncInterval time.Duration `yaml:"resync_interval"` // drop bound for backoffTime
}

// PushConfig controls websocket subscription managers.
type PushConfig struct {
	ReconnectCap int           `yaml:"reconnect_cap"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
	WriteWait    time.Duration `yaml:"write_wait"`
}

// StoreConfig controls the local record store.
type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// EndpointsConfig holds per-chain remote endpoints.
type EndpointsConfig struct {
	BatchAPI string            `yaml:"batch_api"`
	Sockets  map[string]string `yaml:"sockets"` // chain id -> websocket URL
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", syncerr.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fileutil.WriteAtomic(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// SocketURL returns the websocket endpoint for a chain, or empty string.
func (c *Config) SocketURL(chainID string) string {
	return c.Endpoints.Sockets[chainID]
}
