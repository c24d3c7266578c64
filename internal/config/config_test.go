package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/config"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()

	assert.Equal(t, 5, cfg.Batch.Size)
	assert.Equal(t, time.Second, cfg.Batch.CycleInterval)
	assert.Equal(t, 2, cfg.Batch.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Status.PollInterval)
	assert.Equal(t, 50, cfg.Push.ReconnectCap)
	assert.NotEmpty(t, cfg.Endpoints.BatchAPI)
	assert.NotEmpty(t, cfg.Endpoints.Sockets["btc"])
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := config.Defaults()
	cfg.Batch.Size = 7
	cfg.Endpoints.BatchAPI = "https://example.com/batch"
	require.NoError(t, config.Save(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Batch.Size)
	assert.Equal(t, "https://example.com/batch", loaded.Endpoints.BatchAPI)

	// Fields absent from the file keep defaults.
	assert.Equal(t, 2, loaded.Batch.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrConfigNotFound)
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv(config.EnvBatchAPI, "https://override.example.com")
	t.Setenv(config.EnvBatchSize, "9")
	t.Setenv(config.EnvCycleInterval, "250ms")
	t.Setenv(config.EnvStoreInMemory, "yes")
	t.Setenv(config.EnvLogLevel, "DEBUG")

	cfg := config.Defaults()
	config.ApplyEnvironment(cfg)

	assert.Equal(t, "https://override.example.com", cfg.Endpoints.BatchAPI)
	assert.Equal(t, 9, cfg.Batch.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.CycleInterval)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvironment_IgnoresInvalid(t *testing.T) {
	t.Setenv(config.EnvBatchSize, "-3")
	t.Setenv(config.EnvCycleInterval, "not-a-duration")

	cfg := config.Defaults()
	config.ApplyEnvironment(cfg)

	assert.Equal(t, 5, cfg.Batch.Size)
	assert.Equal(t, time.Second, cfg.Batch.CycleInterval)
}

func TestSocketURL(t *testing.T) {
	cfg := config.Defaults()
	assert.NotEmpty(t, cfg.SocketURL("btc"))
	assert.Empty(t, cfg.SocketURL("xyz"))
}
