package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "@every 1m", cfg.Scheduler.Expression)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Engine.ActionTimeout)
	assert.Equal(t, "advance", cfg.Engine.ExhaustionPolicy)
	assert.Equal(t, "fixed", cfg.Engine.Backoff)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.BackoffMax)
	assert.Equal(t, "dunning.", cfg.AMQP.RoutingPrefix)
	assert.Equal(t, 5, cfg.AMQP.BreakerThreshold)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeFile(t, "dunning.yaml", `
database:
  dsn: postgres://file
scheduler:
  expression: "*/5 * * * *"
  concurrency: 8
engine:
  action_timeout: 10s
  exhaustion_policy: hold
log:
  format: console
`)
	t.Setenv("DUNNING_DATABASE_DSN", "postgres://env")
	t.Setenv("DUNNING_ENGINE_BACKOFF", "exponential")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Expression)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Engine.ActionTimeout)
	assert.Equal(t, "hold", cfg.Engine.ExhaustionPolicy)
	assert.Equal(t, "exponential", cfg.Engine.Backoff)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", "scheduler:\n  batch_size: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, dunning.IsValidation(err))

	t.Setenv("DUNNING_ENGINE_BACKOFF", "random")
	_, err = Load("")
	assert.True(t, dunning.IsValidation(err))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
