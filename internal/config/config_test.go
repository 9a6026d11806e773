package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 30.0, cfg.Policy.EffortLimit, 0.001)
	assert.InDelta(t, 0.1, cfg.Policy.MissingThreshold, 0.001)
	assert.Equal(t, 3, cfg.Fallback.MinMonthSamples)
	assert.Equal(t, "symmetric", cfg.Model.Backend)
	assert.InDelta(t, 0.2, cfg.Model.TestFraction, 0.001)
	assert.False(t, cfg.Model.TuneHyperparameters)
	assert.Equal(t, "random", cfg.Model.Split)
	assert.Equal(t, int64(42), cfg.Model.Seed)
	assert.Equal(t, 5, cfg.Model.CVFolds)
	assert.True(t, cfg.Model.RemoveOutliers)
	assert.Equal(t, 200, cfg.Model.Iterations)
	assert.Equal(t, 6, cfg.Model.Depth)
	assert.InDelta(t, 0.1, cfg.Model.LearningRate, 0.001)
	assert.Equal(t, 20, cfg.Model.EarlyStoppingRounds)
	assert.Equal(t, 4, cfg.Process.Workers)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "effort.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
policy:
  effort_limit: 40
model:
  backend: lossguide
  tune_hyperparameters: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 40.0, cfg.Policy.EffortLimit, 0.001)
	assert.Equal(t, "lossguide", cfg.Model.Backend)
	assert.True(t, cfg.Model.TuneHyperparameters)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.1, cfg.Policy.MissingThreshold, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
policy:
  effort_limit: 40
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EFFORT_STORE_DRIVER", "postgres")
	t.Setenv("EFFORT_POLICY_EFFORT_LIMIT", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.InDelta(t, 25.0, cfg.Policy.EffortLimit, 0.001)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)

	t.Setenv("EFFORT_MODEL_BACKEND", "catboost")
	t.Setenv("EFFORT_POLICY_EFFORT_LIMIT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.backend")
	assert.Contains(t, err.Error(), "policy.effort_limit")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Model.TestFraction = 1
	cfg.Model.Split = "weekly"
	cfg.Store.Driver = "mysql"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.test_fraction")
	assert.Contains(t, err.Error(), "model.split")
	assert.Contains(t, err.Error(), "store.driver")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
