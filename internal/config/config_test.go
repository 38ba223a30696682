package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "hansard.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Paths.DataDir)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.FilterModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.ScoreModel)
	assert.Equal(t, int64(1024), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.3, cfg.Anthropic.Temperature, 0.001)
	assert.Equal(t, 10000, cfg.Anthropic.MaxBatchSize)
	assert.InDelta(t, 0.1, cfg.Pipeline.ReasoningRate, 0.001)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetryAttempts)
	assert.Equal(t, 30, cfg.Pipeline.PollIntervalSecs)
	assert.InDelta(t, 2.0, cfg.Pipeline.StatusPollRPS, 0.001)
	assert.Equal(t, 300, cfg.Monitor.CheckIntervalSecs)
	assert.InDelta(t, 0.2, cfg.Monitor.FailureRateThreshold, 0.001)
	assert.Equal(t, 25, cfg.Monitor.DeadLetterThreshold)
	assert.NotEmpty(t, cfg.Pricing.Anthropic)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/hansard
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  reasoning_rate: 0.25
  poll_interval_secs: 5
paths:
  data_dir: /var/lib/hansard
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/hansard", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.25, cfg.Pipeline.ReasoningRate, 0.001)
	assert.Equal(t, 5, cfg.Pipeline.PollIntervalSecs)
	assert.Equal(t, "/var/lib/hansard", cfg.Paths.DataDir)

	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Pipeline.MaxRetryAttempts)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("HANSARD_STORE_PATH", "/tmp/knesset.db")
	t.Setenv("HANSARD_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/knesset.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestPathsLayout(t *testing.T) {
	p := PathsConfig{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "cache"), p.CacheDir())
	assert.Equal(t, filepath.Join("/data", "logs"), p.LogsDir())
	assert.Equal(t, filepath.Join("/data", "intermediate"), p.IntermediateDir())
	assert.Equal(t, filepath.Join("/data", "client"), p.ClientDir())
	assert.Equal(t, filepath.Join("/data", "input"), p.InputDir())
	assert.Equal(t, filepath.Join("/data", "prompts"), p.PromptsDir())
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	assert.Error(t, err)
}
