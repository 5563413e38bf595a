package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Queue.Brokers)
	assert.Equal(t, "kyb.verification.jobs", cfg.Queue.JobsTopic)
	assert.Equal(t, "kyb.verification.jobs.dlq", cfg.Queue.DLQTopic)
	assert.Equal(t, "kyb-worker", cfg.Queue.Group)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 30, cfg.Checks.DefaultTimeoutSecs)
	assert.Equal(t, 60, cfg.Checks.PerCheck["llm_processing"])
	assert.InDelta(t, 1, cfg.RateLimits.Rates["whois"], 0.001)
	assert.InDelta(t, 10, cfg.RateLimits.Rates["http"], 0.001)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown())
	assert.Equal(t, 20*time.Minute, cfg.Dispatcher.LockTTL())
	assert.Equal(t, 15*time.Minute, cfg.Dispatcher.JobDeadline())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  database_url: postgres://worker:pw@localhost:5432/kyb
log:
  level: debug
  format: console
server:
  port: 9090
queue:
  jobs_topic: kyb.jobs.staging
  max_retries: 5
checks:
  default_timeout_secs: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://worker:pw@localhost:5432/kyb", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "kyb.jobs.staging", cfg.Queue.JobsTopic)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 20, cfg.Checks.DefaultTimeoutSecs)
	// Defaults still apply for unset values
	assert.Equal(t, "kyb.verification.jobs.dlq", cfg.Queue.DLQTopic)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
queue:
  group: kyb-worker-staging
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("KYB_LOG_LEVEL", "warn")
	t.Setenv("KYB_QUEUE_GROUP", "kyb-worker-prod")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "kyb-worker-prod", cfg.Queue.Group)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("KYB_SERVER_PORT", "3000")
	t.Setenv("KYB_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)
}
