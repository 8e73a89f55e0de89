package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9222/json/list", cfg.Discovery.URL)
	assert.Equal(t, 5, cfg.Discovery.MaxAttempts)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Cache.DynamicTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Cache.StaticTTL.Std())
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 100, cfg.Health.HistorySize)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
discovery:
  url: http://10.0.0.5:9222/json/list
  max_attempts: 10
  delay: 250ms
cache:
  max_size: 50
  dynamic_ttl: 2s
health:
  interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:9222/json/list", cfg.Discovery.URL)
	assert.Equal(t, 10, cfg.Discovery.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Discovery.Delay.Std())
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 2*time.Second, cfg.Cache.DynamicTTL.Std())
	assert.Equal(t, 5*time.Second, cfg.Health.Interval.Std())

	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Cache.StaticTTL.Std())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeConfigFile(t, "cache: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestInvalidDurationFails(t *testing.T) {
	path := writeConfigFile(t, "session:\n  connect_timeout: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PILOT_DISCOVERY_URL", "http://override:9222/json/list")
	t.Setenv("PILOT_CACHE_MAX_SIZE", "7")
	t.Setenv("PILOT_CACHE_DYNAMIC_TTL", "750ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://override:9222/json/list", cfg.Discovery.URL)
	assert.Equal(t, 7, cfg.Cache.MaxSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Cache.DynamicTTL.Std())
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := writeConfigFile(t, "cache:\n  max_size: 50\n")
	t.Setenv("PILOT_CACHE_MAX_SIZE", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Cache.MaxSize)
}

func TestInvalidEnvValueFails(t *testing.T) {
	t.Setenv("PILOT_CACHE_MAX_SIZE", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PILOT_BREAKER_FAILURE_THRESHOLD=9\n"), 0600))

	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { os.Unsetenv("PILOT_BREAKER_FAILURE_THRESHOLD") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Breaker.FailureThreshold)
}

func TestLoadEnvFileMissingIsNotAnError(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
}
