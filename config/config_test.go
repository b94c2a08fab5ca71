package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory://", cfg.StorageURI)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, cronx.DefaultLockTTL, cfg.LockTTL)
	assert.Equal(t, cronx.DefaultExtendInterval, cfg.LockExtendInterval)
	assert.Equal(t, cronx.BackoffFixed, cfg.DefaultBackoff)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CRONX_STORAGE_URI", "sqlite:///tmp/cronx-test.db")
	t.Setenv("CRONX_DEFAULT_RETRIES", "3")
	t.Setenv("CRONX_DEFAULT_BACKOFF", "exponential")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///tmp/cronx-test.db", cfg.StorageURI)
	assert.Equal(t, 3, cfg.DefaultRetries)
	assert.Equal(t, cronx.BackoffExponential, cfg.DefaultBackoff)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := config.Load("/nonexistent/path/cronx.yaml")
	require.NoError(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cronx-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("storage_uri: \"redis://localhost:6379/0\"\ntimezone: \"America/New_York\"\ndefault_retries: 5\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := config.Load(f.Name())
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.StorageURI)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 5, cfg.DefaultRetries)
}

func TestConfig_JobOptionsSeedsFromDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DefaultRetries = 2
	cfg.DefaultBackoff = cronx.BackoffExponential

	opts := cfg.JobOptions()
	assert.Equal(t, 2, opts.Retries)
	assert.Equal(t, cronx.BackoffExponential, opts.Backoff)
	assert.Equal(t, time.Duration(0), opts.Timeout, "JobOptions never seeds a default timeout")
}
