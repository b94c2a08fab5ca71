// Package config loads Coordinator-level configuration (worker identity,
// storage URI, default lock/backoff policy) from file, environment, and
// defaults, using github.com/spf13/viper the way the ambient
// configuration layer of the pack's larger services does — a single
// bound struct rather than hand-rolled flag parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/cronxhq/cronx"
)

// Config is everything a Coordinator needs to start.
type Config struct {
	// WorkerID identifies this process in lock ownership. Empty means
	// the Coordinator generates a random one.
	WorkerID string `mapstructure:"worker_id"`

	// StorageURI selects the backend, e.g. "memory://",
	// "sqlite:///var/lib/cronx/cronx.db", "postgres://...", "redis://...".
	StorageURI string `mapstructure:"storage_uri"`

	// Timezone is the zone the Scheduler computes fires in.
	Timezone string `mapstructure:"timezone"`

	// LockTTL and LockExtendInterval override the Lock Manager's
	// defaults (spec.md §4.3: 60s / 30s).
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockExtendInterval time.Duration `mapstructure:"lock_extend_interval"`

	// DefaultBackoff, DefaultRetries and friends seed JobOptions for
	// jobs registered without an explicit override.
	DefaultBackoff           cronx.Backoff `mapstructure:"default_backoff"`
	DefaultRetries           int           `mapstructure:"default_retries"`
	DefaultFixedDelay        time.Duration `mapstructure:"default_fixed_delay"`
	DefaultExponentialBase   time.Duration `mapstructure:"default_exponential_base"`
	DefaultExponentialFactor float64       `mapstructure:"default_exponential_factor"`
	DefaultExponentialMax    time.Duration `mapstructure:"default_exponential_max"`
}

// Load reads configuration from (in ascending priority) built-in
// defaults, a config file at path (if non-empty and present), and
// CRONX_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("cronx")
	v.AutomaticEnv()

	v.SetDefault("worker_id", "")
	v.SetDefault("storage_uri", "memory://")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("lock_ttl", cronx.DefaultLockTTL)
	v.SetDefault("lock_extend_interval", cronx.DefaultExtendInterval)
	v.SetDefault("default_backoff", string(cronx.BackoffFixed))
	v.SetDefault("default_retries", 0)
	v.SetDefault("default_fixed_delay", cronx.DefaultFixedDelay)
	v.SetDefault("default_exponential_base", cronx.DefaultExponentialBase)
	v.SetDefault("default_exponential_factor", cronx.DefaultExponentialFactor)
	v.SetDefault("default_exponential_max", cronx.DefaultExponentialMax)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// SetConfigFile bypasses viper's own search-path lookup, so a
			// missing explicit path surfaces as a plain fs.ErrNotExist
			// rather than viper.ConfigFileNotFoundError (that type is
			// only returned by the SetConfigName/AddConfigPath search).
			// Either spelling of "not present" is fine to skip.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("cronx: reading config %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cronx: parsing config: %w", err)
	}
	return &cfg, nil
}

// JobOptions builds a cronx.JobOptions seeded from this Config's
// defaults, for callers that want the configured policy without
// spelling it out per job.
func (c *Config) JobOptions() cronx.JobOptions {
	return cronx.JobOptions{
		Retries:           c.DefaultRetries,
		Backoff:           c.DefaultBackoff,
		FixedDelay:        c.DefaultFixedDelay,
		ExponentialBase:   c.DefaultExponentialBase,
		ExponentialFactor: c.DefaultExponentialFactor,
		ExponentialMax:    c.DefaultExponentialMax,
	}
}
