package scheduler

import (
	"time"

	"github.com/smallbiznis/billingcore/internal/config"
)

// Config controls scheduler cadence and batch sizes.
type Config struct {
	RunInterval   time.Duration
	BatchSize     int
	JobTimeout    time.Duration
	TopUpCooldown time.Duration

	// TopUpCurrency denominates auto top-up invoices. Wallet balances
	// are currency-agnostic minor units, so the sweep needs one.
	TopUpCurrency string

	// EnabledJobs restricts the run to the named jobs. Empty means all
	// jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		BatchSize:     100,
		JobTimeout:    30 * time.Second,
		TopUpCooldown: time.Hour,
		TopUpCurrency: "USD",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.TopUpCooldown <= 0 {
		c.TopUpCooldown = defaults.TopUpCooldown
	}
	if c.TopUpCurrency == "" {
		c.TopUpCurrency = defaults.TopUpCurrency
	}
	return c
}

// ProvideConfig derives the scheduler cadence from the hot-reloadable
// billing config at startup.
func ProvideConfig(billing *config.BillingConfigHolder) Config {
	cfg := DefaultConfig()
	if sec := billing.Get().SweepIntervalSec; sec > 0 {
		cfg.RunInterval = time.Duration(sec) * time.Second
	}
	return cfg
}
