package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries billing policy that operators tune without a
// redeploy: invoice numbering, grace windows, sweep cadence, and the
// fallback tax-rate table used when no explicit tax rule is configured.
type BillingConfig struct {
	InvoiceNumberPrefix string  `mapstructure:"invoiceNumberPrefix"`
	PaymentTermDays     int     `mapstructure:"paymentTermDays"`
	GracePeriodDays     int     `mapstructure:"gracePeriodDays"`
	TrialPeriodDays     int     `mapstructure:"trialPeriodDays"`
	SweepIntervalSec    int     `mapstructure:"sweepIntervalSec"`
	DefaultTaxRates     []DefaultTaxRate `mapstructure:"defaultTaxRates"`
}

// DefaultTaxRate is a country-keyed fallback rate applied when no tax
// rule matches.
type DefaultTaxRate struct {
	Country string  `mapstructure:"country"`
	Name    string  `mapstructure:"name"`
	Rate    float64 `mapstructure:"rate"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoiceNumberPrefix: "INV",
		PaymentTermDays:     14,
		GracePeriodDays:     7,
		TrialPeriodDays:     14,
		SweepIntervalSec:    60,
		DefaultTaxRates: []DefaultTaxRate{
			{Country: "DE", Name: "VAT DE", Rate: 0.19},
			{Country: "FR", Name: "VAT FR", Rate: 0.20},
			{Country: "GB", Name: "VAT UK", Rate: 0.20},
			{Country: "US", Name: "Sales Tax", Rate: 0.0},
			{Country: "SG", Name: "GST", Rate: 0.09},
		},
	}
}

// BillingConfigHolder exposes the live billing config. Reads always see
// the most recently validated snapshot; hot reloads swap atomically.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.invoiceNumberPrefix", defaults.InvoiceNumberPrefix)
		v.SetDefault("billing.paymentTermDays", defaults.PaymentTermDays)
		v.SetDefault("billing.gracePeriodDays", defaults.GracePeriodDays)
		v.SetDefault("billing.trialPeriodDays", defaults.TrialPeriodDays)
		v.SetDefault("billing.sweepIntervalSec", defaults.SweepIntervalSec)
		v.SetDefault("billing.defaultTaxRates", defaults.DefaultTaxRates)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	applyBillingDefaults(&cfg)
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		applyBillingDefaults(&updated)
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Get returns the current billing config snapshot.
func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func applyBillingDefaults(cfg *BillingConfig) {
	defaults := DefaultBillingConfig()
	if strings.TrimSpace(cfg.InvoiceNumberPrefix) == "" {
		cfg.InvoiceNumberPrefix = defaults.InvoiceNumberPrefix
	}
	if cfg.PaymentTermDays <= 0 {
		cfg.PaymentTermDays = defaults.PaymentTermDays
	}
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = defaults.GracePeriodDays
	}
	if cfg.TrialPeriodDays <= 0 {
		cfg.TrialPeriodDays = defaults.TrialPeriodDays
	}
	if cfg.SweepIntervalSec <= 0 {
		cfg.SweepIntervalSec = defaults.SweepIntervalSec
	}
	if len(cfg.DefaultTaxRates) == 0 {
		cfg.DefaultTaxRates = defaults.DefaultTaxRates
	}
}

func validateBillingConfig(cfg BillingConfig) error {
	for _, rate := range cfg.DefaultTaxRates {
		if strings.TrimSpace(rate.Country) == "" {
			return errors.New("default tax rate missing country")
		}
		if rate.Rate < 0 || rate.Rate >= 1 {
			return errors.New("default tax rate out of range")
		}
	}
	return nil
}
