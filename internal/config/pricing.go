package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// TierPrice is one row of the subscription price table.
type TierPrice struct {
	Code        string `mapstructure:"code"`
	Name        string `mapstructure:"name"`
	Amount      string `mapstructure:"amount"`
	Description string `mapstructure:"description"`
}

// PricingConfig is the price table used when building payment sessions.
type PricingConfig struct {
	Currency string      `mapstructure:"currency"`
	Tiers    []TierPrice `mapstructure:"tiers"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency: "ZAR",
		Tiers: []TierPrice{
			{Code: "basic", Name: "Basic Plan", Amount: "99.00", Description: "Basic application access"},
			{Code: "premium", Name: "Premium Plan", Amount: "199.00", Description: "Premium application access"},
		},
	}
}

// Price returns the configured amount and display name for a tier code.
func (c PricingConfig) Price(code string) (decimal.Decimal, TierPrice, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, tier := range c.Tiers {
		if strings.ToLower(strings.TrimSpace(tier.Code)) != code {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(tier.Amount))
		if err != nil {
			return decimal.Zero, TierPrice{}, false
		}
		return amount, tier, true
	}
	return decimal.Zero, TierPrice{}, false
}

type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder wraps a fixed price table.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/admitpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ADMITPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.currency", defaults.Currency)
		v.SetDefault("pricing.tiers", defaults.Tiers)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("pricing.currency cannot be empty")
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("pricing.tiers cannot be empty")
	}
	for _, tier := range cfg.Tiers {
		if strings.TrimSpace(tier.Code) == "" {
			return errors.New("pricing.tiers code cannot be empty")
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(tier.Amount))
		if err != nil {
			return fmt.Errorf("pricing.tiers %s amount: %w", tier.Code, err)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("pricing.tiers %s amount must be positive", tier.Code)
		}
	}
	return nil
}
