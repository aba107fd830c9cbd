package config

import (
	"testing"
	"time"
)

func TestNormalizeIPCheckNeverDisablesProduction(t *testing.T) {
	cases := []struct {
		env  string
		raw  string
		want string
	}{
		{env: "production", raw: "", want: IPCheckEnforce},
		{env: "production", raw: "off", want: IPCheckEnforce},
		{env: "production", raw: "report", want: IPCheckEnforce},
		{env: "development", raw: "", want: IPCheckReport},
		{env: "development", raw: "off", want: IPCheckOff},
		{env: "staging", raw: "ENFORCE", want: IPCheckEnforce},
	}
	for _, tc := range cases {
		if got := normalizeIPCheck(tc.env, tc.raw); got != tc.want {
			t.Fatalf("normalizeIPCheck(%q, %q) = %q, want %q", tc.env, tc.raw, got, tc.want)
		}
	}
}

func TestLoadReadsGatewayEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PAYFAST_MERCHANT_ID", "10000100")
	t.Setenv("PAYFAST_MERCHANT_KEY", "46f0cd694581a")
	t.Setenv("PAYFAST_ALLOWED_CIDRS", "10.0.0.0/8, 192.168.1.0/24")
	t.Setenv("PAYFAST_VALIDATE_TIMEOUT", "3s")
	t.Setenv("SITE_URL", "https://apply.example.com/")

	cfg := Load()
	if cfg.Gateway.MerchantID != "10000100" {
		t.Fatalf("expected merchant id, got %q", cfg.Gateway.MerchantID)
	}
	if cfg.Gateway.Sandbox {
		t.Fatalf("expected sandbox off in production")
	}
	if cfg.Gateway.IPCheck != IPCheckEnforce {
		t.Fatalf("expected enforce, got %q", cfg.Gateway.IPCheck)
	}
	if len(cfg.Gateway.AllowedCIDRs) != 2 || cfg.Gateway.AllowedCIDRs[1] != "192.168.1.0/24" {
		t.Fatalf("unexpected cidrs: %v", cfg.Gateway.AllowedCIDRs)
	}
	if cfg.Gateway.ValidateTimeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", cfg.Gateway.ValidateTimeout)
	}
	if cfg.SiteURL != "https://apply.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.SiteURL)
	}
}

func TestPricingConfigPrice(t *testing.T) {
	cfg := DefaultPricingConfig()

	amount, tier, ok := cfg.Price("Premium")
	if !ok {
		t.Fatalf("expected premium price")
	}
	if amount.StringFixed(2) != "199.00" {
		t.Fatalf("expected 199.00, got %s", amount.StringFixed(2))
	}
	if tier.Name != "Premium Plan" {
		t.Fatalf("unexpected tier name %q", tier.Name)
	}
	if _, _, ok := cfg.Price("gold"); ok {
		t.Fatalf("expected unknown tier to miss")
	}
}

func TestValidatePricingConfigRejectsNonPositive(t *testing.T) {
	cfg := PricingConfig{
		Currency: "ZAR",
		Tiers:    []TierPrice{{Code: "basic", Amount: "0"}},
	}
	if err := validatePricingConfig(cfg); err == nil {
		t.Fatalf("expected zero price to be rejected")
	}
	if err := validatePricingConfig(DefaultPricingConfig()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
