package payment

import (
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/payment/adapters"
	"github.com/smallbiznis/admitpay/internal/payment/adapters/payfast"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"github.com/smallbiznis/admitpay/internal/payment/reconcile"
	"github.com/smallbiznis/admitpay/internal/payment/repository"
	"github.com/smallbiznis/admitpay/internal/payment/session"
	"github.com/smallbiznis/admitpay/internal/payment/webhook"
	"github.com/smallbiznis/admitpay/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			payfast.NewFactory(),
		)
	}),
	fx.Provide(NewGateways),
	fx.Provide(provideLocker),
	fx.Provide(reconcile.NewService),
	fx.Provide(session.NewService),
	fx.Provide(webhook.NewService),
)

// NewGateways configures the merchant's active provider.
func NewGateways(registry *adapters.Registry, cfg config.Config) (adapters.Gateways, error) {
	gw, err := registry.NewAdapter(cfg.Gateway.Provider, paymentdomain.AdapterConfig{
		MerchantID:      cfg.Gateway.MerchantID,
		MerchantKey:     cfg.Gateway.MerchantKey,
		Passphrase:      cfg.Gateway.Passphrase,
		Sandbox:         cfg.Gateway.Sandbox,
		AllowedCIDRs:    cfg.Gateway.AllowedCIDRs,
		ValidateTimeout: cfg.Gateway.ValidateTimeout,
		BaseURL:         cfg.Gateway.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return adapters.Gateways{gw.Provider(): gw}, nil
}

func provideLocker(locker *ratelimit.Locker) paymentdomain.Locker {
	if locker == nil {
		return nil
	}
	return locker
}
