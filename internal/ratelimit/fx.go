package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewWebhookIngressLimiter),
	fx.Provide(provideAttemptGate),
)

type gateParams struct {
	fx.In

	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
	Cfg   config.Config
	Clock clock.Clock
	Log   *zap.Logger
}

func provideAttemptGate(p gateParams) *AttemptGate {
	if !p.Cfg.RateLimit.Enabled {
		return nil
	}
	policy := Policy{
		Window:        p.Cfg.RateLimit.Window,
		MaxAttempts:   p.Cfg.RateLimit.MaxAttempts,
		BlockDuration: p.Cfg.RateLimit.BlockDuration,
	}.normalized()

	var store AttemptStore
	if p.Redis != nil {
		store = NewRedisStore(p.Redis, policy.Window+policy.BlockDuration)
	} else {
		store = NewGormStore(p.DB, p.Clock)
	}
	return NewAttemptGate(store, policy, p.Clock, p.Log)
}
