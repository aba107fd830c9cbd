package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/admitpay/internal/config"
)

const keyWebhookSource = "webhook:ingress:%s:%s"

// WebhookIngressLimiter throttles gateway callbacks per provider and source
// address. A nil limiter allows everything.
type WebhookIngressLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookIngressLimiter(client *redis.Client, cfg config.Config) *WebhookIngressLimiter {
	limitCfg := cfg.RateLimit
	if client == nil || !limitCfg.Enabled || limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil
	}
	return &WebhookIngressLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.WebhookRate,
		burst:  limitCfg.WebhookBurst,
	}
}

func (l *WebhookIngressLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookIngressLimiter) AllowSource(ctx context.Context, provider, ip string) (BucketResult, error) {
	if !l.Enabled() {
		return BucketResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(
		keyWebhookSource,
		strings.ToLower(strings.TrimSpace(provider)),
		strings.TrimSpace(ip),
	)
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
