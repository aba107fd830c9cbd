package ratelimit

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/admitpay/internal/clock"
	"go.uber.org/zap"
)

var ErrInvalidKey = errors.New("invalid_rate_limit_key")

// AttemptGate counts attempts per (ip, identity) and blocks repeat offenders
// for a cool-down period.
type AttemptGate struct {
	store  AttemptStore
	policy Policy
	clock  clock.Clock
	log    *zap.Logger
}

func NewAttemptGate(store AttemptStore, policy Policy, clk clock.Clock, log *zap.Logger) *AttemptGate {
	return &AttemptGate{
		store:  store,
		policy: policy.normalized(),
		clock:  clk,
		log:    log.Named("ratelimit.gate"),
	}
}

// Check counts one attempt for the key and reports whether it is blocked.
func (g *AttemptGate) Check(ctx context.Context, ip, identity string) (Decision, error) {
	key, err := newAttemptKey(ip, identity)
	if err != nil {
		return Decision{}, err
	}

	now := g.clock.Now().UTC()
	var decision Decision
	err = g.store.Apply(ctx, key, func(current *Counter) (Counter, bool) {
		next, changed, d := Evaluate(now, current, g.policy)
		decision = d
		return next, changed
	})
	if err != nil {
		return Decision{}, err
	}

	if decision.Blocked {
		g.log.Warn("attempt blocked",
			zap.String("ip_address", key.IPAddress),
			zap.Int("attempts", decision.Attempts),
			zap.Timep("blocked_until", decision.BlockedUntil),
		)
	}
	return decision, nil
}

// Peek reports an active block for the key without counting an attempt.
func (g *AttemptGate) Peek(ctx context.Context, ip, identity string) (Decision, error) {
	key, err := newAttemptKey(ip, identity)
	if err != nil {
		return Decision{}, err
	}

	now := g.clock.Now().UTC()
	var decision Decision
	err = g.store.Apply(ctx, key, func(current *Counter) (Counter, bool) {
		decision = Inspect(now, current, g.policy)
		return Counter{}, false
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func newAttemptKey(ip, identity string) (AttemptKey, error) {
	key := AttemptKey{
		IPAddress: strings.TrimSpace(ip),
		Identity:  strings.ToLower(strings.TrimSpace(identity)),
	}
	if key.IPAddress == "" {
		return AttemptKey{}, ErrInvalidKey
	}
	if key.Identity == "" {
		key.Identity = "anonymous"
	}
	return key, nil
}
