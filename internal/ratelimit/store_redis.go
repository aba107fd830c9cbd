package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyAttempts       = "ratelimit:attempts:%s:%s"
	redisApplyRetries = 3
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps counters in a hash per key, expiring after ttl of
// inactivity.
func NewRedisStore(client *redis.Client, ttl time.Duration) AttemptStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Apply(ctx context.Context, key AttemptKey, fn func(current *Counter) (Counter, bool)) error {
	redisKey := fmt.Sprintf(keyAttempts, key.IPAddress, key.Identity)

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		current, err := decodeCounter(values)
		if err != nil {
			return err
		}

		next, changed := fn(current)
		if !changed {
			return nil
		}

		fields := map[string]any{
			"count": next.Attempts,
			"first": next.FirstAttemptAt.UnixMilli(),
			"until": int64(0),
		}
		if next.BlockedUntil != nil {
			fields["until"] = next.BlockedUntil.UnixMilli()
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, fields)
			pipe.PExpire(ctx, redisKey, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < redisApplyRetries; i++ {
		err = s.client.Watch(ctx, txf, redisKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func decodeCounter(values map[string]string) (*Counter, error) {
	if len(values) == 0 {
		return nil, nil
	}
	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return nil, fmt.Errorf("decode attempt count: %w", err)
	}
	first, err := strconv.ParseInt(values["first"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode first attempt: %w", err)
	}
	c := &Counter{
		Attempts:       count,
		FirstAttemptAt: time.UnixMilli(first).UTC(),
	}
	if until, err := strconv.ParseInt(values["until"], 10, 64); err == nil && until > 0 {
		t := time.UnixMilli(until).UTC()
		c.BlockedUntil = &t
	}
	return c, nil
}
