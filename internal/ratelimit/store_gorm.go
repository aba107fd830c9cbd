package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/admitpay/internal/clock"
	"gorm.io/gorm"
)

// AttemptKey identifies one counter.
type AttemptKey struct {
	IPAddress string
	Identity  string
}

// AttemptStore loads a counter, lets fn derive the next state and persists it
// atomically with respect to other callers on the same key.
type AttemptStore interface {
	Apply(ctx context.Context, key AttemptKey, fn func(current *Counter) (Counter, bool)) error
}

type gormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormStore(db *gorm.DB, clk clock.Clock) AttemptStore {
	if clk == nil {
		clk = clock.System()
	}
	return &gormStore{db: db, clock: clk}
}

type attemptRow struct {
	AttemptCount   int        `gorm:"column:attempt_count"`
	FirstAttemptAt time.Time  `gorm:"column:first_attempt_at"`
	BlockedUntil   *time.Time `gorm:"column:blocked_until"`
	Found          int        `gorm:"column:found"`
}

func (s *gormStore) Apply(ctx context.Context, key AttemptKey, fn func(current *Counter) (Counter, bool)) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A zero-count placeholder gives concurrent first attempts a row to lock.
		if err := tx.Exec(
			`INSERT INTO verification_attempts (
				ip_address, identity, attempt_count, first_attempt_at, blocked_until, updated_at
			) VALUES (?, ?, 0, ?, NULL, ?)
			ON CONFLICT (ip_address, identity) DO NOTHING`,
			key.IPAddress,
			key.Identity,
			now,
			now,
		).Error; err != nil {
			return err
		}

		query := `SELECT attempt_count, first_attempt_at, blocked_until, 1 AS found
			FROM verification_attempts
			WHERE ip_address = ? AND identity = ?`
		if tx.Dialector.Name() == "postgres" {
			query += " FOR UPDATE"
		}

		var row attemptRow
		if err := tx.Raw(query, key.IPAddress, key.Identity).Scan(&row).Error; err != nil {
			return err
		}

		var current *Counter
		if row.Found == 1 && row.AttemptCount > 0 {
			current = &Counter{
				Attempts:       row.AttemptCount,
				FirstAttemptAt: row.FirstAttemptAt,
				BlockedUntil:   row.BlockedUntil,
			}
		}

		next, changed := fn(current)
		if !changed {
			return nil
		}

		return tx.Exec(
			`UPDATE verification_attempts
			SET attempt_count = ?, first_attempt_at = ?, blocked_until = ?, updated_at = ?
			WHERE ip_address = ? AND identity = ?`,
			next.Attempts,
			next.FirstAttemptAt,
			next.BlockedUntil,
			now,
			key.IPAddress,
			key.Identity,
		).Error
	})
}
