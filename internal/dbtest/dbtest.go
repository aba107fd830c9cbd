// Package dbtest opens an isolated in-memory sqlite database carrying the
// payment pipeline schema.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE payment_records (
		id INTEGER PRIMARY KEY,
		merchant_reference TEXT NOT NULL,
		user_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		gateway_provider TEXT NOT NULL,
		payment_method TEXT,
		provider_transaction_id TEXT,
		payment_expiry DATETIME NOT NULL,
		ipn_verified BOOLEAN NOT NULL DEFAULT 0,
		redirect_url TEXT,
		webhook_payload TEXT,
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_records_reference ON payment_records (merchant_reference)`,
	`CREATE TABLE subscription_tiers (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		duration_days INTEGER NOT NULL DEFAULT 30,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO subscription_tiers (id, code, name, duration_days, is_active)
		VALUES (1, 'basic', 'Basic Plan', 30, 1), (2, 'premium', 'Premium Plan', 30, 1)`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL,
		tier_id INTEGER NOT NULL,
		tier_code TEXT NOT NULL,
		merchant_reference TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		started_at DATETIME NOT NULL,
		expires_at DATETIME,
		deactivated_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_active_user ON subscriptions (user_id) WHERE is_active`,
	`CREATE UNIQUE INDEX ux_subscriptions_reference ON subscriptions (merchant_reference)`,
	`CREATE TABLE transactions (
		id INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL,
		merchant_reference TEXT NOT NULL,
		provider_transaction_id TEXT,
		kind TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		amount_fee NUMERIC,
		amount_net NUMERIC,
		currency TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_transactions_reference ON transactions (merchant_reference)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE verification_attempts (
		ip_address TEXT NOT NULL,
		identity TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		first_attempt_at DATETIME NOT NULL,
		blocked_until DATETIME,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (ip_address, identity)
	)`,
}

// Open returns a fresh database. Each call gets its own named memory store.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:admitpay_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// SeedUser inserts an applicant row.
func SeedUser(t testing.TB, db *gorm.DB, id, email string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO users (id, email, first_name, last_name) VALUES (?, ?, ?, ?)`,
		id, email, "Thandi", "Mokoena",
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// Count runs a COUNT(*) query and returns the result.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	return count
}
