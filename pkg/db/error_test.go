package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "postgres", err: errors.New(`ERROR: duplicate key value violates unique constraint "ux_subscriptions_active_user"`), want: true},
		{name: "pg_error", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "pg_other_code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payment_records.merchant_reference"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestViolatedConstraint(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "pg_error", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "payment_records_merchant_reference_key"}), want: "payment_records_merchant_reference_key"},
		{name: "postgres_text", err: errors.New(`ERROR: duplicate key value violates unique constraint "ux_subscriptions_active_user"`), want: "ux_subscriptions_active_user"},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payment_records.merchant_reference"), want: "payment_records.merchant_reference"},
		{name: "gorm", err: gorm.ErrDuplicatedKey, want: ""},
		{name: "not_duplicate", err: errors.New("connection refused"), want: ""},
	}
	for _, tc := range cases {
		if got := ViolatedConstraint(tc.err); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	if _, err := Dialect(Config{Type: "oracle"}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := Dialect(Config{Type: "sqlite", Name: "test"}); err != nil {
		t.Fatalf("sqlite dialect: %v", err)
	}
}
