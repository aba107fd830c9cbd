package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/dbtest"
	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	"github.com/smallbiznis/admitpay/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, db *gorm.DB, now time.Time) subscriptiondomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
		Repo:  repository.Provide(),
	})
}

func TestActivate_ReplacesActiveSubscription(t *testing.T) {
	db := dbtest.Open(t)
	dbtest.SeedUser(t, db, "user-1", "user1@example.com")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, db, now)

	first, err := svc.Activate(context.Background(), db, subscriptiondomain.ActivateRequest{
		UserID:            "user-1",
		TierCode:          "basic",
		MerchantReference: "PAY-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Deactivated)
	require.NotNil(t, first.Subscription.ExpiresAt)
	assert.Equal(t, now.Add(30*24*time.Hour), first.Subscription.ExpiresAt.UTC())

	err = db.Transaction(func(tx *gorm.DB) error {
		second, err := svc.Activate(context.Background(), tx, subscriptiondomain.ActivateRequest{
			UserID:            "user-1",
			TierCode:          "premium",
			MerchantReference: "PAY-2",
		})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), second.Deactivated)
		assert.Equal(t, "premium", second.Tier.Code)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), dbtest.Count(t, db, `SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND is_active = ?`, "user-1", true))
	assert.Equal(t, int64(2), dbtest.Count(t, db, `SELECT COUNT(*) FROM subscriptions WHERE user_id = ?`, "user-1"))

	active, err := svc.ActiveForUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "premium", active.TierCode)
	assert.Equal(t, "PAY-2", active.MerchantReference)
}

func TestActivate_UnknownTier(t *testing.T) {
	db := dbtest.Open(t)
	svc := newTestService(t, db, time.Now().UTC())

	_, err := svc.Activate(context.Background(), db, subscriptiondomain.ActivateRequest{
		UserID:            "user-1",
		TierCode:          "platinum",
		MerchantReference: "PAY-3",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrTierNotFound)

	_, err = svc.ActiveForUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)
}

func TestActivate_InactiveTierRejected(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, db.Exec(`UPDATE subscription_tiers SET is_active = ? WHERE code = ?`, false, "basic").Error)
	svc := newTestService(t, db, time.Now().UTC())

	_, err := svc.Activate(context.Background(), db, subscriptiondomain.ActivateRequest{
		UserID:            "user-1",
		TierCode:          "basic",
		MerchantReference: "PAY-4",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrTierNotFound)
}
