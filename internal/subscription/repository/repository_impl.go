package repository

import (
	"context"
	"strings"
	"time"

	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveTierByCode(ctx context.Context, db *gorm.DB, code string) (*subscriptiondomain.Tier, error) {
	var tier subscriptiondomain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, duration_days, is_active, created_at
		FROM subscription_tiers
		WHERE code = ? AND is_active = ?`,
		strings.ToLower(strings.TrimSpace(code)),
		true,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == 0 {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) FindActiveByUser(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, tier_id, tier_code, merchant_reference, is_active,
			started_at, expires_at, deactivated_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = ? AND is_active = ?`,
		userID,
		true,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) DeactivateActive(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		SET is_active = ?, deactivated_at = ?, updated_at = ?
		WHERE user_id = ? AND is_active = ?`,
		false,
		at,
		at,
		userID,
		true,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, tier_id, tier_code, merchant_reference, is_active,
			started_at, expires_at, deactivated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.TierID,
		subscription.TierCode,
		subscription.MerchantReference,
		subscription.IsActive,
		subscription.StartedAt,
		subscription.ExpiresAt,
		subscription.DeactivatedAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}
