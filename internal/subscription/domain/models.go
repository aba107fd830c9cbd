package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Tier is a purchasable subscription plan. Prices live in the pricing config.
type Tier struct {
	ID           snowflake.ID `json:"id" gorm:"column:id;primaryKey"`
	Code         string       `json:"code" gorm:"column:code"`
	Name         string       `json:"name" gorm:"column:name"`
	DurationDays int          `json:"duration_days" gorm:"column:duration_days"`
	IsActive     bool         `json:"is_active" gorm:"column:is_active"`
	CreatedAt    time.Time    `json:"created_at" gorm:"column:created_at"`
}

func (Tier) TableName() string { return "subscription_tiers" }

// Subscription grants a user a tier. At most one row per user is active.
type Subscription struct {
	ID                snowflake.ID `json:"id" gorm:"column:id;primaryKey"`
	UserID            string       `json:"user_id" gorm:"column:user_id"`
	TierID            snowflake.ID `json:"tier_id" gorm:"column:tier_id"`
	TierCode          string       `json:"tier_code" gorm:"column:tier_code"`
	MerchantReference string       `json:"merchant_reference" gorm:"column:merchant_reference"`
	IsActive          bool         `json:"is_active" gorm:"column:is_active"`
	StartedAt         time.Time    `json:"started_at" gorm:"column:started_at"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty" gorm:"column:expires_at"`
	DeactivatedAt     *time.Time   `json:"deactivated_at,omitempty" gorm:"column:deactivated_at"`
	CreatedAt         time.Time    `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

type ActivateRequest struct {
	UserID            string
	TierCode          string
	MerchantReference string
	ActivatedAt       time.Time
}

type Activation struct {
	Subscription Subscription
	Tier         Tier
	// Deactivated counts previously active rows that were switched off.
	Deactivated int64
}

type Service interface {
	// Activate replaces the user's active subscription inside tx.
	Activate(ctx context.Context, tx *gorm.DB, req ActivateRequest) (*Activation, error)
	ActiveForUser(ctx context.Context, userID string) (*Subscription, error)
}

type Repository interface {
	FindActiveTierByCode(ctx context.Context, db *gorm.DB, code string) (*Tier, error)
	FindActiveByUser(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	DeactivateActive(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}

var (
	ErrTierNotFound     = errors.New("subscription_tier_not_found")
	ErrNotFound         = errors.New("subscription_not_found")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidReference = errors.New("invalid_merchant_reference")
)
