package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/admitpay/internal/clock"
	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Activate(ctx context.Context, tx *gorm.DB, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Activation, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	reference := strings.TrimSpace(req.MerchantReference)
	if reference == "" {
		return nil, subscriptiondomain.ErrInvalidReference
	}
	if tx == nil {
		tx = s.db
	}

	tier, err := s.repo.FindActiveTierByCode(ctx, tx, req.TierCode)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, subscriptiondomain.ErrTierNotFound
	}

	now := req.ActivatedAt
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	deactivated, err := s.repo.DeactivateActive(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}

	sub := subscriptiondomain.Subscription{
		ID:                s.genID.Generate(),
		UserID:            userID,
		TierID:            tier.ID,
		TierCode:          tier.Code,
		MerchantReference: reference,
		IsActive:          true,
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if tier.DurationDays > 0 {
		expires := now.Add(time.Duration(tier.DurationDays) * 24 * time.Hour)
		sub.ExpiresAt = &expires
	}
	if err := s.repo.Insert(ctx, tx, &sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("tier", tier.Code),
		zap.String("merchant_reference", reference),
		zap.Int64("deactivated", deactivated),
	)
	return &subscriptiondomain.Activation{
		Subscription: sub,
		Tier:         *tier,
		Deactivated:  deactivated,
	}, nil
}

func (s *Service) ActiveForUser(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	sub, err := s.repo.FindActiveByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return sub, nil
}
