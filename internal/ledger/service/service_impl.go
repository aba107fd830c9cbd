package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/admitpay/internal/clock"
	ledgerdomain "github.com/smallbiznis/admitpay/internal/ledger/domain"
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
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateEntry(ctx context.Context, tx *gorm.DB, entry ledgerdomain.Entry) (bool, error) {
	reference := strings.TrimSpace(entry.MerchantReference)
	if reference == "" {
		return false, ledgerdomain.ErrInvalidReference
	}
	userID := strings.TrimSpace(entry.UserID)
	if userID == "" {
		return false, ledgerdomain.ErrInvalidUser
	}
	if !entry.Amount.IsPositive() {
		return false, ledgerdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if entry.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}
	kind := entry.Kind
	if kind == "" {
		kind = ledgerdomain.KindSubscriptionPayment
	}
	if tx == nil {
		tx = s.db
	}

	var providerTxID *string
	if trimmed := strings.TrimSpace(entry.ProviderTransactionID); trimmed != "" {
		providerTxID = &trimmed
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, user_id, merchant_reference, provider_transaction_id, kind,
			amount, amount_fee, amount_net, currency, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_reference) DO NOTHING`,
		s.genID.Generate(),
		userID,
		reference,
		providerTxID,
		string(kind),
		entry.Amount.StringFixed(2),
		entry.AmountFee,
		entry.AmountNet,
		currency,
		entry.OccurredAt.UTC(),
		s.clock.Now(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Info("ledger entry already recorded", zap.String("merchant_reference", reference))
		return false, nil
	}
	return true, nil
}

func (s *Service) FindByReference(ctx context.Context, merchantReference string) (*ledgerdomain.Transaction, error) {
	reference := strings.TrimSpace(merchantReference)
	if reference == "" {
		return nil, ledgerdomain.ErrInvalidReference
	}
	var item ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, merchant_reference, provider_transaction_id, kind,
			amount, amount_fee, amount_net, currency, occurred_at, created_at
		FROM transactions WHERE merchant_reference = ?`,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	return &item, nil
}
