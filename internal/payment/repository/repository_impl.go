package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/admitpay/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_records (
			id, merchant_reference, user_id, amount, currency, tier, status,
			gateway_provider, payment_method, provider_transaction_id, payment_expiry,
			ipn_verified, redirect_url, webhook_payload, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.MerchantReference,
		record.UserID,
		record.Amount.StringFixed(2),
		record.Currency,
		string(record.Tier),
		string(record.Status),
		record.GatewayProvider,
		record.PaymentMethod,
		record.ProviderTransactionID,
		record.PaymentExpiry,
		record.IPNVerified,
		record.RedirectURL,
		record.WebhookPayload,
		record.PaidAt,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) UpdateRedirectURL(ctx context.Context, db *gorm.DB, id snowflake.ID, redirectURL string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET redirect_url = ?, updated_at = ?
		 WHERE id = ?`,
		redirectURL,
		at,
		id,
	).Error
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, merchantReference string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_reference, user_id, amount, currency, tier, status,
			gateway_provider, payment_method, provider_transaction_id, payment_expiry,
			ipn_verified, redirect_url, webhook_payload, paid_at, created_at, updated_at
		 FROM payment_records
		 WHERE merchant_reference = ?
		 LIMIT 1`,
		strings.TrimSpace(merchantReference),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TransitionFromPending(ctx context.Context, db *gorm.DB, t domain.Transition) (bool, error) {
	if !t.To.IsTerminal() {
		return false, domain.ErrInvalidTransition
	}

	var providerTxID *string
	if trimmed := strings.TrimSpace(t.ProviderTransactionID); trimmed != "" {
		providerTxID = &trimmed
	}
	var paidAt *time.Time
	if t.To == domain.StatusPaid {
		at := t.At
		paidAt = &at
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET status = ?,
			provider_transaction_id = COALESCE(?, provider_transaction_id),
			ipn_verified = ?,
			webhook_payload = ?,
			paid_at = ?,
			updated_at = ?
		 WHERE merchant_reference = ? AND status = ?`,
		string(t.To),
		providerTxID,
		true,
		datatypes.JSONMap(t.Payload),
		paidAt,
		t.At,
		strings.TrimSpace(t.MerchantReference),
		string(domain.StatusPending),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
