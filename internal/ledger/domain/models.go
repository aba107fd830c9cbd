package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionKind string

const (
	KindSubscriptionPayment TransactionKind = "subscription_payment"
)

// Transaction is one settled money movement, keyed by merchant reference.
type Transaction struct {
	ID                    snowflake.ID        `json:"id" gorm:"column:id;primaryKey"`
	UserID                string              `json:"user_id" gorm:"column:user_id"`
	MerchantReference     string              `json:"merchant_reference" gorm:"column:merchant_reference"`
	ProviderTransactionID *string             `json:"provider_transaction_id,omitempty" gorm:"column:provider_transaction_id"`
	Kind                  TransactionKind     `json:"kind" gorm:"column:kind"`
	Amount                decimal.Decimal     `json:"amount" gorm:"column:amount"`
	AmountFee             decimal.NullDecimal `json:"amount_fee" gorm:"column:amount_fee"`
	AmountNet             decimal.NullDecimal `json:"amount_net" gorm:"column:amount_net"`
	Currency              string              `json:"currency" gorm:"column:currency"`
	OccurredAt            time.Time           `json:"occurred_at" gorm:"column:occurred_at"`
	CreatedAt             time.Time           `json:"created_at" gorm:"column:created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Entry is the input for a ledger write.
type Entry struct {
	UserID                string
	MerchantReference     string
	ProviderTransactionID string
	Kind                  TransactionKind
	Amount                decimal.Decimal
	AmountFee             decimal.NullDecimal
	AmountNet             decimal.NullDecimal
	Currency              string
	OccurredAt            time.Time
}

type Service interface {
	// CreateEntry writes the entry inside tx. It reports false when an entry
	// for the merchant reference already exists.
	CreateEntry(ctx context.Context, tx *gorm.DB, entry Entry) (bool, error)
	FindByReference(ctx context.Context, merchantReference string) (*Transaction, error)
}

var (
	ErrInvalidReference  = errors.New("invalid_merchant_reference")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrNotFound          = errors.New("transaction_not_found")
)
