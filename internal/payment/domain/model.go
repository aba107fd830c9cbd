package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

func ParseTier(raw string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierBasic:
		return TierBasic, true
	case TierPremium:
		return TierPremium, true
	}
	return "", false
}

type PaymentMethod string

const (
	MethodCard        PaymentMethod = "card"
	MethodAirtime     PaymentMethod = "airtime"
	MethodQR          PaymentMethod = "qr"
	MethodEFT         PaymentMethod = "eft"
	MethodStore       PaymentMethod = "store"
	MethodPaymentPlan PaymentMethod = "payment-plan"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodCard, MethodAirtime, MethodQR, MethodEFT, MethodStore, MethodPaymentPlan:
		return m, true
	}
	return "", false
}

// PaymentRecord is one checkout attempt, keyed by its merchant reference.
type PaymentRecord struct {
	ID                    snowflake.ID      `json:"id" gorm:"column:id;primaryKey"`
	MerchantReference     string            `json:"merchant_reference" gorm:"column:merchant_reference"`
	UserID                string            `json:"user_id" gorm:"column:user_id"`
	Amount                decimal.Decimal   `json:"amount" gorm:"column:amount"`
	Currency              string            `json:"currency" gorm:"column:currency"`
	Tier                  Tier              `json:"tier" gorm:"column:tier"`
	Status                Status            `json:"status" gorm:"column:status"`
	GatewayProvider       string            `json:"gateway_provider" gorm:"column:gateway_provider"`
	PaymentMethod         *string           `json:"payment_method,omitempty" gorm:"column:payment_method"`
	ProviderTransactionID *string           `json:"provider_transaction_id,omitempty" gorm:"column:provider_transaction_id"`
	PaymentExpiry         time.Time         `json:"payment_expiry" gorm:"column:payment_expiry"`
	IPNVerified           bool              `json:"ipn_verified" gorm:"column:ipn_verified"`
	RedirectURL           *string           `json:"redirect_url,omitempty" gorm:"column:redirect_url"`
	WebhookPayload        datatypes.JSONMap `json:"webhook_payload,omitempty" gorm:"column:webhook_payload"`
	PaidAt                *time.Time        `json:"paid_at,omitempty" gorm:"column:paid_at"`
	CreatedAt             time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// Transition is a compare-and-swap from pending to a terminal status.
type Transition struct {
	MerchantReference     string
	To                    Status
	ProviderTransactionID string
	Payload               map[string]any
	At                    time.Time
}

type CreateSessionRequest struct {
	Tier          string `json:"tier" validate:"required,oneof=basic premium"`
	UserID        string `json:"user_id" validate:"required,max=128"`
	PaymentMethod string `json:"payment_method,omitempty" validate:"omitempty,oneof=card airtime qr eft store payment-plan"`
}

type CreateSessionResponse struct {
	PaymentURL        string    `json:"payment_url"`
	MerchantReference string    `json:"merchant_reference"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// WebhookRequest is an inbound gateway notification as received on the wire.
type WebhookRequest struct {
	Provider  string
	Body      []byte
	SourceIP  string
	UserAgent string
}

type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
	OutcomeNoop   Outcome = "noop"
)

type ReconcileResult struct {
	MerchantReference string
	Outcome           Outcome
	Status            Status
	SubscriptionID    snowflake.ID
}
