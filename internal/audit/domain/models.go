package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeGateway ActorType = "gateway"
	ActorTypeSystem  ActorType = "system"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNoop    Outcome = "noop"
)

const (
	TargetTypePayment = "payment"
	TargetTypeUser    = "user"
)

const (
	ActionSessionCreated        = "payment_session_created"
	ActionSessionFailed         = "payment_session_failed"
	ActionWebhookVerified       = "webhook_verified"
	ActionWebhookRejected       = "webhook_rejected"
	ActionSubscriptionActivated = "subscription_activated"
	ActionPaymentFailed         = "payment_failed"
	ActionReconciliationNoop    = "reconciliation_noop"
	ActionReconciliationFailed  = "reconciliation_failed"
	ActionRateLimited           = "rate_limit_blocked"
)

// AuditLog is one append-only audit row.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"column:id;primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"column:actor_type"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"column:actor_id"`
	Action     string            `json:"action" gorm:"column:action"`
	Outcome    string            `json:"outcome" gorm:"column:outcome"`
	TargetType string            `json:"target_type" gorm:"column:target_type"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"column:target_id"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"column:metadata"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"column:ip_address"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"column:user_agent"`
	CreatedAt  time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Event is the caller-facing description of something worth auditing.
type Event struct {
	ActorType  ActorType
	ActorID    string
	Action     string
	Outcome    Outcome
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	// Record appends an event in its own write.
	Record(ctx context.Context, event Event) error
	// RecordTx appends an event inside the caller's transaction.
	RecordTx(ctx context.Context, tx *gorm.DB, event Event) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string, limit int) ([]*AuditLog, error)
}

var (
	ErrInvalidAction  = errors.New("invalid_action")
	ErrInvalidOutcome = errors.New("invalid_outcome")
	ErrInvalidTarget  = errors.New("invalid_target")
)
