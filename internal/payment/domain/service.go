package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SessionService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error)
}

type WebhookService interface {
	// Verify authenticates a notification without touching payment state.
	Verify(ctx context.Context, req WebhookRequest) (*Notification, error)
	// Handle verifies and then reconciles.
	Handle(ctx context.Context, req WebhookRequest) (*ReconcileResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, notification *Notification) (*ReconcileResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	UpdateRedirectURL(ctx context.Context, db *gorm.DB, id snowflake.ID, redirectURL string, at time.Time) error
	FindByReference(ctx context.Context, db *gorm.DB, merchantReference string) (*PaymentRecord, error)
	// TransitionFromPending applies t only while the record is pending and
	// reports whether this caller won the transition.
	TransitionFromPending(ctx context.Context, db *gorm.DB, t Transition) (bool, error)
}

// Locker serializes work on one key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}
