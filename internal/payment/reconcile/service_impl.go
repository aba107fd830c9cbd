package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	ledgerdomain "github.com/smallbiznis/admitpay/internal/ledger/domain"
	obscontext "github.com/smallbiznis/admitpay/internal/observability/context"
	"github.com/smallbiznis/admitpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/admitpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKeyPrefix  = "payment:reconcile:"
	defaultLockTTL = 30 * time.Second
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Cfg             config.Config
	Repo            paymentdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	AuditSvc        auditdomain.Service
	Locker          paymentdomain.Locker        `optional:"true"`
	Metrics         *obsmetrics.Metrics         `optional:"true"`
	Pipeline        *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	clock           clock.Clock
	repo            paymentdomain.Repository
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	auditSvc        auditdomain.Service
	locker          paymentdomain.Locker
	lockTTL         time.Duration
	metrics         *obsmetrics.Metrics
	pipeline        *obsmetrics.PipelineMetrics
}

func NewService(p Params) paymentdomain.Reconciler {
	lockTTL := p.Cfg.RateLimit.ReconcileLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.reconcile"),
		clock:           p.Clock,
		repo:            p.Repo,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		auditSvc:        p.AuditSvc,
		locker:          p.Locker,
		lockTTL:         lockTTL,
		metrics:         p.Metrics,
		pipeline:        p.Pipeline,
	}
}

// Reconcile applies a verified notification to its payment record. A record
// already in a terminal state is left untouched and reported as a noop.
func (s *Service) Reconcile(ctx context.Context, n *paymentdomain.Notification) (*paymentdomain.ReconcileResult, error) {
	if n == nil || strings.TrimSpace(n.MerchantReference) == "" {
		return nil, paymentdomain.ErrMissingMerchantReference
	}
	reference := strings.TrimSpace(n.MerchantReference)
	ctx = obscontext.WithMerchantReference(ctx, reference)
	log := logger.WithPayment(logger.WithContext(ctx, s.log), n.Provider, reference)
	started := time.Now()

	if s.locker != nil {
		key := lockKeyPrefix + reference
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		switch {
		case err != nil:
			log.Warn("reconcile lock unavailable, relying on status guard", zap.Error(err))
		case !ok:
			s.fail(ctx, n, paymentdomain.ErrReconciliationInProgress, started)
			return nil, paymentdomain.ErrReconciliationInProgress
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn("failed to release reconcile lock", zap.Error(err))
				}
			}()
		}
	}

	var result *paymentdomain.ReconcileResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.apply(ctx, tx, n, reference)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		s.fail(ctx, n, err, started)
		return nil, err
	}

	s.metrics.RecordReconciliation(ctx, n.Provider, string(result.Outcome))
	s.pipeline.ObserveReconcile(string(result.Outcome), time.Since(started))
	if result.Outcome == paymentdomain.OutcomePaid {
		s.pipeline.IncActivation()
	}
	log.Info("reconciliation completed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, n *paymentdomain.Notification, reference string) (*paymentdomain.ReconcileResult, error) {
	record, err := s.repo.FindByReference(ctx, tx, reference)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	if record.Status.IsTerminal() {
		return s.noop(ctx, tx, n, record, "already_terminal")
	}
	if err := checkConsistency(record, n); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	target := n.TargetStatus()
	won, err := s.repo.TransitionFromPending(ctx, tx, paymentdomain.Transition{
		MerchantReference:     reference,
		To:                    target,
		ProviderTransactionID: n.ProviderTransactionID,
		Payload:               n.Payload(),
		At:                    now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return s.noop(ctx, tx, n, record, "lost_transition")
	}

	if target == paymentdomain.StatusFailed {
		if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Event{
			ActorType:  auditdomain.ActorTypeGateway,
			ActorID:    n.Provider,
			Action:     auditdomain.ActionPaymentFailed,
			Outcome:    auditdomain.OutcomeSuccess,
			TargetType: auditdomain.TargetTypePayment,
			TargetID:   reference,
			Metadata: map[string]any{
				"user_id":                 record.UserID,
				"payment_status":          n.PaymentStatus,
				"provider_transaction_id": n.ProviderTransactionID,
			},
		}); err != nil {
			return nil, err
		}
		return &paymentdomain.ReconcileResult{
			MerchantReference: reference,
			Outcome:           paymentdomain.OutcomeFailed,
			Status:            paymentdomain.StatusFailed,
		}, nil
	}

	activation, err := s.subscriptionSvc.Activate(ctx, tx, subscriptiondomain.ActivateRequest{
		UserID:            record.UserID,
		TierCode:          string(record.Tier),
		MerchantReference: reference,
		ActivatedAt:       now,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.Entry{
		UserID:                record.UserID,
		MerchantReference:     reference,
		ProviderTransactionID: n.ProviderTransactionID,
		Kind:                  ledgerdomain.KindSubscriptionPayment,
		Amount:                record.Amount,
		AmountFee:             n.AmountFee,
		AmountNet:             n.AmountNet,
		Currency:              record.Currency,
		OccurredAt:            now,
	}); err != nil {
		return nil, err
	}

	if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    n.Provider,
		Action:     auditdomain.ActionSubscriptionActivated,
		Outcome:    auditdomain.OutcomeSuccess,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   reference,
		Metadata: map[string]any{
			"user_id":                 record.UserID,
			"tier":                    activation.Tier.Code,
			"subscription_id":         activation.Subscription.ID.String(),
			"deactivated":             activation.Deactivated,
			"amount":                  record.Amount.StringFixed(2),
			"provider_transaction_id": n.ProviderTransactionID,
		},
	}); err != nil {
		return nil, err
	}

	return &paymentdomain.ReconcileResult{
		MerchantReference: reference,
		Outcome:           paymentdomain.OutcomePaid,
		Status:            paymentdomain.StatusPaid,
		SubscriptionID:    activation.Subscription.ID,
	}, nil
}

func (s *Service) noop(ctx context.Context, tx *gorm.DB, n *paymentdomain.Notification, record *paymentdomain.PaymentRecord, reason string) (*paymentdomain.ReconcileResult, error) {
	status := record.Status
	if reason == "lost_transition" {
		current, err := s.repo.FindByReference(ctx, tx, record.MerchantReference)
		if err != nil {
			return nil, err
		}
		if current != nil {
			status = current.Status
		}
	}
	if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    n.Provider,
		Action:     auditdomain.ActionReconciliationNoop,
		Outcome:    auditdomain.OutcomeNoop,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   record.MerchantReference,
		Metadata: map[string]any{
			"reason":         reason,
			"current_status": string(status),
			"payment_status": n.PaymentStatus,
		},
	}); err != nil {
		return nil, err
	}
	return &paymentdomain.ReconcileResult{
		MerchantReference: record.MerchantReference,
		Outcome:           paymentdomain.OutcomeNoop,
		Status:            status,
	}, nil
}

// fail audits a rolled back reconciliation outside the failed transaction.
func (s *Service) fail(ctx context.Context, n *paymentdomain.Notification, cause error, started time.Time) {
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    n.Provider,
		Action:     auditdomain.ActionReconciliationFailed,
		Outcome:    auditdomain.OutcomeFailure,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   n.MerchantReference,
		Metadata: map[string]any{
			"error":          cause.Error(),
			"payment_status": n.PaymentStatus,
			"payload":        n.Payload(),
		},
	}); err != nil {
		s.log.Error("failed to audit reconciliation failure",
			zap.String("merchant_reference", n.MerchantReference),
			zap.Error(err),
		)
	}
	s.metrics.RecordReconciliation(ctx, n.Provider, "error")
	s.pipeline.ObserveReconcile("error", time.Since(started))
	if !errors.Is(cause, paymentdomain.ErrReconciliationInProgress) {
		s.pipeline.IncReconcileError(cause)
	}
}

// checkConsistency rejects notifications whose correlation fields or gross
// amount disagree with the stored record.
func checkConsistency(record *paymentdomain.PaymentRecord, n *paymentdomain.Notification) error {
	if userID := n.Correlation.UserID; userID != "" && userID != record.UserID {
		return paymentdomain.ErrNotificationMismatch
	}
	if tier := n.Correlation.Tier; tier != "" && tier != record.Tier {
		return paymentdomain.ErrNotificationMismatch
	}
	if n.AmountGross.Valid && !n.AmountGross.Decimal.Equal(record.Amount) {
		return paymentdomain.ErrNotificationMismatch
	}
	return nil
}
