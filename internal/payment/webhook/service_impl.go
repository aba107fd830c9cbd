package webhook

import (
	"context"
	"errors"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/config"
	obscontext "github.com/smallbiznis/admitpay/internal/observability/context"
	"github.com/smallbiznis/admitpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/admitpay/internal/observability/metrics"
	"github.com/smallbiznis/admitpay/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	outcomeVerified = "verified"
	unknownProvider = "unknown"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Gateways   adapters.Gateways
	Reconciler paymentdomain.Reconciler
	AuditSvc   auditdomain.Service
	Metrics    *obsmetrics.Metrics         `optional:"true"`
	Pipeline   *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ipCheck    string
	gateways   adapters.Gateways
	reconciler paymentdomain.Reconciler
	auditSvc   auditdomain.Service
	metrics    *obsmetrics.Metrics
	pipeline   *obsmetrics.PipelineMetrics
}

func NewService(p Params) paymentdomain.WebhookService {
	ipCheck := strings.TrimSpace(p.Cfg.Gateway.IPCheck)
	if ipCheck == "" {
		ipCheck = config.IPCheckEnforce
	}
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		ipCheck:    ipCheck,
		gateways:   p.Gateways,
		reconciler: p.Reconciler,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
		pipeline:   p.Pipeline,
	}
}

func (s *Service) Handle(ctx context.Context, req paymentdomain.WebhookRequest) (*paymentdomain.ReconcileResult, error) {
	notification, err := s.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, notification)
}

func (s *Service) Verify(ctx context.Context, req paymentdomain.WebhookRequest) (*paymentdomain.Notification, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		// caller-controlled path segment; never a metric label
		s.reject(ctx, unknownProvider, req, nil, err)
		return nil, err
	}

	fields, err := gateway.DecodeFields(req.Body)
	if err != nil {
		s.reject(ctx, provider, req, nil, err)
		return nil, err
	}

	reference := strings.TrimSpace(fields["m_payment_id"])
	if reference != "" {
		ctx = obscontext.WithMerchantReference(ctx, reference)
	}
	log := logger.WithPayment(logger.WithContext(ctx, s.log), provider, reference)

	verifiedMeta := map[string]any{
		"source_ip":    req.SourceIP,
		"source_check": s.ipCheck,
	}
	if s.ipCheck != config.IPCheckOff {
		trusted := gateway.TrustedSource(req.SourceIP)
		verifiedMeta["source_trusted"] = trusted
		if !trusted {
			if s.ipCheck != config.IPCheckReport {
				s.reject(ctx, provider, req, fields, paymentdomain.ErrUntrustedSource)
				return nil, paymentdomain.ErrUntrustedSource
			}
			log.Warn("notification from address outside allow-list", zap.String("source_ip", req.SourceIP))
		}
	}

	if err := gateway.VerifySignature(fields); err != nil {
		s.reject(ctx, provider, req, fields, err)
		return nil, err
	}

	started := time.Now()
	err = gateway.ValidateNotification(ctx, req.Body)
	s.pipeline.ObserveValidate(time.Since(started))
	if err != nil {
		log.Warn("gateway rejected notification echo-back", zap.Error(err))
		s.reject(ctx, provider, req, fields, err)
		return nil, err
	}

	notification, err := gateway.ParseNotification(fields)
	if err != nil {
		s.reject(ctx, provider, req, fields, err)
		return nil, err
	}
	notification.Provider = provider
	notification.SourceIP = req.SourceIP
	verifiedMeta["payment_status"] = notification.PaymentStatus
	verifiedMeta["payload"] = notification.Payload()

	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    provider,
		Action:     auditdomain.ActionWebhookVerified,
		Outcome:    auditdomain.OutcomeSuccess,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   notification.MerchantReference,
		Metadata:   verifiedMeta,
	}); err != nil {
		log.Warn("failed to audit verified notification", zap.Error(err))
	}

	s.metrics.RecordWebhook(ctx, provider, outcomeVerified)
	s.pipeline.IncWebhook(provider, outcomeVerified)
	log.Info("notification verified", zap.String("payment_status", notification.PaymentStatus))
	return notification, nil
}

func (s *Service) reject(ctx context.Context, provider string, req paymentdomain.WebhookRequest, fields map[string]string, cause error) {
	reason := rejectionReason(cause)
	metadata := map[string]any{
		"reason":    reason,
		"error":     cause.Error(),
		"source_ip": req.SourceIP,
		"provider":  truncate(strings.TrimSpace(req.Provider), 64),
	}
	if fields != nil {
		payload := make(map[string]any, len(fields))
		for k, v := range fields {
			payload[k] = v
		}
		metadata["payload"] = payload
	} else {
		metadata["raw_body"] = truncate(string(req.Body), 4096)
	}

	targetID := ""
	if fields != nil {
		targetID = strings.TrimSpace(fields["m_payment_id"])
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeGateway,
		ActorID:    provider,
		Action:     auditdomain.ActionWebhookRejected,
		Outcome:    auditdomain.OutcomeFailure,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   targetID,
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to audit rejected notification", zap.Error(err))
	}

	s.metrics.RecordWebhook(ctx, provider, reason)
	s.pipeline.IncWebhook(provider, reason)
	logger.WithPayment(logger.WithContext(ctx, s.log), provider, targetID).Warn("notification rejected",
		zap.String("reason", reason),
		zap.String("source_ip", req.SourceIP),
	)
}

var rejectionReasons = []error{
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrProviderNotFound,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrUntrustedSource,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrValidationFailed,
	paymentdomain.ErrMissingMerchantReference,
}

func rejectionReason(err error) string {
	for _, known := range rejectionReasons {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "unknown"
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
