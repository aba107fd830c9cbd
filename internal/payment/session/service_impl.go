package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	obscontext "github.com/smallbiznis/admitpay/internal/observability/context"
	obsmetrics "github.com/smallbiznis/admitpay/internal/observability/metrics"
	"github.com/smallbiznis/admitpay/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	userdomain "github.com/smallbiznis/admitpay/internal/user/domain"
	"github.com/smallbiznis/admitpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionTTL        = 24 * time.Hour
	referencePrefix   = "PAY"
	userFragmentLen   = 8
	referenceEntropy  = 8
	defaultItemPrefix = "Subscription"

	maxReferenceAttempts = 3
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Pricing  *config.PricingHolder
	Gateways adapters.Gateways
	Repo     paymentdomain.Repository
	UserRepo userdomain.Repository
	AuditSvc auditdomain.Service
	// Subscriptions tags upgrades and renewals in the session audit.
	Subscriptions subscriptiondomain.Service `optional:"true"`
	Metrics       *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	pricing  *config.PricingHolder
	gateways adapters.Gateways
	repo     paymentdomain.Repository
	userRepo userdomain.Repository
	auditSvc auditdomain.Service
	subs     subscriptiondomain.Service
	metrics  *obsmetrics.Metrics
	validate *validator.Validate
}

func NewService(p Params) paymentdomain.SessionService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.session"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		pricing:  p.Pricing,
		gateways: p.Gateways,
		repo:     p.Repo,
		userRepo: p.UserRepo,
		auditSvc: p.AuditSvc,
		subs:     p.Subscriptions,
		metrics:  p.Metrics,
		validate: validator.New(),
	}
}

func (s *Service) CreateSession(ctx context.Context, req paymentdomain.CreateSessionRequest) (*paymentdomain.CreateSessionResponse, error) {
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.UserID = strings.TrimSpace(req.UserID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	tier, _ := paymentdomain.ParseTier(req.Tier)
	method, _ := paymentdomain.ParsePaymentMethod(req.PaymentMethod)

	user, err := s.userRepo.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		if errors.Is(err, userdomain.ErrNotFound) {
			return nil, paymentdomain.ErrUserNotFound
		}
		return nil, err
	}

	pricing := s.pricing.Get()
	amount, price, ok := pricing.Price(string(tier))
	if !ok || !amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidTier
	}

	gateway, err := s.gateways.Get(s.cfg.Gateway.Provider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	record := &paymentdomain.PaymentRecord{
		ID:                s.genID.Generate(),
		MerchantReference: newMerchantReference(now, user.ID),
		UserID:            user.ID,
		Amount:            amount,
		Currency:          pricing.Currency,
		Tier:              tier,
		Status:            paymentdomain.StatusPending,
		GatewayProvider:   gateway.Provider(),
		PaymentExpiry:     now.Add(sessionTTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if method != "" {
		m := string(method)
		record.PaymentMethod = &m
	}

	for attempt := 1; ; attempt++ {
		err = s.repo.Insert(ctx, s.db, record)
		if err == nil || !db.IsDuplicateKeyErr(err) || attempt == maxReferenceAttempts {
			break
		}
		s.log.Warn("merchant reference collision, regenerating",
			zap.String("merchant_reference", record.MerchantReference),
			zap.Int("attempt", attempt),
			zap.String("constraint", db.ViolatedConstraint(err)),
		)
		record.ID = s.genID.Generate()
		record.MerchantReference = newMerchantReference(now, user.ID)
	}

	ctx = obscontext.WithMerchantReference(ctx, record.MerchantReference)
	log := s.log.With(
		zap.String("merchant_reference", record.MerchantReference),
		zap.String("user_id", user.ID),
		zap.String("tier", string(tier)),
	)

	if err != nil {
		log.Error("failed to persist payment record", zap.Error(err))
		s.auditFailure(ctx, record, "insert_failed", err)
		return nil, err
	}

	itemName := strings.TrimSpace(price.Name)
	if itemName == "" {
		itemName = fmt.Sprintf("%s %s", defaultItemPrefix, tier)
	}
	checkout, err := gateway.BuildCheckout(paymentdomain.CheckoutRequest{
		Record: *record,
		Buyer: paymentdomain.Buyer{
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Email:     user.Email,
		},
		Correlation: paymentdomain.Correlation{
			UserID:        user.ID,
			Tier:          tier,
			TrackingID:    record.ID.String(),
			PaymentMethod: method,
		},
		ItemName:        itemName,
		ItemDescription: price.Description,
		ReturnURL:       s.siteURL(s.cfg.Gateway.ReturnPath),
		CancelURL:       s.siteURL(s.cfg.Gateway.CancelPath),
		NotifyURL:       s.siteURL(s.cfg.Gateway.NotifyPath),
	})
	if err != nil {
		log.Error("failed to build checkout", zap.Error(err))
		s.auditFailure(ctx, record, "checkout_failed", err)
		return nil, err
	}

	if err := s.repo.UpdateRedirectURL(ctx, s.db, record.ID, checkout.URL, now); err != nil {
		log.Error("failed to store redirect url", zap.Error(err))
		s.auditFailure(ctx, record, "update_failed", err)
		return nil, err
	}

	meta := map[string]any{
		"tier":           string(tier),
		"amount":         amount.StringFixed(2),
		"currency":       record.Currency,
		"payment_method": string(method),
		"provider":       record.GatewayProvider,
		"expires_at":     record.PaymentExpiry.Format(time.RFC3339),
	}
	if current := s.currentTier(ctx, user.ID); current != "" {
		meta["current_tier"] = current
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    user.ID,
		Action:     auditdomain.ActionSessionCreated,
		Outcome:    auditdomain.OutcomeSuccess,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   record.MerchantReference,
		Metadata:   meta,
	}); err != nil {
		log.Warn("failed to audit session creation", zap.Error(err))
	}

	s.metrics.RecordSessionCreated(ctx, record.GatewayProvider, string(tier), string(method))
	log.Info("payment session created")

	return &paymentdomain.CreateSessionResponse{
		PaymentURL:        checkout.URL,
		MerchantReference: record.MerchantReference,
		ExpiresAt:         record.PaymentExpiry,
	}, nil
}

// currentTier returns the tier code of the user's active subscription, or "".
func (s *Service) currentTier(ctx context.Context, userID string) string {
	if s.subs == nil {
		return ""
	}
	sub, err := s.subs.ActiveForUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, subscriptiondomain.ErrNotFound) {
			s.log.Warn("failed to read active subscription", zap.String("user_id", userID), zap.Error(err))
		}
		return ""
	}
	return sub.TierCode
}

func (s *Service) validateRequest(req paymentdomain.CreateSessionRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	switch fieldErrs[0].Field() {
	case "Tier":
		return paymentdomain.ErrInvalidTier
	case "PaymentMethod":
		return paymentdomain.ErrInvalidPaymentMethod
	default:
		return paymentdomain.ErrInvalidUserID
	}
}

func (s *Service) auditFailure(ctx context.Context, record *paymentdomain.PaymentRecord, reason string, cause error) {
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    record.UserID,
		Action:     auditdomain.ActionSessionFailed,
		Outcome:    auditdomain.OutcomeFailure,
		TargetType: auditdomain.TargetTypePayment,
		TargetID:   record.MerchantReference,
		Metadata: map[string]any{
			"reason": reason,
			"error":  cause.Error(),
			"tier":   string(record.Tier),
		},
	}); err != nil {
		s.log.Warn("failed to audit session failure", zap.Error(err))
	}
}

func (s *Service) siteURL(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(s.cfg.SiteURL, "/") + path
}

// newMerchantReference combines wall time, a user fragment and ULID entropy
// so references are unique without a lookup.
func newMerchantReference(now time.Time, userID string) string {
	fragment := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, slug.Make(userID))
	if len(fragment) > userFragmentLen {
		fragment = fragment[:userFragmentLen]
	}
	if fragment == "" {
		fragment = "anon"
	}

	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	random := id[len(id)-referenceEntropy:]

	return fmt.Sprintf("%s-%d-%s-%s", referencePrefix, now.UnixMilli(), fragment, random)
}
