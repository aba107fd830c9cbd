package payment_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/admitpay/internal/audit/repository"
	auditservice "github.com/smallbiznis/admitpay/internal/audit/service"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/admitpay/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/admitpay/internal/ledger/service"
	"github.com/smallbiznis/admitpay/internal/payment"
	"github.com/smallbiznis/admitpay/internal/payment/adapters"
	"github.com/smallbiznis/admitpay/internal/payment/adapters/payfast"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"github.com/smallbiznis/admitpay/internal/payment/reconcile"
	"github.com/smallbiznis/admitpay/internal/payment/repository"
	"github.com/smallbiznis/admitpay/internal/payment/session"
	"github.com/smallbiznis/admitpay/internal/payment/webhook"
	subscriptiondomain "github.com/smallbiznis/admitpay/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/admitpay/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/admitpay/internal/subscription/service"
	userrepository "github.com/smallbiznis/admitpay/internal/user/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testPassphrase = "jt7NOE43FZPn"
	testUserID     = "user-7f3a"
	trustedIP      = "197.97.145.150"
	untrustedIP    = "203.0.113.9"
)

// validator is a stand-in for the gateway's echo-back endpoint.
type validator struct {
	mu       sync.Mutex
	response string
	delay    time.Duration
	bodies   []string
}

func (v *validator) set(response string, delay time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.response = response
	v.delay = delay
}

func (v *validator) received() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.bodies...)
}

func (v *validator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	v.mu.Lock()
	v.bodies = append(v.bodies, string(body))
	response, delay := v.response, v.delay
	v.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	_, _ = io.WriteString(w, response)
}

type harness struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	validator *validator
	gateway   paymentdomain.Gateway
	repo      paymentdomain.Repository
	audit     auditdomain.Service
	ledger    ledgerdomain.Service
	subs      subscriptiondomain.Service
	session   paymentdomain.SessionService
	reconcile paymentdomain.Reconciler
	webhook   paymentdomain.WebhookService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	ipCheck     string
	locker      paymentdomain.Locker
	sessionRepo func(paymentdomain.Repository) paymentdomain.Repository
}

func withIPCheck(mode string) harnessOption {
	return func(c *harnessConfig) { c.ipCheck = mode }
}

func withLocker(l paymentdomain.Locker) harnessOption {
	return func(c *harnessConfig) { c.locker = l }
}

// withSessionRepo wraps the repository seen by the session builder only.
func withSessionRepo(wrap func(paymentdomain.Repository) paymentdomain.Repository) harnessOption {
	return func(c *harnessConfig) { c.sessionRepo = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{ipCheck: config.IPCheckEnforce}
	for _, opt := range opts {
		opt(&hc)
	}

	db := dbtest.Open(t)
	dbtest.SeedUser(t, db, testUserID, "thandi@example.com")

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	v := &validator{response: "VALID"}
	server := httptest.NewServer(v)
	t.Cleanup(server.Close)

	cfg := config.Config{
		SiteURL: "https://apply.example.com",
		Gateway: config.GatewayConfig{
			Provider:        payfast.ProviderName,
			MerchantID:      "10000100",
			MerchantKey:     "46f0cd694581a",
			Passphrase:      testPassphrase,
			Sandbox:         true,
			IPCheck:         hc.ipCheck,
			AllowedCIDRs:    config.DefaultAllowedCIDRs,
			ValidateTimeout: 300 * time.Millisecond,
			ReturnPath:      "/payments/success",
			CancelPath:      "/payments/cancelled",
			NotifyPath:      "/api/payments/webhooks/payfast",
			BaseURL:         server.URL,
		},
	}

	registry := adapters.NewRegistry(payfast.NewFactory())
	gateways, err := payment.NewGateways(registry, cfg)
	if err != nil {
		t.Fatalf("gateways: %v", err)
	}
	gateway, err := gateways.Get(payfast.ProviderName)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: subscriptionrepository.Provide(),
	})
	repo := repository.Provide()
	sessionRepo := repo
	if hc.sessionRepo != nil {
		sessionRepo = hc.sessionRepo(repo)
	}

	reconciler := reconcile.NewService(reconcile.Params{
		DB:              db,
		Log:             log,
		Clock:           clk,
		Cfg:             cfg,
		Repo:            repo,
		SubscriptionSvc: subSvc,
		LedgerSvc:       ledgerSvc,
		AuditSvc:        auditSvc,
		Locker:          hc.locker,
	})

	return &harness{
		db:        db,
		clock:     clk,
		validator: v,
		gateway:   gateway,
		repo:      repo,
		audit:     auditSvc,
		ledger:    ledgerSvc,
		subs:      subSvc,
		reconcile: reconciler,
		session: session.NewService(session.Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Cfg:      cfg,
			Pricing:  config.NewStaticPricingHolder(config.DefaultPricingConfig()),
			Gateways: gateways,
			Repo:     sessionRepo,
			UserRepo: userrepository.Provide(),
			AuditSvc: auditSvc,

			Subscriptions: subSvc,
		}),
		webhook: webhook.NewService(webhook.Params{
			Log:        log,
			Cfg:        cfg,
			Gateways:   gateways,
			Reconciler: reconciler,
			AuditSvc:   auditSvc,
		}),
	}
}

// createSession opens a session for the seeded user and returns its reference.
func (h *harness) createSession(t *testing.T, tier string) string {
	t.Helper()
	resp, err := h.session.CreateSession(context.Background(), paymentdomain.CreateSessionRequest{
		Tier:   tier,
		UserID: testUserID,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return resp.MerchantReference
}

func (h *harness) record(t *testing.T, reference string) *paymentdomain.PaymentRecord {
	t.Helper()
	record, err := h.repo.FindByReference(context.Background(), h.db, reference)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record == nil {
		t.Fatalf("record %s not found", reference)
	}
	return record
}

func (h *harness) actions(t *testing.T, reference string) []string {
	t.Helper()
	logs, err := h.audit.ListByTarget(context.Background(), auditdomain.TargetTypePayment, reference)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

// auditMetadata returns the metadata of the latest audit row with the action.
func (h *harness) auditMetadata(t *testing.T, reference, action string) map[string]any {
	t.Helper()
	logs, err := h.audit.ListByTarget(context.Background(), auditdomain.TargetTypePayment, reference)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].Action == action {
			return logs[i].Metadata
		}
	}
	t.Fatalf("no %s audit for %s", action, reference)
	return nil
}

// notificationBody renders a signed notification as the gateway posts it.
func notificationBody(fields map[string]string, passphrase string) []byte {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return []byte(values.Encode() + "&signature=" + payfast.Sign(fields, passphrase))
}

func completeFields(reference, tier, amount string) map[string]string {
	return map[string]string{
		"m_payment_id":   reference,
		"pf_payment_id":  "1089250",
		"payment_status": "COMPLETE",
		"item_name":      "Premium Plan",
		"amount_gross":   amount,
		"amount_fee":     "-4.57",
		"amount_net":     "194.43",
		"custom_str1":    testUserID,
		"custom_str2":    tier,
		"name_first":     "Thandi",
		"email_address":  "thandi@example.com",
		"merchant_id":    "10000100",
	}
}

func webhookRequest(body []byte, ip string) paymentdomain.WebhookRequest {
	return paymentdomain.WebhookRequest{
		Provider:  payfast.ProviderName,
		Body:      body,
		SourceIP:  ip,
		UserAgent: "PayFast-IPN",
	}
}

// fakeLocker grants or refuses every lock.
type fakeLocker struct {
	mu       sync.Mutex
	grant    bool
	err      error
	acquired int
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if !l.grant {
		return "", false, nil
	}
	l.acquired++
	return "token-" + key, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}
