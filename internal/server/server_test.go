package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/admitpay/internal/audit/repository"
	auditservice "github.com/smallbiznis/admitpay/internal/audit/service"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/dbtest"
	"github.com/smallbiznis/admitpay/internal/observability"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"github.com/smallbiznis/admitpay/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubSessions struct {
	mu    sync.Mutex
	calls []paymentdomain.CreateSessionRequest
	err   error
}

func (s *stubSessions) CreateSession(_ context.Context, req paymentdomain.CreateSessionRequest) (*paymentdomain.CreateSessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return &paymentdomain.CreateSessionResponse{
		PaymentURL:        "https://sandbox.payfast.co.za/eng/process?m_payment_id=PAY-1",
		MerchantReference: "PAY-1772355600000-user7f3a-01HZX4K2",
		ExpiresAt:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}, nil
}

type stubWebhooks struct {
	mu       sync.Mutex
	requests []paymentdomain.WebhookRequest
	result   *paymentdomain.ReconcileResult
	err      error
}

func (s *stubWebhooks) Verify(context.Context, paymentdomain.WebhookRequest) (*paymentdomain.Notification, error) {
	return nil, errors.New("not used")
}

func (s *stubWebhooks) Handle(_ context.Context, req paymentdomain.WebhookRequest) (*paymentdomain.ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &paymentdomain.ReconcileResult{
		MerchantReference: "PAY-1",
		Outcome:           paymentdomain.OutcomePaid,
		Status:            paymentdomain.StatusPaid,
	}, nil
}

type testServer struct {
	srv      *Server
	db       *gorm.DB
	clock    *clock.FakeClock
	sessions *stubSessions
	webhooks *stubWebhooks
	audit    auditdomain.Service
}

func newTestServer(t *testing.T, withGate bool) *testServer {
	return newTestServerWithConfig(t, withGate, config.Config{Environment: "test"})
}

func newTestServerWithConfig(t *testing.T, withGate bool, cfg config.Config) *testServer {
	t.Helper()

	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	log := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})

	var gate *ratelimit.AttemptGate
	if withGate {
		gate = ratelimit.NewAttemptGate(ratelimit.NewGormStore(db, clk), ratelimit.DefaultPolicy(), clk, log)
	}

	engine, err := registerGin(cfg, observability.Config{}, nil)
	require.NoError(t, err)

	ts := &testServer{
		db:       db,
		clock:    clk,
		sessions: &stubSessions{},
		webhooks: &stubWebhooks{},
		audit:    auditSvc,
	}
	ts.srv = NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		DB:          db,
		Log:         log,
		Clock:       clk,
		AuditSvc:    auditSvc,
		SessionSvc:  ts.sessions,
		WebhookSvc:  ts.webhooks,
		AttemptGate: gate,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func sessionRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func webhookRequest(provider, body, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "PayFast IPN")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreatePaymentSession(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(sessionRequest(`{"tier":"premium","user_id":"user-7f3a"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp paymentdomain.CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PAY-1772355600000-user7f3a-01HZX4K2", resp.MerchantReference)
	assert.NotEmpty(t, resp.PaymentURL)
	assert.True(t, resp.ExpiresAt.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))

	require.Len(t, ts.sessions.calls, 1)
	assert.Equal(t, "premium", ts.sessions.calls[0].Tier)
	assert.Equal(t, "user-7f3a", ts.sessions.calls[0].UserID)
}

func TestCreatePaymentSession_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed json", `{"tier":`, nil, http.StatusBadRequest, "invalid_request"},
		{"invalid tier", `{"tier":"gold","user_id":"u"}`, paymentdomain.ErrInvalidTier, http.StatusBadRequest, "invalid_tier"},
		{"unknown user", `{"tier":"basic","user_id":"ghost"}`, paymentdomain.ErrUserNotFound, http.StatusUnauthorized, "unauthorized"},
		{"store failure", `{"tier":"basic","user_id":"u"}`, errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.sessions.err = tc.err

			rec := ts.do(sessionRequest(tc.body))
			assert.Equal(t, tc.status, rec.Code)

			payload := decodeError(t, rec)
			if len(payload.Errors) > 0 {
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			} else {
				assert.Equal(t, tc.code, payload.Type)
			}
		})
	}
}

func TestCreatePaymentSession_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, false)

	body := fmt.Sprintf(`{"tier":"basic","user_id":%q}`, strings.Repeat("x", maxJSONBodyBytes))
	rec := ts.do(sessionRequest(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.sessions.calls)
}

func TestCreatePaymentSession_RateLimited(t *testing.T) {
	ts := newTestServer(t, true)
	ts.sessions.err = paymentdomain.ErrUserNotFound
	body := `{"tier":"basic","user_id":"user-7f3a"}`

	for i := 1; i <= 5; i++ {
		rec := ts.do(sessionRequest(body))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		if i < 5 {
			ts.clock.Advance(time.Minute)
		}
	}

	rec := ts.do(sessionRequest(body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, rateLimitReasonAttempts, rec.Header().Get("X-Rate-Limited-Reason"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
	assert.Len(t, ts.sessions.calls, 5)

	logs, err := ts.audit.ListByTarget(context.Background(), auditdomain.TargetTypeUser, "user-7f3a")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionRateLimited, logs[0].Action)

	// a different applicant from the same address is counted separately
	rec = ts.do(sessionRequest(`{"tier":"basic","user_id":"user-9b21"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.sessions.err = nil
	ts.clock.Advance(30 * time.Minute)
	rec = ts.do(sessionRequest(body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))

	ts.clock.Advance(31 * time.Minute)
	rec = ts.do(sessionRequest(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.sessions.calls, 7)
}

func TestCreatePaymentSession_SuccessfulAttemptsAreNotCounted(t *testing.T) {
	ts := newTestServer(t, true)
	body := `{"tier":"premium","user_id":"user-7f3a"}`

	for i := 1; i <= 8; i++ {
		rec := ts.do(sessionRequest(body))
		require.Equal(t, http.StatusOK, rec.Code, "checkout %d", i)
		ts.clock.Advance(time.Minute)
	}
	assert.Equal(t, int64(0), dbtest.Count(t, ts.db, `SELECT COUNT(*) FROM verification_attempts WHERE attempt_count > 0`))

	// server faults are not held against the applicant either
	ts.sessions.err = errors.New("database is down")
	for i := 1; i <= 5; i++ {
		rec := ts.do(sessionRequest(body))
		require.Equal(t, http.StatusInternalServerError, rec.Code, "attempt %d", i)
	}
	assert.Equal(t, int64(0), dbtest.Count(t, ts.db, `SELECT COUNT(*) FROM verification_attempts WHERE attempt_count > 0`))

	ts.sessions.err = paymentdomain.ErrInvalidTier
	rec := ts.do(sessionRequest(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(1), dbtest.Count(t, ts.db,
		`SELECT attempt_count FROM verification_attempts WHERE identity = ?`, "user-7f3a"))
}

func TestListAuditLogs(t *testing.T) {
	ts := newTestServerWithConfig(t, false, config.Config{Environment: "test", AdminToken: "admin-secret"})
	ctx := context.Background()
	for _, action := range []string{auditdomain.ActionSessionCreated, auditdomain.ActionSubscriptionActivated} {
		require.NoError(t, ts.audit.Record(ctx, auditdomain.Event{
			ActorType:  auditdomain.ActorTypeSystem,
			Action:     action,
			TargetType: auditdomain.TargetTypePayment,
			TargetID:   "PAY-1",
		}))
		ts.clock.Advance(time.Second)
	}

	get := func(query, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs?"+query, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return ts.do(req)
	}

	rec := get("target_type=payment&target_id=PAY-1", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AuditLogs []auditdomain.AuditLog `json:"audit_logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.AuditLogs, 2)
	assert.Equal(t, auditdomain.ActionSessionCreated, body.AuditLogs[0].Action)
	assert.Equal(t, auditdomain.ActionSubscriptionActivated, body.AuditLogs[1].Action)

	assert.Equal(t, http.StatusUnauthorized, get("target_type=payment&target_id=PAY-1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("target_type=payment&target_id=PAY-1", "wrong").Code)

	rec = get("target_type=ledger&target_id=PAY-1", "admin-secret")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_target_type", decodeError(t, rec).Errors[0].Code)
	assert.Equal(t, http.StatusBadRequest, get("target_type=payment", "admin-secret").Code)
}

func TestListAuditLogs_DisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs?target_type=payment&target_id=PAY-1", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusNotFound, ts.do(req).Code)
}

func TestHandlePaymentWebhook(t *testing.T) {
	ts := newTestServer(t, false)

	body := "m_payment_id=PAY-1&pf_payment_id=1089250&payment_status=COMPLETE&signature=abc"
	rec := ts.do(webhookRequest("payfast", body, "197.97.145.150:443"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	require.Len(t, ts.webhooks.requests, 1)
	got := ts.webhooks.requests[0]
	assert.Equal(t, "payfast", got.Provider)
	assert.Equal(t, body, string(got.Body))
	assert.Equal(t, "197.97.145.150", got.SourceIP)
	assert.Equal(t, "PayFast IPN", got.UserAgent)
}

func TestHandlePaymentWebhook_NoopIsOK(t *testing.T) {
	ts := newTestServer(t, false)
	ts.webhooks.result = &paymentdomain.ReconcileResult{
		MerchantReference: "PAY-1",
		Outcome:           paymentdomain.OutcomeNoop,
		Status:            paymentdomain.StatusPaid,
	}

	rec := ts.do(webhookRequest("payfast", "m_payment_id=PAY-1", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandlePaymentWebhook_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	ts := newTestServer(t, false)

	req := webhookRequest("payfast", "m_payment_id=PAY-1", "203.0.113.9:5123")
	req.Header.Set("X-Forwarded-For", "197.97.145.150")
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.webhooks.requests, 1)
	assert.Equal(t, "203.0.113.9", ts.webhooks.requests[0].SourceIP)
}

func TestHandlePaymentWebhook_FailuresAreNotOK(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"untrusted source", paymentdomain.ErrUntrustedSource, http.StatusForbidden},
		{"bad signature", paymentdomain.ErrInvalidSignature, http.StatusBadRequest},
		{"malformed payload", paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
		{"missing reference", paymentdomain.ErrMissingMerchantReference, http.StatusBadRequest},
		{"unknown provider", paymentdomain.ErrProviderNotFound, http.StatusNotFound},
		{"unknown payment", paymentdomain.ErrPaymentNotFound, http.StatusNotFound},
		{"gateway rejected", paymentdomain.ErrValidationFailed, http.StatusBadGateway},
		{"mismatch", paymentdomain.ErrNotificationMismatch, http.StatusUnprocessableEntity},
		{"in progress", paymentdomain.ErrReconciliationInProgress, http.StatusConflict},
		{"internal", fmt.Errorf("reconcile: %w", errors.New("tx aborted")), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.webhooks.err = tc.err

			rec := ts.do(webhookRequest("payfast", "m_payment_id=PAY-1", ""))
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEqual(t, "OK", rec.Body.String())
		})
	}
}

func TestHandlePaymentWebhook_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(webhookRequest("payfast", strings.Repeat("a", maxWebhookBodyBytes+1), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.webhooks.requests)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(paymentdomain.ErrInvalidSignature)
	assert.Equal(t, "client", kind)
	assert.Equal(t, "invalid_signature", code)

	kind, code = classifyErrorForLog(ErrRateLimited)
	assert.Equal(t, "throttle", kind)
	assert.Equal(t, "rate_limited", code)

	kind, code = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "server", kind)
	assert.Equal(t, "internal_error", code)

	kind, _ = classifyErrorForLog(nil)
	assert.Empty(t, kind)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "61", retryAfterSeconds(60*time.Second+time.Millisecond))
}
