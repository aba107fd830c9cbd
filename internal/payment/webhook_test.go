package payment_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/dbtest"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_AcceptsSignedNotification(t *testing.T) {
	h := newHarness(t)
	ref := h.createSession(t, "premium")
	body := notificationBody(completeFields(ref, "premium", "199.00"), testPassphrase)

	n, err := h.webhook.Verify(context.Background(), webhookRequest(body, trustedIP))
	require.NoError(t, err)

	assert.Equal(t, ref, n.MerchantReference)
	assert.True(t, n.IsComplete())
	assert.Equal(t, "1089250", n.ProviderTransactionID)
	assert.Equal(t, testUserID, n.Correlation.UserID)
	assert.Equal(t, paymentdomain.TierPremium, n.Correlation.Tier)
	assert.Equal(t, trustedIP, n.SourceIP)

	require.Len(t, h.validator.received(), 1)
	assert.Equal(t, string(body), h.validator.received()[0])

	// verification alone leaves the record untouched
	assert.Equal(t, paymentdomain.StatusPending, h.record(t, ref).Status)
	assert.Contains(t, h.actions(t, ref), auditdomain.ActionWebhookVerified)
	meta := h.auditMetadata(t, ref, auditdomain.ActionWebhookVerified)
	assert.Equal(t, true, meta["source_trusted"])
	assert.Equal(t, config.IPCheckEnforce, meta["source_check"])
}

func TestVerify_RejectsAndAudits(t *testing.T) {
	cases := []struct {
		name     string
		ip       string
		mutate   func(fields map[string]string) []byte
		response string
		want     error
	}{
		{
			name: "untrusted source",
			ip:   untrustedIP,
			mutate: func(f map[string]string) []byte {
				return notificationBody(f, testPassphrase)
			},
			response: "VALID",
			want:     paymentdomain.ErrUntrustedSource,
		},
		{
			name: "wrong passphrase",
			ip:   trustedIP,
			mutate: func(f map[string]string) []byte {
				return notificationBody(f, "not-the-passphrase")
			},
			response: "VALID",
			want:     paymentdomain.ErrInvalidSignature,
		},
		{
			name: "tampered amount",
			ip:   trustedIP,
			mutate: func(f map[string]string) []byte {
				body := notificationBody(f, testPassphrase)
				return append([]byte("amount_gross=1.00&"), body...)
			},
			response: "VALID",
			want:     paymentdomain.ErrInvalidSignature,
		},
		{
			name: "gateway says invalid",
			ip:   trustedIP,
			mutate: func(f map[string]string) []byte {
				return notificationBody(f, testPassphrase)
			},
			response: "INVALID",
			want:     paymentdomain.ErrValidationFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ref := h.createSession(t, "premium")
			h.validator.set(tc.response, 0)

			body := tc.mutate(completeFields(ref, "premium", "199.00"))
			_, err := h.webhook.Handle(context.Background(), webhookRequest(body, tc.ip))
			assert.ErrorIs(t, err, tc.want)

			assert.Equal(t, paymentdomain.StatusPending, h.record(t, ref).Status)
			assert.Equal(t, int64(0), dbtest.Count(t, h.db, `SELECT COUNT(*) FROM subscriptions`))

			// the stored payload keeps the signature exactly as delivered
			sent, err := url.ParseQuery(string(body))
			require.NoError(t, err)
			meta := h.auditMetadata(t, ref, auditdomain.ActionWebhookRejected)
			assert.Equal(t, tc.want.Error(), meta["reason"])
			payload, ok := meta["payload"].(map[string]any)
			require.True(t, ok, "payload missing from rejection audit")
			assert.Equal(t, sent.Get("signature"), payload["signature"])
			assert.Equal(t, ref, payload["m_payment_id"])
		})
	}
}

func TestVerify_ValidationTimeoutFailsClosed(t *testing.T) {
	h := newHarness(t)
	ref := h.createSession(t, "premium")
	h.validator.set("VALID", 2*time.Second)

	_, err := h.webhook.Handle(context.Background(), webhookRequest(notificationBody(completeFields(ref, "premium", "199.00"), testPassphrase), trustedIP))
	assert.ErrorIs(t, err, paymentdomain.ErrValidationFailed)
	assert.Equal(t, paymentdomain.StatusPending, h.record(t, ref).Status)
}

func TestVerify_SourceCheckModes(t *testing.T) {
	for _, mode := range []string{config.IPCheckReport, config.IPCheckOff} {
		t.Run(mode, func(t *testing.T) {
			h := newHarness(t, withIPCheck(mode))
			ref := h.createSession(t, "premium")

			_, err := h.webhook.Verify(context.Background(), webhookRequest(notificationBody(completeFields(ref, "premium", "199.00"), testPassphrase), untrustedIP))
			require.NoError(t, err)

			meta := h.auditMetadata(t, ref, auditdomain.ActionWebhookVerified)
			assert.Equal(t, mode, meta["source_check"])
			if mode == config.IPCheckReport {
				assert.Equal(t, false, meta["source_trusted"])
			} else {
				assert.NotContains(t, meta, "source_trusted")
			}
		})
	}
}

func TestVerify_MalformedBodies(t *testing.T) {
	h := newHarness(t)

	_, err := h.webhook.Verify(context.Background(), webhookRequest(nil, trustedIP))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = h.webhook.Verify(context.Background(), webhookRequest([]byte("%zz"), trustedIP))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	fields := completeFields("", "premium", "199.00")
	delete(fields, "m_payment_id")
	_, err = h.webhook.Verify(context.Background(), webhookRequest(notificationBody(fields, testPassphrase), trustedIP))
	assert.ErrorIs(t, err, paymentdomain.ErrMissingMerchantReference)

	_, err = h.webhook.Verify(context.Background(), paymentdomain.WebhookRequest{Provider: "paypal", Body: []byte("a=b"), SourceIP: trustedIP})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db,
		`SELECT COUNT(*) FROM audit_logs WHERE action = ? AND actor_id = ?`, auditdomain.ActionWebhookRejected, "unknown"))
}
