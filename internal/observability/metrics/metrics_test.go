package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "payfast"),
		attribute.String("merchant_reference", "PAY-1"),
		attribute.String("user_id", "u-1"),
		attribute.String("tier", "basic"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "merchant_reference" || attr.Key == "user_id" {
			t.Fatalf("high-cardinality label %s must be dropped", attr.Key)
		}
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "admitpay"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordSessionCreated(ctx, "payfast", "basic", "card")
	m.RecordWebhook(ctx, "payfast", "verified")
	m.RecordReconciliation(ctx, "payfast", "paid")
	m.RecordRateLimitAllowed(ctx, "/api/payments/sessions")
	m.RecordRateLimitDenied(ctx, "/api/payments/sessions", "blocked")

	var nilMetrics *Metrics
	nilMetrics.RecordWebhook(ctx, "payfast", "rejected")
}
