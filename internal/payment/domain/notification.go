package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	fieldUserID        = "custom_str1"
	fieldTier          = "custom_str2"
	fieldTrackingID    = "custom_str3"
	fieldPaymentMethod = "custom_str4"
)

// Correlation is the context carried opaquely through the gateway and
// returned on the notification.
type Correlation struct {
	UserID        string
	Tier          Tier
	TrackingID    string
	PaymentMethod PaymentMethod
}

// Encode returns the gateway custom fields. Empty values are omitted.
func (c Correlation) Encode() map[string]string {
	out := make(map[string]string, 4)
	put := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out[key] = value
		}
	}
	put(fieldUserID, c.UserID)
	put(fieldTier, string(c.Tier))
	put(fieldTrackingID, c.TrackingID)
	put(fieldPaymentMethod, string(c.PaymentMethod))
	return out
}

// DecodeCorrelation reads the custom fields back. Unknown tier or method
// values are dropped rather than trusted.
func DecodeCorrelation(fields map[string]string) Correlation {
	c := Correlation{
		UserID:     strings.TrimSpace(fields[fieldUserID]),
		TrackingID: strings.TrimSpace(fields[fieldTrackingID]),
	}
	if tier, ok := ParseTier(fields[fieldTier]); ok {
		c.Tier = tier
	}
	if method, ok := ParsePaymentMethod(fields[fieldPaymentMethod]); ok {
		c.PaymentMethod = method
	}
	return c
}

// Notification is a verified gateway callback.
type Notification struct {
	Provider              string
	MerchantReference     string
	PaymentStatus         string
	ProviderTransactionID string
	Correlation           Correlation
	AmountGross           decimal.NullDecimal
	AmountFee             decimal.NullDecimal
	AmountNet             decimal.NullDecimal
	Fields                map[string]string
	SourceIP              string
}

const PaymentStatusComplete = "COMPLETE"

// IsComplete reports whether the gateway settled the payment.
func (n *Notification) IsComplete() bool {
	return n != nil && strings.EqualFold(strings.TrimSpace(n.PaymentStatus), PaymentStatusComplete)
}

// TargetStatus maps the gateway status onto the record state machine.
func (n *Notification) TargetStatus() Status {
	if n.IsComplete() {
		return StatusPaid
	}
	return StatusFailed
}

// Payload returns the raw fields for forensic storage.
func (n *Notification) Payload() map[string]any {
	out := make(map[string]any, len(n.Fields))
	for k, v := range n.Fields {
		out[k] = v
	}
	return out
}
