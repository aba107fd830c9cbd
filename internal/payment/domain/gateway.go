package domain

import (
	"context"
	"time"
)

// AdapterConfig carries merchant credentials into a gateway adapter.
type AdapterConfig struct {
	Provider        string
	MerchantID      string
	MerchantKey     string
	Passphrase      string
	Sandbox         bool
	AllowedCIDRs    []string
	ValidateTimeout time.Duration
	// BaseURL overrides the gateway host, for tests.
	BaseURL string
}

type Buyer struct {
	FirstName string
	LastName  string
	Email     string
}

type CheckoutRequest struct {
	Record          PaymentRecord
	Buyer           Buyer
	Correlation     Correlation
	ItemName        string
	ItemDescription string
	ReturnURL       string
	CancelURL       string
	NotifyURL       string
}

type Checkout struct {
	URL       string
	Fields    map[string]string
	Signature string
}

// Gateway is a hosted-checkout payment provider.
type Gateway interface {
	Provider() string
	BuildCheckout(req CheckoutRequest) (*Checkout, error)
	TrustedSource(ip string) bool
	// DecodeFields parses the raw notification body into its form fields.
	DecodeFields(body []byte) (map[string]string, error)
	VerifySignature(fields map[string]string) error
	// ValidateNotification posts the raw body back to the gateway and
	// succeeds only on an explicit confirmation.
	ValidateNotification(ctx context.Context, body []byte) error
	ParseNotification(fields map[string]string) (*Notification, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}
