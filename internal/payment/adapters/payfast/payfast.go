package payfast

import (
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

const (
	ProviderName = "payfast"

	liveHost    = "https://www.payfast.co.za"
	sandboxHost = "https://sandbox.payfast.co.za"

	processPath  = "/eng/process"
	validatePath = "/eng/query/validate"

	defaultValidateTimeout = 10 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	merchantKey := strings.TrimSpace(cfg.MerchantKey)
	if merchantID == "" || merchantKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	allowed, err := newAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	host := liveHost
	if cfg.Sandbox {
		host = sandboxHost
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		host = base
	}

	timeout := cfg.ValidateTimeout
	if timeout <= 0 {
		timeout = defaultValidateTimeout
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetHeader("User-Agent", "admitpay-notify-validator")

	return &Adapter{
		merchantID:  merchantID,
		merchantKey: merchantKey,
		passphrase:  strings.TrimSpace(cfg.Passphrase),
		processURL:  host + processPath,
		allowed:     allowed,
		client:      client,
	}, nil
}

type Adapter struct {
	merchantID  string
	merchantKey string
	passphrase  string
	processURL  string
	allowed     *allowList
	client      *resty.Client
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) TrustedSource(ip string) bool {
	return a.allowed.Contains(ip)
}

func (a *Adapter) VerifySignature(fields map[string]string) error {
	if !Verify(fields, fields[signatureField], a.passphrase) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}
