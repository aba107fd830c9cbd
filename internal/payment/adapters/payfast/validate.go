package payfast

import (
	"context"
	"fmt"
	"strings"

	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

const validResponse = "VALID"

// ValidateNotification echoes the exact notification body to the gateway.
// Anything other than a literal VALID, including timeouts, is a failure.
func (a *Adapter) ValidateNotification(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return paymentdomain.ErrInvalidPayload
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post(validatePath)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrValidationFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d", paymentdomain.ErrValidationFailed, resp.StatusCode())
	}
	if strings.TrimSpace(resp.String()) != validResponse {
		return paymentdomain.ErrValidationFailed
	}
	return nil
}
