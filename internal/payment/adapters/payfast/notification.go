package payfast

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

func (a *Adapter) DecodeFields(body []byte) (map[string]string, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	fields := FieldsFromValues(values)
	if len(fields) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return fields, nil
}

func (a *Adapter) ParseNotification(fields map[string]string) (*paymentdomain.Notification, error) {
	reference := strings.TrimSpace(fields["m_payment_id"])
	if reference == "" {
		return nil, paymentdomain.ErrMissingMerchantReference
	}

	gross, err := parseAmount(fields["amount_gross"])
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(fields["amount_fee"])
	if err != nil {
		return nil, err
	}
	net, err := parseAmount(fields["amount_net"])
	if err != nil {
		return nil, err
	}

	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = v
	}

	return &paymentdomain.Notification{
		Provider:              ProviderName,
		MerchantReference:     reference,
		PaymentStatus:         strings.ToUpper(strings.TrimSpace(fields["payment_status"])),
		ProviderTransactionID: strings.TrimSpace(fields["pf_payment_id"]),
		Correlation:           paymentdomain.DecodeCorrelation(fields),
		AmountGross:           gross,
		AmountFee:             fee,
		AmountNet:             net,
		Fields:                raw,
	}, nil
}

func parseAmount(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, paymentdomain.ErrInvalidPayload
	}
	return decimal.NewNullDecimal(value), nil
}
