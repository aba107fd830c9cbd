package payfast

import (
	"strings"

	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
)

// methodCodes maps checkout methods onto the gateway's preselection codes.
// Airtime has no code; the gateway then shows its own picker.
var methodCodes = map[paymentdomain.PaymentMethod]string{
	paymentdomain.MethodCard:        "cc",
	paymentdomain.MethodEFT:         "ef",
	paymentdomain.MethodStore:       "sc",
	paymentdomain.MethodPaymentPlan: "mt",
	paymentdomain.MethodQR:          "zp",
}

func (a *Adapter) BuildCheckout(req paymentdomain.CheckoutRequest) (*paymentdomain.Checkout, error) {
	record := req.Record
	if strings.TrimSpace(record.MerchantReference) == "" {
		return nil, paymentdomain.ErrMissingMerchantReference
	}
	if !record.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidTier
	}

	fields := map[string]string{
		"merchant_id":      a.merchantID,
		"merchant_key":     a.merchantKey,
		"return_url":       req.ReturnURL,
		"cancel_url":       req.CancelURL,
		"notify_url":       req.NotifyURL,
		"name_first":       req.Buyer.FirstName,
		"name_last":        req.Buyer.LastName,
		"email_address":    req.Buyer.Email,
		"m_payment_id":     record.MerchantReference,
		"amount":           record.Amount.StringFixed(2),
		"item_name":        req.ItemName,
		"item_description": req.ItemDescription,
	}
	for key, value := range req.Correlation.Encode() {
		fields[key] = value
	}
	if code, ok := methodCodes[req.Correlation.PaymentMethod]; ok {
		fields["payment_method"] = code
	}

	signature := Sign(fields, a.passphrase)
	url := a.processURL + "?" + canonicalQuery(fields) + "&" + signatureField + "=" + signature

	return &paymentdomain.Checkout{
		URL:       url,
		Fields:    fields,
		Signature: signature,
	}, nil
}
