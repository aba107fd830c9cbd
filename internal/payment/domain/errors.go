package domain

import "errors"

var (
	ErrInvalidTier              = errors.New("invalid_tier")
	ErrInvalidPaymentMethod     = errors.New("invalid_payment_method")
	ErrInvalidUserID            = errors.New("invalid_user_id")
	ErrUserNotFound             = errors.New("user_not_found")
	ErrInvalidProvider          = errors.New("invalid_provider")
	ErrProviderNotFound         = errors.New("provider_not_found")
	ErrInvalidConfig            = errors.New("invalid_provider_config")
	ErrInvalidPayload           = errors.New("invalid_payload")
	ErrUntrustedSource          = errors.New("untrusted_source")
	ErrInvalidSignature         = errors.New("invalid_signature")
	ErrValidationFailed         = errors.New("gateway_validation_failed")
	ErrMissingMerchantReference = errors.New("missing_merchant_reference")
	ErrPaymentNotFound          = errors.New("payment_not_found")
	ErrNotificationMismatch     = errors.New("notification_mismatch")
	ErrReconciliationInProgress = errors.New("reconciliation_in_progress")
	ErrInvalidTransition        = errors.New("invalid_transition")
)

