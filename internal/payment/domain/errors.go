package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_provider_config")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrAmountExceedsBalance  = errors.New("amount_exceeds_invoice_balance")
	ErrRefundExceedsPayment  = errors.New("refund_exceeds_refundable_amount")
	ErrPaymentNotRefundable  = errors.New("payment_not_refundable")
)

// GatewayError preserves the provider's own error code alongside the
// failed call.
type GatewayError struct {
	Provider string
	Code     string
	Message  string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return "gateway " + e.Provider + ": " + e.Code + ": " + e.Message
	}
	return "gateway " + e.Provider + ": " + e.Message
}
