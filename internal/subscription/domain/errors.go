package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidCycle         = errors.New("invalid_billing_cycle")
	ErrStateConflict        = errors.New("subscription_state_conflict")
	ErrCurrencyMismatch     = errors.New("plan_currency_mismatch")
)
