package domain

import "errors"

var (
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrNoItems           = errors.New("invoice_requires_items")
	ErrInvalidItem       = errors.New("invalid_invoice_item")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrStateConflict     = errors.New("invoice_state_conflict")
	ErrInvalidPayment    = errors.New("invalid_payment_amount")
	ErrOverpayment       = errors.New("payment_exceeds_balance")
	ErrRefundExceedsPaid = errors.New("refund_exceeds_amount_paid")
	ErrCouponRejected    = errors.New("coupon_rejected")
)

// CouponRejectedError wraps ErrCouponRejected with the human readable
// reason produced by coupon validation.
type CouponRejectedError struct {
	Code   string
	Reason string
}

func (e *CouponRejectedError) Error() string {
	return "coupon_rejected: " + e.Reason
}

func (e *CouponRejectedError) Unwrap() error { return ErrCouponRejected }
