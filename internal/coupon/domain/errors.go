package domain

import "errors"

var (
	ErrInvalidCode     = errors.New("invalid_coupon_code")
	ErrInvalidValue    = errors.New("invalid_coupon_value")
	ErrInvalidType     = errors.New("invalid_coupon_type")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidSubtotal = errors.New("invalid_subtotal")
	ErrCouponNotFound  = errors.New("coupon_not_found")
	ErrUsageExhausted  = errors.New("coupon_usage_exhausted")
	ErrDuplicateCode   = errors.New("duplicate_coupon_code")
)
