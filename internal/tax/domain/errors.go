package domain

import "errors"

var (
	ErrInvalidCountry  = errors.New("invalid_country")
	ErrInvalidRate     = errors.New("invalid_tax_rate")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidSubtotal = errors.New("invalid_subtotal")
	ErrRuleNotFound    = errors.New("tax_rule_not_found")
)
