package domain

import "errors"

var (
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrAccountNotFound     = errors.New("wallet_account_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrNegativeMainBalance = errors.New("negative_main_balance")
	ErrConcurrentUpdate    = errors.New("wallet_concurrent_update")
	ErrInvalidTopUpConfig  = errors.New("invalid_topup_config")
)
