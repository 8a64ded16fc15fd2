package domain

import "context"

// Calculator computes tax for an invoice line or subtotal.
type Calculator interface {
	Calculate(ctx context.Context, req CalculateRequest) (*Result, error)
}

// Service adds rule administration on top of calculation.
type Service interface {
	Calculator

	CreateRule(ctx context.Context, rule Rule) (*Rule, error)
	UpdateRule(ctx context.Context, rule Rule) (*Rule, error)
	DisableRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, country string) ([]Rule, error)
}

type CalculateRequest struct {
	Subtotal  int64
	Country   string
	State     string
	IsExempt  bool
	VATNumber string
}
