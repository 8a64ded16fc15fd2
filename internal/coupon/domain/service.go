package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service validates and redeems coupons. Validation never mutates;
// ApplyTx runs inside the caller's transaction so a redemption commits
// only with the invoice it supports.
type Service interface {
	Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error)

	// ApplyTx records a redemption and increments the usage counter
	// inside tx. The counter update is guarded against the global cap so
	// two concurrent redemptions cannot both take the last use.
	ApplyTx(ctx context.Context, tx *gorm.DB, couponID, customerID, invoiceID snowflake.ID, discountAmount int64) error

	Create(ctx context.Context, coupon Coupon) (*Coupon, error)
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	Deactivate(ctx context.Context, code string) error

	// ExpireDue marks ACTIVE coupons whose validity window has passed as
	// EXPIRED. Idempotent; invoked by the scheduler.
	ExpireDue(ctx context.Context) (int64, error)
}

type ValidateRequest struct {
	Code       string
	CustomerID snowflake.ID
	Subtotal   int64
	ProductIDs []string
}

// ValidationResult reports the outcome of the guard chain. Reason is a
// user-facing, failure-specific string; it is empty when Valid.
type ValidationResult struct {
	Valid    bool
	Reason   string
	Coupon   *Coupon
	Discount int64
}
