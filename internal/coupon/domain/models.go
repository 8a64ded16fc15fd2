// Package domain contains coupon persistence models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CouponType determines how the discount is computed.
type CouponType string

const (
	TypePercentage   CouponType = "PERCENTAGE"
	TypeFixed        CouponType = "FIXED"
	TypeFreeShipping CouponType = "FREE_SHIPPING"
)

// CouponStatus is the administrative state of a coupon.
type CouponStatus string

const (
	StatusActive   CouponStatus = "ACTIVE"
	StatusInactive CouponStatus = "INACTIVE"
	StatusExpired  CouponStatus = "EXPIRED"
)

// Coupon is a discount definition. Value is a whole percentage for
// PERCENTAGE coupons and minor currency units for FIXED coupons.
type Coupon struct {
	ID                snowflake.ID                 `gorm:"primaryKey"`
	Code              string                       `gorm:"type:text;not null;uniqueIndex"`
	Type              CouponType                   `gorm:"type:text;not null"`
	Status            CouponStatus                 `gorm:"type:text;not null;default:'ACTIVE';index"`
	Value             int64                        `gorm:"not null"`
	MinOrderAmount    int64                        `gorm:"not null;default:0"`
	MaxDiscountAmount int64                        `gorm:"not null;default:0"`
	MaxUses           int64                        `gorm:"not null;default:0"`
	MaxUsesPerUser    int64                        `gorm:"not null;default:0"`
	UsedCount         int64                        `gorm:"not null;default:0"`
	EligibleProducts  datatypes.JSONSlice[string]  `gorm:"type:jsonb"`
	ExcludedProducts  datatypes.JSONSlice[string]  `gorm:"type:jsonb"`
	EligibleUsers     datatypes.JSONSlice[string]  `gorm:"type:jsonb"`
	StartsAt          *time.Time                   `gorm:""`
	ExpiresAt         *time.Time                   `gorm:"index"`
	CreatedAt         time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// Redemption records one successful coupon use. Append-only; read back
// for per-user usage caps.
type Redemption struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	CouponID       snowflake.ID `gorm:"not null;index"`
	CustomerID     snowflake.ID `gorm:"not null;index"`
	InvoiceID      snowflake.ID `gorm:"not null;index"`
	DiscountAmount int64        `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Redemption) TableName() string { return "coupon_redemptions" }
