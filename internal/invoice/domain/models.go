// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states. Transitions move
// forward only; CANCELLED and REFUNDED are terminal.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusPending       InvoiceStatus = "PENDING"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
	InvoiceStatusRefunded      InvoiceStatus = "REFUNDED"
)

// statusRank orders the forward-only lifecycle. Terminal states rank
// highest; a transition to a lower or equal rank is rejected except for
// the PARTIALLY_PAID/OVERDUE oscillation handled in the service.
var statusRank = map[InvoiceStatus]int{
	InvoiceStatusDraft:         0,
	InvoiceStatusPending:       1,
	InvoiceStatusPartiallyPaid: 2,
	InvoiceStatusOverdue:       2,
	InvoiceStatusPaid:          3,
	InvoiceStatusCancelled:     4,
	InvoiceStatusRefunded:      4,
}

// Terminal reports whether no further transitions are allowed.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusCancelled || s == InvoiceStatusRefunded
}

// CanTransitionTo enforces forward-only movement.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	if s.Terminal() {
		return false
	}
	current, okCurrent := statusRank[s]
	target, okNext := statusRank[next]
	if !okCurrent || !okNext {
		return false
	}
	if s == InvoiceStatusOverdue && next == InvoiceStatusPartiallyPaid {
		return true
	}
	return target > current
}

// Payable reports whether the invoice can still accept payment.
func (s InvoiceStatus) Payable() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartiallyPaid, InvoiceStatusOverdue:
		return true
	}
	return false
}

// Invoice is an invoice header. All amounts are minor currency units.
// TotalAmount == SubtotalAmount + TaxAmount − DiscountAmount and
// BalanceAmount == TotalAmount − AmountPaid at every observation point.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	InvoiceNumber  string        `gorm:"type:text;not null;uniqueIndex"`
	CustomerID     snowflake.ID  `gorm:"not null;index"`
	SubscriptionID *snowflake.ID `gorm:"index"`
	Currency       string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'PENDING';index"`
	SubtotalAmount int64         `gorm:"not null;default:0"`
	TaxAmount      int64         `gorm:"not null;default:0"`
	DiscountAmount int64         `gorm:"not null;default:0"`
	TotalAmount    int64         `gorm:"not null;default:0"`
	AmountPaid     int64         `gorm:"not null;default:0"`
	BalanceAmount  int64         `gorm:"not null;default:0"`
	CouponCode     string        `gorm:"type:text"`
	DueAt          *time.Time    `gorm:"index"`
	PaidAt         *time.Time    `gorm:""`
	CancelReason   string        `gorm:"type:text"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a line on an invoice.
type InvoiceItem struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	InvoiceID      snowflake.ID  `gorm:"not null;index"`
	SubscriptionID *snowflake.ID `gorm:"index"`
	Description    string        `gorm:"type:text;not null"`
	Quantity       int64         `gorm:"not null;default:1"`
	UnitAmount     int64         `gorm:"not null"`
	Taxable        bool          `gorm:"not null;default:true"`
	TaxAmount      int64         `gorm:"not null;default:0"`
	SubtotalAmount int64         `gorm:"not null"`
	TotalAmount    int64         `gorm:"not null"`
	PeriodStart    *time.Time    `gorm:""`
	PeriodEnd      *time.Time    `gorm:""`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// Sequence is the monotonic per-month invoice number counter. One row
// per calendar month, advanced under the insert transaction; this
// replaces derive-from-max numbering which races under concurrency.
type Sequence struct {
	Period    string    `gorm:"primaryKey;type:text"` // YYYYMM
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Sequence) TableName() string { return "invoice_sequences" }
