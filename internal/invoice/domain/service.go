package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// LineInput describes one line of a new invoice.
type LineInput struct {
	Description    string
	Quantity       int64
	UnitAmount     int64
	Taxable        bool
	SubscriptionID *snowflake.ID
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// CreateRequest is the input to Create. Country/State/VATNumber and
// CustomerTaxExempt feed tax calculation; CouponCode is validated and
// consumed atomically with the insert.
type CreateRequest struct {
	CustomerID        snowflake.ID
	SubscriptionID    *snowflake.ID
	Currency          string
	Country           string
	State             string
	VATNumber         string
	CustomerTaxExempt bool
	CouponCode        string
	Items             []LineInput
	DueAt             *time.Time
}

// TaxProfile carries the customer facts tax calculation needs when a
// line is added outside the original create request.
type TaxProfile struct {
	Country        string
	State          string
	VATNumber      string
	CustomerExempt bool
}

// RefundAdjustment is applied to an invoice after a gateway or wallet
// refund settles.
type RefundAdjustment struct {
	InvoiceID snowflake.ID
	Amount    int64
}

// Service manages the invoice lifecycle.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	GetItems(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceItem, error)
	ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]Invoice, error)

	// MarkAsPaid records a payment against the invoice. Partial amounts
	// move the invoice to PARTIALLY_PAID; paying the full balance moves
	// it to PAID and stamps PaidAt.
	MarkAsPaid(ctx context.Context, id snowflake.ID, amount int64, paidAt time.Time) (*Invoice, error)

	// ApplyRefund reduces AmountPaid after a refund settles. A full
	// refund of a PAID invoice moves it to REFUNDED; anything less
	// moves it back to PARTIALLY_PAID.
	ApplyRefund(ctx context.Context, adj RefundAdjustment) (*Invoice, error)

	Cancel(ctx context.Context, id snowflake.ID, reason string) (*Invoice, error)

	// AddItem appends a line to a non-terminal, unpaid invoice and
	// recomputes totals preserving AmountPaid and DiscountAmount.
	AddItem(ctx context.Context, invoiceID snowflake.ID, item LineInput, profile TaxProfile) (*Invoice, error)

	// MarkOverdue flips unpaid invoices past due into OVERDUE and
	// returns the ones transitioned.
	MarkOverdue(ctx context.Context, now time.Time, limit int) ([]Invoice, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Invoice, error)
}
