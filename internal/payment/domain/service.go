package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type ProcessPaymentRequest struct {
	InvoiceID    snowflake.ID
	Amount       int64
	Method       PaymentMethod
	Provider     string
	PaymentToken string
}

type RefundRequest struct {
	PaymentID snowflake.ID
	Amount    int64
	Reason    string
}

// Orchestrator coordinates wallets, invoices, and gateway adapters.
// Every ProcessPayment path resolves the Payment row to a terminal
// state; gateway failures are recorded, never retried internally.
type Orchestrator interface {
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*Payment, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)

	// ProcessEvent applies a normalized provider event exactly once;
	// replayed deliveries return ErrEventAlreadyProcessed and change
	// nothing.
	ProcessEvent(ctx context.Context, event *PaymentEvent, payload []byte) error

	// IngestWebhook verifies, parses, and applies one raw provider
	// delivery.
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error

	UpsertProviderConfig(ctx context.Context, provider string, config map[string]any, enabled bool) (*ProviderConfig, error)
}
