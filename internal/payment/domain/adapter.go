package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// AdapterConfig carries the provider credentials and call bounds an
// adapter is constructed with.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
	Timeout  time.Duration
}

// CreateOutcome partitions the result of CreatePayment.
type CreateOutcome string

const (
	OutcomeSucceeded      CreateOutcome = "succeeded"
	OutcomeRequiresAction CreateOutcome = "requires_action"
	OutcomeFailed         CreateOutcome = "failed"
)

type CreatePaymentRequest struct {
	InvoiceID    snowflake.ID
	CustomerID   snowflake.ID
	Amount       int64
	Currency     string
	Reference    string
	PaymentToken string
}

// CreatePaymentResult reports one of three outcomes. ActionData is
// provider specific (redirect URL, client secret, challenge payload)
// and only set for requires_action. FailureCode preserves the
// provider's own error code.
type CreatePaymentResult struct {
	Outcome           CreateOutcome
	ProviderPaymentID string
	ActionData        map[string]string
	FailureCode       string
	FailureMessage    string
}

type RefundPaymentRequest struct {
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
}

type RefundPaymentResult struct {
	ProviderRefundID string
	Succeeded        bool
	FailureCode      string
	FailureMessage   string
}

// Adapter is the capability contract every gateway implements. Each
// adapter owns its provider's request signing and webhook signature
// scheme; the byte-level contracts must match the provider exactly or
// verification silently fails.
type Adapter interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	CapturePayment(ctx context.Context, providerPaymentID string) (*CreatePaymentResult, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*RefundPaymentResult, error)
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (PaymentStatus, error)
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhook(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// AdapterFactory constructs adapters for one provider id.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
