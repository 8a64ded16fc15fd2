// Package manual is the no-network ledger adapter used for
// wallet-funded and admin-recorded payments.
package manual

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "manual"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	return &Adapter{}, nil
}

// Adapter succeeds locally; the money movement already happened in the
// wallet or at an admin's direction, this records a reference for it.
type Adapter struct{}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return &domain.CreatePaymentResult{
		Outcome:           domain.OutcomeSucceeded,
		ProviderPaymentID: "manual_" + uuid.NewString(),
	}, nil
}

func (a *Adapter) CapturePayment(ctx context.Context, providerPaymentID string) (*domain.CreatePaymentResult, error) {
	return &domain.CreatePaymentResult{
		Outcome:           domain.OutcomeSucceeded,
		ProviderPaymentID: providerPaymentID,
	}, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundPaymentRequest) (*domain.RefundPaymentResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return &domain.RefundPaymentResult{
		ProviderRefundID: "manual_re_" + uuid.NewString(),
		Succeeded:        true,
	}, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (domain.PaymentStatus, error) {
	return domain.PaymentStatusCompleted, nil
}

// VerifyWebhook always rejects; the manual provider has no webhook
// source.
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return domain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.PaymentEvent, error) {
	return nil, domain.ErrEventIgnored
}
