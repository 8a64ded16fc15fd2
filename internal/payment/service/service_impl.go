package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/notify"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/payment/router"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Router   *router.Router
	Wallet   walletdomain.Service
	Invoices invoicedomain.Service
	Notifier notify.Notifier
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	router   *router.Router
	wallet   walletdomain.Service
	invoices invoicedomain.Service
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func NewService(p Params) paymentdomain.Orchestrator {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		router:   p.Router,
		wallet:   p.Wallet,
		invoices: p.Invoices,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) ProcessPayment(ctx context.Context, req paymentdomain.ProcessPaymentRequest) (*paymentdomain.Payment, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	inv, err := s.invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.Status.Payable() {
		return nil, invoicedomain.ErrStateConflict
	}
	if req.Amount > inv.BalanceAmount {
		return nil, paymentdomain.ErrAmountExceedsBalance
	}

	if req.Method == paymentdomain.MethodWallet {
		return s.processWalletPayment(ctx, inv, req.Amount)
	}
	return s.processGatewayPayment(ctx, inv, req)
}

// processWalletPayment settles from the ledger with no network hop. The
// Payment row is written after the debit succeeds; a failed debit
// leaves no payment attempt behind. The wallet and invoice services run
// their own transactions, so a debit whose invoice absorption is then
// rejected (a concurrent payment won the balance) is compensated by
// crediting the amount back and failing the attempt.
func (s *Service) processWalletPayment(ctx context.Context, inv *invoicedomain.Invoice, amount int64) (*paymentdomain.Payment, error) {
	_, err := s.wallet.Debit(ctx, walletdomain.DebitRequest{
		CustomerID:  inv.CustomerID,
		Amount:      amount,
		Type:        walletdomain.TransactionTypeDebit,
		Description: "invoice payment",
		Reference:   inv.InvoiceNumber,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:         s.genID.Generate(),
		InvoiceID:  inv.ID,
		CustomerID: inv.CustomerID,
		Provider:   "manual",
		Method:     paymentdomain.MethodWallet,
		Amount:     amount,
		Currency:   inv.Currency,
		Status:     paymentdomain.PaymentStatusCompleted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		s.reverseWalletDebit(ctx, inv, amount)
		return nil, err
	}

	if _, err := s.invoices.MarkAsPaid(ctx, inv.ID, amount, now); err != nil {
		s.reverseWalletDebit(ctx, inv, amount)
		if failErr := s.failPayment(ctx, &payment, "absorption_rejected", err.Error()); failErr != nil {
			s.log.Error("failed to fail compensated wallet payment",
				zap.String("payment_id", payment.ID.String()), zap.Error(failErr))
		}
		s.notifyPayment(ctx, &payment, notify.EventPaymentFailed)
		return nil, err
	}

	s.notifyPayment(ctx, &payment, notify.EventPaymentCompleted)
	return &payment, nil
}

// reverseWalletDebit returns funds taken for a payment whose settlement
// could not complete. The credit carries the invoice reference so the
// ledger shows the round trip.
func (s *Service) reverseWalletDebit(ctx context.Context, inv *invoicedomain.Invoice, amount int64) {
	_, err := s.wallet.Credit(ctx, walletdomain.CreditRequest{
		CustomerID:  inv.CustomerID,
		Amount:      amount,
		Tier:        walletdomain.TierMain,
		Type:        walletdomain.TransactionTypeRefund,
		Description: "payment reversal",
		Reference:   inv.InvoiceNumber,
	})
	if err != nil {
		s.log.Error("wallet debit reversal failed",
			zap.String("customer_id", inv.CustomerID.String()),
			zap.Int64("amount", amount), zap.Error(err))
	}
}

func (s *Service) processGatewayPayment(ctx context.Context, inv *invoicedomain.Invoice, req paymentdomain.ProcessPaymentRequest) (*paymentdomain.Payment, error) {
	adapter, provider, err := s.router.Resolve(ctx, req.Provider)
	if err != nil {
		return nil, err
	}

	// The PENDING row exists before any network call so a crash still
	// leaves an attempt to reconcile.
	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:         s.genID.Generate(),
		InvoiceID:  inv.ID,
		CustomerID: inv.CustomerID,
		Provider:   provider,
		Method:     paymentdomain.MethodGateway,
		Amount:     req.Amount,
		Currency:   inv.Currency,
		Status:     paymentdomain.PaymentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}

	result, callErr := s.createWithRecovery(ctx, adapter, provider, paymentdomain.CreatePaymentRequest{
		InvoiceID:    inv.ID,
		CustomerID:   inv.CustomerID,
		Amount:       req.Amount,
		Currency:     inv.Currency,
		Reference:    fmt.Sprintf("%s:%s", inv.InvoiceNumber, payment.ID.String()),
		PaymentToken: req.PaymentToken,
	})
	if callErr != nil {
		code := "gateway_error"
		message := callErr.Error()
		var gatewayErr *paymentdomain.GatewayError
		if errors.As(callErr, &gatewayErr) {
			code = gatewayErr.Code
			message = gatewayErr.Message
		}
		if err := s.failPayment(ctx, &payment, code, message); err != nil {
			return nil, err
		}
		s.notifyPayment(ctx, &payment, notify.EventPaymentFailed)
		return &payment, callErr
	}

	switch result.Outcome {
	case paymentdomain.OutcomeSucceeded:
		if err := s.completePayment(ctx, &payment, result.ProviderPaymentID); err != nil {
			return nil, err
		}
		if _, err := s.invoices.MarkAsPaid(ctx, inv.ID, payment.Amount, s.clock.Now()); err != nil {
			return nil, err
		}
		s.notifyPayment(ctx, &payment, notify.EventPaymentCompleted)

	case paymentdomain.OutcomeRequiresAction:
		// Stays PENDING; the provider webhook settles it.
		payment.ProviderPaymentID = result.ProviderPaymentID
		payment.UpdatedAt = s.clock.Now()
		if err := s.db.WithContext(ctx).Save(&payment).Error; err != nil {
			return nil, err
		}

	default:
		if err := s.failPayment(ctx, &payment, result.FailureCode, result.FailureMessage); err != nil {
			return nil, err
		}
		payment.ProviderPaymentID = result.ProviderPaymentID
		s.notifyPayment(ctx, &payment, notify.EventPaymentFailed)
	}

	return &payment, nil
}

// createWithRecovery converts a panicking adapter into a failed call so
// the payment row still reaches a terminal state.
func (s *Service) createWithRecovery(ctx context.Context, adapter paymentdomain.Adapter, provider string, req paymentdomain.CreatePaymentRequest) (result *paymentdomain.CreatePaymentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("gateway adapter panicked", zap.String("provider", provider), zap.Any("panic", r))
			result = nil
			err = &paymentdomain.GatewayError{Provider: provider, Code: "adapter_panic", Message: fmt.Sprint(r)}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.router.Timeout())
	defer cancel()
	return adapter.CreatePayment(callCtx, req)
}

func (s *Service) completePayment(ctx context.Context, payment *paymentdomain.Payment, providerPaymentID string) error {
	payment.Status = paymentdomain.PaymentStatusCompleted
	payment.ProviderPaymentID = providerPaymentID
	payment.UpdatedAt = s.clock.Now()
	return s.db.WithContext(ctx).Save(payment).Error
}

func (s *Service) failPayment(ctx context.Context, payment *paymentdomain.Payment, code, message string) error {
	payment.Status = paymentdomain.PaymentStatusFailed
	payment.FailureCode = code
	payment.FailureMessage = message
	payment.UpdatedAt = s.clock.Now()
	return s.db.WithContext(ctx).Save(payment).Error
}

func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.Refund, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	payment, err := s.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case paymentdomain.PaymentStatusCompleted, paymentdomain.PaymentStatusPartiallyRefunded:
	default:
		return nil, paymentdomain.ErrPaymentNotRefundable
	}
	if req.Amount > payment.Amount-payment.RefundedAmount {
		return nil, paymentdomain.ErrRefundExceedsPayment
	}

	now := s.clock.Now()
	refund := paymentdomain.Refund{
		ID:        s.genID.Generate(),
		PaymentID: payment.ID,
		Amount:    req.Amount,
		Status:    paymentdomain.RefundStatusPending,
		Reason:    req.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&refund).Error; err != nil {
		return nil, err
	}

	providerRefundID := ""
	if payment.Method == paymentdomain.MethodGateway {
		adapter, _, err := s.router.Resolve(ctx, payment.Provider)
		if err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.router.Timeout())
		result, callErr := adapter.RefundPayment(callCtx, paymentdomain.RefundPaymentRequest{
			ProviderPaymentID: payment.ProviderPaymentID,
			Amount:            req.Amount,
			Currency:          payment.Currency,
			Reason:            req.Reason,
		})
		cancel()
		if callErr != nil || !result.Succeeded {
			refund.Status = paymentdomain.RefundStatusFailed
			refund.UpdatedAt = s.clock.Now()
			if err := s.db.WithContext(ctx).Save(&refund).Error; err != nil {
				return nil, err
			}
			if callErr != nil {
				return &refund, callErr
			}
			return &refund, &paymentdomain.GatewayError{
				Provider: payment.Provider,
				Code:     result.FailureCode,
				Message:  result.FailureMessage,
			}
		}
		providerRefundID = result.ProviderRefundID
	}

	if err := s.settleRefund(ctx, payment, &refund, providerRefundID); err != nil {
		return nil, err
	}
	return &refund, nil
}

// settleRefund applies the money movement once the provider (or the
// no-network wallet path) has accepted the refund: refund row completed,
// payment counters advanced, wallet credited back for wallet payments,
// invoice balance reopened.
func (s *Service) settleRefund(ctx context.Context, payment *paymentdomain.Payment, refund *paymentdomain.Refund, providerRefundID string) error {
	now := s.clock.Now()

	refund.Status = paymentdomain.RefundStatusCompleted
	refund.ProviderRefundID = providerRefundID
	refund.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(refund).Error; err != nil {
		return err
	}

	payment.RefundedAmount += refund.Amount
	if payment.RefundedAmount >= payment.Amount {
		payment.Status = paymentdomain.PaymentStatusRefunded
	} else {
		payment.Status = paymentdomain.PaymentStatusPartiallyRefunded
	}
	payment.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(payment).Error; err != nil {
		return err
	}

	if payment.Method == paymentdomain.MethodWallet {
		_, err := s.wallet.Credit(ctx, walletdomain.CreditRequest{
			CustomerID:  payment.CustomerID,
			Amount:      refund.Amount,
			Tier:        walletdomain.TierMain,
			Type:        walletdomain.TransactionTypeRefund,
			Description: "payment refund",
			Reference:   refund.ID.String(),
		})
		if err != nil {
			return err
		}
	}

	if _, err := s.invoices.ApplyRefund(ctx, invoicedomain.RefundAdjustment{
		InvoiceID: payment.InvoiceID,
		Amount:    refund.Amount,
	}); err != nil {
		return err
	}

	s.log.Info("refund settled",
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount", refund.Amount),
		zap.String("status", string(payment.Status)),
	)
	return nil
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentdomain.ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		CustomerID:      event.CustomerID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.insertEvent(ctx, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.loadEvent(ctx, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.applyEvent(ctx, event); err != nil {
		return err
	}

	if err := s.markProcessed(ctx, stored.ID, now); err != nil {
		return err
	}

	if inserted {
		s.metrics.RecordPaymentEvent(event.Provider, event.Type)
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.CustomerID == 0 {
		return paymentdomain.ErrInvalidCustomer
	}
	currency := strings.TrimSpace(event.Currency)
	if currency == "" {
		return paymentdomain.ErrInvalidCurrency
	}
	event.Currency = strings.ToUpper(currency)
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypeRefunded:
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

// applyEvent transitions the payment keyed by the provider transaction
// id. Each branch checks persisted state first so redelivery and
// reordering cannot apply money twice.
func (s *Service) applyEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	payment, err := s.findByProviderRef(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Warn("provider event without matching payment",
			zap.String("provider", event.Provider),
			zap.String("provider_payment_id", event.ProviderPaymentID),
		)
		return nil
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if payment.Status != paymentdomain.PaymentStatusPending {
			return nil
		}
		if err := s.completePayment(ctx, payment, event.ProviderPaymentID); err != nil {
			return err
		}
		if _, err := s.invoices.MarkAsPaid(ctx, payment.InvoiceID, payment.Amount, event.OccurredAt); err != nil {
			return err
		}
		s.notifyPayment(ctx, payment, notify.EventPaymentCompleted)
		return nil

	case paymentdomain.EventTypePaymentFailed:
		if payment.Status != paymentdomain.PaymentStatusPending {
			return nil
		}
		if err := s.failPayment(ctx, payment, "provider_reported", "provider reported failure"); err != nil {
			return err
		}
		s.notifyPayment(ctx, payment, notify.EventPaymentFailed)
		return nil

	case paymentdomain.EventTypeRefunded:
		// The provider reports the cumulative refunded amount; only the
		// delta beyond what is already recorded moves money.
		delta := event.Amount - payment.RefundedAmount
		if delta <= 0 {
			return nil
		}
		if delta > payment.Amount-payment.RefundedAmount {
			delta = payment.Amount - payment.RefundedAmount
		}
		refund := paymentdomain.Refund{
			ID:        s.genID.Generate(),
			PaymentID: payment.ID,
			Amount:    delta,
			Status:    paymentdomain.RefundStatusPending,
			Reason:    "provider initiated",
			CreatedAt: s.clock.Now(),
			UpdatedAt: s.clock.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&refund).Error; err != nil {
			return err
		}
		return s.settleRefund(ctx, payment, &refund, event.ProviderEventID)
	}
	return nil
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, provider, err := s.router.Resolve(ctx, provider)
	if err != nil {
		return err
	}
	if err := adapter.VerifyWebhook(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.ParseWebhook(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider

	if err := s.ProcessEvent(ctx, event, payload); err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) UpsertProviderConfig(ctx context.Context, provider string, config map[string]any, enabled bool) (*paymentdomain.ProviderConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}

	now := s.clock.Now()
	var row paymentdomain.ProviderConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("provider = ?", provider).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = paymentdomain.ProviderConfig{
				ID:        s.genID.Generate(),
				Provider:  provider,
				Config:    datatypes.JSONMap(config),
				Enabled:   enabled,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		row.Config = datatypes.JSONMap(config)
		row.Enabled = enabled
		row.UpdatedAt = now
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, err
	}

	s.router.Invalidate(provider)
	return &row, nil
}

func (s *Service) findByProviderRef(ctx context.Context, provider, providerPaymentID string) (*paymentdomain.Payment, error) {
	if strings.TrimSpace(providerPaymentID) == "" {
		return nil, nil
	}
	var payment paymentdomain.Payment
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		Take(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (s *Service) insertEvent(ctx context.Context, event *paymentdomain.EventRecord) (bool, error) {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) loadEvent(ctx context.Context, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	var record paymentdomain.EventRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) markProcessed(ctx context.Context, id snowflake.ID, processedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&paymentdomain.EventRecord{}).
		Where("id = ?", id).
		Update("processed_at", processedAt).Error
}

func (s *Service) notifyPayment(ctx context.Context, payment *paymentdomain.Payment, eventType string) {
	s.notifier.Notify(ctx, notify.Event{
		Type:       eventType,
		CustomerID: payment.CustomerID.String(),
		Reference:  payment.ID.String(),
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		OccurredAt: s.clock.Now(),
		Detail:     map[string]string{"provider": payment.Provider},
	})
}
