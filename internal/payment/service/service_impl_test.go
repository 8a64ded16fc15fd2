package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	couponservice "github.com/smallbiznis/billingcore/internal/coupon/service"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/billingcore/internal/invoice/service"
	"github.com/smallbiznis/billingcore/internal/notify"
	"github.com/smallbiznis/billingcore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/payment/router"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	taxservice "github.com/smallbiznis/billingcore/internal/tax/service"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	walletservice "github.com/smallbiznis/billingcore/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type scriptedFactory struct {
	adapter *scriptedAdapter
}

func (f *scriptedFactory) Provider() string { return "testpay" }

func (f *scriptedFactory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	return f.adapter, nil
}

type scriptedAdapter struct {
	createResult  *paymentdomain.CreatePaymentResult
	createErr     error
	panicOnCreate bool
	refundResult  *paymentdomain.RefundPaymentResult
	refundErr     error
}

func (a *scriptedAdapter) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
	if a.panicOnCreate {
		panic("provider SDK blew up")
	}
	return a.createResult, a.createErr
}

func (a *scriptedAdapter) CapturePayment(ctx context.Context, providerPaymentID string) (*paymentdomain.CreatePaymentResult, error) {
	return a.createResult, a.createErr
}

func (a *scriptedAdapter) RefundPayment(ctx context.Context, req paymentdomain.RefundPaymentRequest) (*paymentdomain.RefundPaymentResult, error) {
	return a.refundResult, a.refundErr
}

func (a *scriptedAdapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (paymentdomain.PaymentStatus, error) {
	return paymentdomain.PaymentStatusPending, nil
}

func (a *scriptedAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (a *scriptedAdapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type captureNotifier struct {
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, event notify.Event) {
	c.events = append(c.events, event)
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	clock    *clock.FakeClock
	wallet   walletdomain.Service
	invoices invoicedomain.Service
	adapter  *scriptedAdapter
	notified *captureNotifier
	node     *snowflake.Node
	router   *router.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&walletdomain.Account{},
		&walletdomain.Transaction{},
		&walletdomain.TopUpConfig{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.Sequence{},
		&coupondomain.Coupon{},
		&coupondomain.Redemption{},
		&taxdomain.Rule{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&paymentdomain.EventRecord{},
		&paymentdomain.ProviderConfig{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	billing, err := config.NewBillingConfigHolder()
	require.NoError(t, err)

	walletSvc := walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node})
	taxSvc := taxservice.NewService(taxservice.Params{DB: db, Log: log, GenID: node, Billing: billing})
	couponSvc := couponservice.NewService(couponservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	notified := &captureNotifier{}
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Billing: billing,
		Tax: taxSvc, Coupons: couponSvc, Notifier: notified,
	})

	adapter := &scriptedAdapter{}
	registry := adapters.NewRegistry(&scriptedFactory{adapter: adapter})
	rt := router.NewRouter(router.Params{
		DB: db, Log: log, Registry: registry,
		Cfg: config.Config{GatewayTimeoutSeconds: 5, DefaultGatewayProvider: "testpay"},
	})

	require.NoError(t, db.Create(&paymentdomain.ProviderConfig{
		ID:        node.Generate(),
		Provider:  "testpay",
		Config:    datatypes.JSONMap{"api_key": "test"},
		Enabled:   true,
		CreatedAt: fake.Now(),
		UpdatedAt: fake.Now(),
	}).Error)

	svc := NewService(Params{
		DB: db, Log: log, GenID: node, Clock: fake,
		Router: rt, Wallet: walletSvc, Invoices: invoiceSvc, Notifier: notified,
	}).(*Service)

	return &fixture{
		svc: svc, db: db, clock: fake, wallet: walletSvc,
		invoices: invoiceSvc, adapter: adapter, notified: notified, node: node,
		router: rt,
	}
}

// newInvoice issues an untaxed USD invoice so amounts stay round.
func (f *fixture) newInvoice(t *testing.T, customerID snowflake.ID, amount int64) *invoicedomain.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), invoicedomain.CreateRequest{
		CustomerID: customerID,
		Currency:   "USD",
		Country:    "US",
		Items:      []invoicedomain.LineInput{{Description: "Plan", Quantity: 1, UnitAmount: amount, Taxable: true}},
	})
	require.NoError(t, err)
	require.Equal(t, amount, inv.TotalAmount)
	return inv
}

func TestProcessPayment_WalletMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.node.Generate()

	_, err := f.wallet.Credit(ctx, walletdomain.CreditRequest{
		CustomerID: customerID, Amount: 5000, Tier: walletdomain.TierMain,
		Type: walletdomain.TransactionTypeCredit, Description: "seed",
	})
	require.NoError(t, err)

	inv := f.newInvoice(t, customerID, 3000)

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, paymentdomain.MethodWallet, payment.Method)

	paid, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)

	account, err := f.wallet.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), account.TotalBalance)
}

func TestProcessPayment_WalletInsufficient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.node.Generate()
	inv := f.newInvoice(t, customerID, 3000)

	_, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodWallet,
	})
	require.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	unchanged, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, unchanged.Status)
}

// racingInvoices settles the invoice through the real service right
// before the orchestrator absorbs its own payment, modelling a
// concurrent payment that wins the balance.
type racingInvoices struct {
	invoicedomain.Service
	beforeAbsorb func()
}

func (r *racingInvoices) MarkAsPaid(ctx context.Context, id snowflake.ID, amount int64, paidAt time.Time) (*invoicedomain.Invoice, error) {
	if r.beforeAbsorb != nil {
		hook := r.beforeAbsorb
		r.beforeAbsorb = nil
		hook()
	}
	return r.Service.MarkAsPaid(ctx, id, amount, paidAt)
}

func TestProcessPayment_WalletLoserIsCompensated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.node.Generate()

	_, err := f.wallet.Credit(ctx, walletdomain.CreditRequest{
		CustomerID: customerID, Amount: 5000, Tier: walletdomain.TierMain,
		Type: walletdomain.TransactionTypeCredit, Description: "seed",
	})
	require.NoError(t, err)

	inv := f.newInvoice(t, customerID, 3000)

	racing := &racingInvoices{Service: f.invoices}
	racing.beforeAbsorb = func() {
		_, err := f.invoices.MarkAsPaid(ctx, inv.ID, 3000, f.clock.Now())
		require.NoError(t, err)
	}
	svc := NewService(Params{
		DB: f.db, Log: zap.NewNop(), GenID: f.node, Clock: f.clock,
		Router: f.router, Wallet: f.wallet, Invoices: racing, Notifier: f.notified,
	}).(*Service)

	_, err = svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodWallet,
	})
	require.ErrorIs(t, err, invoicedomain.ErrStateConflict)

	// The losing attempt's debit is credited back.
	account, err := f.wallet.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.TotalBalance)

	var stored paymentdomain.Payment
	require.NoError(t, f.db.
		Where("invoice_id = ? AND method = ?", inv.ID, paymentdomain.MethodWallet).
		Take(&stored).Error)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, stored.Status)
	assert.Equal(t, "absorption_rejected", stored.FailureCode)

	var reversals int64
	require.NoError(t, f.db.Model(&walletdomain.Transaction{}).
		Where("customer_id = ? AND type = ?", customerID, walletdomain.TransactionTypeRefund).
		Count(&reversals).Error)
	assert.Equal(t, int64(1), reversals)
}

func TestProcessPayment_RejectsOverBalance(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	_, err := f.svc.ProcessPayment(context.Background(), paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3001, Method: paymentdomain.MethodWallet,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountExceedsBalance)
}

func TestProcessPayment_GatewaySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	f.adapter.createResult = &paymentdomain.CreatePaymentResult{
		Outcome:           paymentdomain.OutcomeSucceeded,
		ProviderPaymentID: "pi_ok",
	}

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodGateway,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "pi_ok", payment.ProviderPaymentID)
	assert.Equal(t, "testpay", payment.Provider)

	paid, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
}

func TestProcessPayment_GatewayErrorIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	f.adapter.createErr = &paymentdomain.GatewayError{Provider: "testpay", Code: "card_declined", Message: "declined"}

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodGateway,
	})
	require.Error(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "card_declined", payment.FailureCode)

	var stored paymentdomain.Payment
	require.NoError(t, f.db.Where("id = ?", payment.ID).Take(&stored).Error)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, stored.Status)
}

func TestProcessPayment_AdapterPanicIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	f.adapter.panicOnCreate = true

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodGateway,
	})
	require.Error(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "adapter_panic", payment.FailureCode)

	var gatewayErr *paymentdomain.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, "testpay", gatewayErr.Provider)
}

func TestProcessEvent_SettlesPendingAndReplaysAreNoOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	f.adapter.createResult = &paymentdomain.CreatePaymentResult{
		Outcome:           paymentdomain.OutcomeRequiresAction,
		ProviderPaymentID: "pi_pending",
		ActionData:        map[string]string{"redirect": "https://example.test"},
	}

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodGateway,
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentStatusPending, payment.Status)

	event := &paymentdomain.PaymentEvent{
		Provider:          "testpay",
		ProviderEventID:   "evt_1",
		ProviderPaymentID: "pi_pending",
		Type:              paymentdomain.EventTypePaymentSucceeded,
		CustomerID:        payment.CustomerID,
		Amount:            3000,
		Currency:          "USD",
		OccurredAt:        f.clock.Now(),
	}
	payload := []byte(`{"id":"evt_1"}`)

	require.NoError(t, f.svc.ProcessEvent(ctx, event, payload))

	settled, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, settled.Status)

	paid, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	assert.Equal(t, int64(3000), paid.AmountPaid)

	// Identical redelivery must not double-mark the invoice.
	replay := *event
	err = f.svc.ProcessEvent(ctx, &replay, payload)
	require.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	again, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), again.AmountPaid)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, again.Status)

	var eventCount int64
	require.NoError(t, f.db.Model(&paymentdomain.EventRecord{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestRefund_FullWalletRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.node.Generate()

	_, err := f.wallet.Credit(ctx, walletdomain.CreditRequest{
		CustomerID: customerID, Amount: 5000, Tier: walletdomain.TierMain,
		Type: walletdomain.TransactionTypeCredit, Description: "seed",
	})
	require.NoError(t, err)

	inv := f.newInvoice(t, customerID, 3000)
	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodWallet,
	})
	require.NoError(t, err)

	refund, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{
		PaymentID: payment.ID, Amount: 3000, Reason: "customer request",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusCompleted, refund.Status)

	refunded, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, int64(3000), refunded.RefundedAmount)

	// Invoice reopened: amountPaid down, balance up, REFUNDED.
	reopened, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reopened.AmountPaid)
	assert.Equal(t, int64(3000), reopened.BalanceAmount)
	assert.Equal(t, invoicedomain.InvoiceStatusRefunded, reopened.Status)

	// Wallet credited back.
	account, err := f.wallet.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.TotalBalance)

	_, err = f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Amount: 1})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotRefundable)
}

func TestRefund_PartialGatewayRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.newInvoice(t, f.node.Generate(), 3000)

	f.adapter.createResult = &paymentdomain.CreatePaymentResult{
		Outcome:           paymentdomain.OutcomeSucceeded,
		ProviderPaymentID: "pi_ref",
	}
	f.adapter.refundResult = &paymentdomain.RefundPaymentResult{
		ProviderRefundID: "re_1",
		Succeeded:        true,
	}

	payment, err := f.svc.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodGateway,
	})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Amount: 4000})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsPayment)

	refund, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ProviderRefundID)

	partial, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusPartiallyRefunded, partial.Status)
	assert.Equal(t, int64(1000), partial.RefundedAmount)

	reopened, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), reopened.AmountPaid)
	assert.Equal(t, int64(1000), reopened.BalanceAmount)
}

func TestUpsertProviderConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.UpsertProviderConfig(ctx, "stripe", map[string]any{"api_key": "sk_1"}, true)
	require.NoError(t, err)
	assert.True(t, created.Enabled)

	f.clock.Advance(time.Minute)
	updated, err := f.svc.UpsertProviderConfig(ctx, "stripe", map[string]any{"api_key": "sk_2"}, false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.False(t, updated.Enabled)
	assert.True(t, updated.UpdatedAt.After(created.CreatedAt))
}
