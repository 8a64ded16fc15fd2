package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingcore/internal/catalog"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	couponservice "github.com/smallbiznis/billingcore/internal/coupon/service"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/billingcore/internal/invoice/service"
	"github.com/smallbiznis/billingcore/internal/notify"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/billingcore/internal/subscription/service"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	taxservice "github.com/smallbiznis/billingcore/internal/tax/service"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	walletservice "github.com/smallbiznis/billingcore/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Event) {}

// fakeOrchestrator stands in for the payment orchestrator, which has
// its own service-level tests.
type fakeOrchestrator struct {
	ingestErr  error
	ingested   []string
	lastID     snowflake.ID
	node       *snowflake.Node
	processErr error
}

func (f *fakeOrchestrator) ProcessPayment(_ context.Context, req paymentdomain.ProcessPaymentRequest) (*paymentdomain.Payment, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	f.lastID = f.node.Generate()
	return &paymentdomain.Payment{
		ID:        f.lastID,
		InvoiceID: req.InvoiceID,
		Provider:  req.Provider,
		Method:    req.Method,
		Amount:    req.Amount,
		Currency:  "USD",
		Status:    paymentdomain.PaymentStatusCompleted,
	}, nil
}

func (f *fakeOrchestrator) Refund(_ context.Context, req paymentdomain.RefundRequest) (*paymentdomain.Refund, error) {
	return &paymentdomain.Refund{
		ID:        f.node.Generate(),
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Status:    paymentdomain.RefundStatusCompleted,
		Reason:    req.Reason,
	}, nil
}

func (f *fakeOrchestrator) GetPayment(context.Context, snowflake.ID) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrPaymentNotFound
}

func (f *fakeOrchestrator) ListByInvoice(context.Context, snowflake.ID) ([]paymentdomain.Payment, error) {
	return nil, nil
}

func (f *fakeOrchestrator) ProcessEvent(context.Context, *paymentdomain.PaymentEvent, []byte) error {
	return nil
}

func (f *fakeOrchestrator) IngestWebhook(_ context.Context, provider string, _ []byte, _ http.Header) error {
	f.ingested = append(f.ingested, provider)
	return f.ingestErr
}

func (f *fakeOrchestrator) UpsertProviderConfig(_ context.Context, provider string, cfg map[string]any, enabled bool) (*paymentdomain.ProviderConfig, error) {
	return &paymentdomain.ProviderConfig{Provider: provider, Enabled: enabled}, nil
}

type serverFixture struct {
	engine  *gin.Engine
	db      *gorm.DB
	node    *snowflake.Node
	gateway *fakeOrchestrator
	wallet  walletdomain.Service
	clock   *clock.FakeClock
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripLock := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLock))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLock))

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
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	billing, err := config.NewBillingConfigHolder()
	require.NoError(t, err)

	log := zap.NewNop()
	walletSvc := walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node})
	taxSvc := taxservice.NewService(taxservice.Params{DB: db, Log: log, GenID: node, Billing: billing})
	couponSvc := couponservice.NewService(couponservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Billing:  billing,
		Tax:      taxSvc,
		Coupons:  couponSvc,
		Notifier: nopNotifier{},
	})

	prices := catalog.NewStaticPriceLookup()
	prices.Register(catalog.ProductPrice{ProductID: "plan-basic", Name: "Basic", Amount: 3000, Currency: "USD"})

	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Billing:  billing,
		Catalog:  prices,
		Wallet:   walletSvc,
		Invoices: invoiceSvc,
		Notifier: nopNotifier{},
	})

	gateway := &fakeOrchestrator{node: node}

	engine := NewEngine(log, metrics.NewRegistry())
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{HTTPAddr: ":0"},
		Log:             log,
		GenID:           node,
		WalletSvc:       walletSvc,
		InvoiceSvc:      invoiceSvc,
		CouponSvc:       couponSvc,
		TaxSvc:          taxSvc,
		SubscriptionSvc: subscriptionSvc,
		Payments:        gateway,
	})

	return &serverFixture{
		engine:  engine,
		db:      db,
		node:    node,
		gateway: gateway,
		wallet:  walletSvc,
		clock:   fake,
	}
}

func (f *serverFixture) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.engine.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	return envelope.Data
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var envelope errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	return envelope.Error
}

func adminHeaders(f *serverFixture) map[string]string {
	return map[string]string{
		headerActorID:   f.node.Generate().String(),
		headerActorKind: "admin",
	}
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestWalletCreditThenBalance(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()

	resp := f.request(t, http.MethodPost, "/api/wallets/"+customerID.String()+"/credit", gin.H{
		"amount": 5000,
		"tier":   "main",
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.request(t, http.MethodGet, "/api/wallets/"+customerID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	data := decodeData(t, resp)
	assert.Equal(t, float64(5000), data["total_balance"])
	assert.Equal(t, customerID.String(), data["customer_id"])
}

func TestWalletDebitInsufficientBalance(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()

	resp := f.request(t, http.MethodPost, "/api/wallets/"+customerID.String()+"/debit", gin.H{
		"amount": 100,
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.Code, resp.Body.String())
	assert.Equal(t, "insufficient_balance", decodeError(t, resp).Type)
}

func TestWalletInvalidCustomerID(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/wallets/not-a-snowflake", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation_error", decodeError(t, resp).Type)
}

func TestInvoiceCreateAndGet(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()

	resp := f.request(t, http.MethodPost, "/api/invoices", gin.H{
		"customer_id": customerID.String(),
		"currency":    "usd",
		"items": []gin.H{
			{"description": "Consulting", "quantity": 2, "unit_amount": 1500},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, float64(3000), data["subtotal_amount"])
	assert.Equal(t, "USD", data["currency"])

	resp = f.request(t, http.MethodGet, "/api/invoices/"+data["id"].(string), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestInvoiceNotFound(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/invoices/"+f.node.Generate().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

func TestProcessPaymentRoute(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/api/payments", gin.H{
		"invoice_id": f.node.Generate().String(),
		"amount":     1000,
		"method":     "gateway",
		"provider":   "testpay",
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, "COMPLETED", data["status"])

	resp = f.request(t, http.MethodPost, "/api/payments", gin.H{
		"invoice_id": f.node.Generate().String(),
		"amount":     1000,
		"method":     "cash",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubscriptionLifecycleRoutes(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()

	resp := f.request(t, http.MethodPost, "/api/subscriptions", gin.H{
		"customer_id":   customerID.String(),
		"product_id":    "plan-basic",
		"billing_cycle": "monthly",
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, "ACTIVE", data["status"])
	subID := data["id"].(string)

	resp = f.request(t, http.MethodPost, "/api/subscriptions/"+subID+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "PAUSED", decodeData(t, resp)["status"])

	resp = f.request(t, http.MethodPost, "/api/subscriptions/"+subID+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ACTIVE", decodeData(t, resp)["status"])

	resp = f.request(t, http.MethodPost, "/api/subscriptions/"+subID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "CANCELLED", decodeData(t, resp)["status"])

	// Terminal state rejects further transitions.
	resp = f.request(t, http.MethodPost, "/api/subscriptions/"+subID+"/pause", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "conflict", decodeError(t, resp).Type)
}

func TestAdminRoutesRequireAdminActor(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()
	path := "/admin/wallets/" + customerID.String() + "/adjust"
	body := gin.H{"delta": 100, "reason": "manual correction"}

	resp := f.request(t, http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = f.request(t, http.MethodPost, path, body, map[string]string{
		headerActorID:   f.node.Generate().String(),
		headerActorKind: "customer",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.request(t, http.MethodPost, path, body, adminHeaders(f))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, float64(100), decodeData(t, resp)["total_balance"])
}

func TestActorHeaderRejectedWhenMalformed(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/healthz", nil, map[string]string{
		headerActorID: "garbage",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCouponAdminAndValidateRoutes(t *testing.T) {
	f := newServerFixture(t)
	customerID := f.node.Generate()

	resp := f.request(t, http.MethodPost, "/admin/coupons", gin.H{
		"code":  "SPRING26",
		"type":  "PERCENTAGE",
		"value": 10,
	}, adminHeaders(f))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.request(t, http.MethodPost, "/api/coupons/validate", gin.H{
		"code":        "SPRING26",
		"customer_id": customerID.String(),
		"subtotal":    2000,
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(200), data["discount"])

	resp = f.request(t, http.MethodPost, "/admin/coupons/SPRING26/deactivate", nil, adminHeaders(f))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.request(t, http.MethodGet, "/admin/coupons/NOPE", nil, adminHeaders(f))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTaxRuleAdminRoutes(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/admin/tax-rules", gin.H{
		"country": "de",
		"name":    "VAT",
		"rate":    0.19,
	}, adminHeaders(f))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, "DE", data["country"])

	resp = f.request(t, http.MethodGet, "/admin/tax-rules?country=DE", nil, adminHeaders(f))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.request(t, http.MethodPost, "/admin/tax-rules", gin.H{
		"country": "DE",
		"name":    "VAT",
		"rate":    1.5,
	}, adminHeaders(f))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWebhookAcknowledgements(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/webhooks/testpay", gin.H{"id": "evt_1"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"testpay"}, f.gateway.ingested)

	f.gateway.ingestErr = paymentdomain.ErrEventAlreadyProcessed
	resp = f.request(t, http.MethodPost, "/webhooks/testpay", gin.H{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	f.gateway.ingestErr = paymentdomain.ErrInvalidSignature
	resp = f.request(t, http.MethodPost, "/webhooks/testpay", gin.H{"id": "evt_2"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMapErrorTable(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"insufficient balance", walletdomain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"invoice not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound},
		{"state conflict", subscriptiondomain.ErrStateConflict, http.StatusConflict},
		{"invalid cycle", subscriptiondomain.ErrInvalidCycle, http.StatusBadRequest},
		{"gateway failure", &paymentdomain.GatewayError{Provider: "testpay", Code: "card_declined", Message: "declined"}, http.StatusBadGateway},
		{"coupon rejected", &invoicedomain.CouponRejectedError{Code: "X", Reason: "coupon expired"}, http.StatusBadRequest},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}
