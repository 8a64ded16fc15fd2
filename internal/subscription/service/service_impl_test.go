package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingcore/internal/catalog"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	couponservice "github.com/smallbiznis/billingcore/internal/coupon/service"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/billingcore/internal/invoice/service"
	"github.com/smallbiznis/billingcore/internal/notify"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	taxservice "github.com/smallbiznis/billingcore/internal/tax/service"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	walletservice "github.com/smallbiznis/billingcore/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) byType(eventType string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type subscriptionFixture struct {
	svc      *Service
	db       *gorm.DB
	clock    *clock.FakeClock
	wallet   walletdomain.Service
	catalog  *catalog.StaticPriceLookup
	notified *recordingNotifier
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
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
		&subscriptiondomain.Subscription{},
		&walletdomain.Account{},
		&walletdomain.Transaction{},
		&walletdomain.TopUpConfig{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.Sequence{},
		&coupondomain.Coupon{},
		&coupondomain.Redemption{},
		&taxdomain.Rule{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC))

	billing, err := config.NewBillingConfigHolder()
	require.NoError(t, err)

	log := zap.NewNop()
	walletSvc := walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node})
	taxSvc := taxservice.NewService(taxservice.Params{DB: db, Log: log, GenID: node, Billing: billing})
	couponSvc := couponservice.NewService(couponservice.Params{DB: db, Log: log, GenID: node, Clock: fake})
	notified := &recordingNotifier{}
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Billing:  billing,
		Tax:      taxSvc,
		Coupons:  couponSvc,
		Notifier: notified,
	})

	prices := catalog.NewStaticPriceLookup()
	prices.Register(catalog.ProductPrice{ProductID: "plan-basic", Name: "Basic", Amount: 3000, Currency: "USD"})
	prices.Register(catalog.ProductPrice{ProductID: "plan-pro", Name: "Pro", Amount: 6000, Currency: "USD"})
	prices.Register(catalog.ProductPrice{ProductID: "plan-lite", Name: "Lite", Amount: 1000, Currency: "USD"})
	prices.Register(catalog.ProductPrice{ProductID: "plan-eur", Name: "Euro", Amount: 3000, Currency: "EUR"})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Billing:  billing,
		Catalog:  prices,
		Wallet:   walletSvc,
		Invoices: invoiceSvc,
		Notifier: notified,
	}).(*Service)

	return &subscriptionFixture{
		svc:      svc,
		db:       db,
		clock:    fake,
		wallet:   walletSvc,
		catalog:  prices,
		notified: notified,
	}
}

func (f *subscriptionFixture) fundWallet(t *testing.T, customerID snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.wallet.Credit(context.Background(), walletdomain.CreditRequest{
		CustomerID: customerID,
		Amount:     amount,
		Tier:       walletdomain.TierMain,
	})
	require.NoError(t, err)
}

func (f *subscriptionFixture) chargeCount(t *testing.T, customerID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&walletdomain.Transaction{}).
		Where("customer_id = ? AND type = ?", customerID, walletdomain.TransactionTypeCharge).
		Count(&count).Error)
	return count
}

func (f *subscriptionFixture) walletTotal(t *testing.T, customerID snowflake.ID) int64 {
	t.Helper()
	account, err := f.wallet.GetOrCreate(context.Background(), customerID)
	require.NoError(t, err)
	return account.TotalBalance
}

func TestCreate_ActiveWithoutTrial(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.Equal(t, int64(3000), sub.PriceAmount)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC), sub.NextDueAt)
	assert.Equal(t, sub.CurrentPeriodEnd, sub.NextDueAt)
	assert.Nil(t, sub.TrialEndsAt)
}

func TestCreate_TrialWindow(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
		WithTrial:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusTrial, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, time.Date(2026, 4, 29, 9, 0, 0, 0, time.UTC), *sub.TrialEndsAt)
	assert.Equal(t, *sub.TrialEndsAt, sub.NextDueAt)
}

func TestCreate_UnknownProductRejected(t *testing.T) {
	f := newSubscriptionFixture(t)

	_, err := f.svc.Create(context.Background(), subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-ghost",
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidProduct)
}

func TestRenew_MonthlyAdvancesOneCycle(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)
	dueAt := sub.NextDueAt

	f.clock.Advance(30 * 24 * time.Hour)

	renewed, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, renewed.Status)
	// 30 fixed days past May 15, not a calendar month.
	assert.Equal(t, time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC), renewed.NextDueAt)
	assert.Equal(t, dueAt.AddDate(0, 0, 30), renewed.NextDueAt)
	assert.Equal(t, dueAt, renewed.CurrentPeriodStart)

	assert.Equal(t, int64(1), f.chargeCount(t, customerID))
	assert.Equal(t, int64(7000), f.walletTotal(t, customerID))

	var inv invoicedomain.Invoice
	require.NoError(t, f.db.First(&inv, "subscription_id = ?", sub.ID).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, int64(3000), inv.TotalAmount)
	assert.Equal(t, int64(0), inv.BalanceAmount)

	var item invoicedomain.InvoiceItem
	require.NoError(t, f.db.First(&item, "invoice_id = ?", inv.ID).Error)
	require.NotNil(t, item.PeriodStart)
	require.NotNil(t, item.PeriodEnd)
	assert.Equal(t, dueAt.AddDate(0, 0, -30), item.PeriodStart.UTC())
	assert.Equal(t, dueAt, item.PeriodEnd.UTC())

	assert.Len(t, f.notified.byType(notify.EventSubscriptionRenewed), 1)
}

func TestRenew_BeforeDueIsNoOp(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	same, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.NextDueAt, same.NextDueAt)
	assert.Equal(t, int64(0), f.chargeCount(t, customerID))
}

func TestRenew_InsufficientBalanceEntersGraceThenExpires(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)

	pastDue, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, pastDue.Status)
	require.NotNil(t, pastDue.GraceUntil)
	grace := *pastDue.GraceUntil
	assert.Equal(t, f.svc.clock.Now().AddDate(0, 0, 7), grace)

	// A second failed attempt inside the grace window keeps the
	// original deadline.
	f.clock.Advance(24 * time.Hour)
	stillPastDue, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, stillPastDue.Status)
	require.NotNil(t, stillPastDue.GraceUntil)
	assert.Equal(t, grace, stillPastDue.GraceUntil.UTC())

	f.clock.Advance(7 * 24 * time.Hour)
	expired, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusExpired, expired.Status)
	assert.Len(t, f.notified.byType(notify.EventSubscriptionExpired), 1)
}

func TestRenew_GraceRecoveryAfterTopUp(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)
	pastDue, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.StatusPastDue, pastDue.Status)

	f.fundWallet(t, customerID, 5000)
	f.clock.Advance(24 * time.Hour)

	recovered, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, recovered.Status)
	assert.Nil(t, recovered.GraceUntil)
	assert.Equal(t, int64(1), f.chargeCount(t, customerID))
}

func TestRenew_TrialWithoutAutoRenewExpires(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    false,
		WithTrial:    true,
	})
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.StatusTrial, sub.Status)

	f.clock.Advance(14 * 24 * time.Hour)

	expired, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusExpired, expired.Status)
	assert.Equal(t, int64(0), f.chargeCount(t, customerID))
}

func TestRenew_TrialConvertsToActive(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
		WithTrial:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(14 * 24 * time.Hour)

	active, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, active.Status)
	assert.Nil(t, active.TrialEndsAt)
	assert.Equal(t, int64(1), f.chargeCount(t, customerID))
}

func TestRenew_CancelAtPeriodEnd(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, sub.ID, true)
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)

	cancelled, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(0), f.chargeCount(t, customerID))
}

func TestCancel_ImmediateAndTerminalGuard(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, sub.ID, false)
	assert.ErrorIs(t, err, subscriptiondomain.ErrStateConflict)
	_, err = f.svc.Renew(ctx, sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrStateConflict)
}

func TestPauseResume_FreshPeriodFromResume(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	paused, err := f.svc.Pause(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	// Renewal must not touch a paused subscription.
	f.clock.Advance(45 * 24 * time.Hour)
	_, err = f.svc.Renew(ctx, sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrStateConflict)

	resumed, err := f.svc.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Equal(t, f.svc.clock.Now(), resumed.CurrentPeriodStart)
	assert.Equal(t, f.svc.clock.Now().AddDate(0, 0, 30), resumed.NextDueAt)
	assert.Equal(t, int64(0), f.chargeCount(t, customerID))
}

func TestChangePlan_ImmediateUpgradeProratesDelta(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	// Halfway through a 30-day period: half of the 3000 difference.
	f.clock.Advance(15 * 24 * time.Hour)

	changed, err := f.svc.ChangePlan(ctx, sub.ID, subscriptiondomain.ChangePlanRequest{
		NewProductID: "plan-pro",
		Immediate:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "plan-pro", changed.ProductID)
	assert.Equal(t, int64(6000), changed.PriceAmount)
	assert.Nil(t, changed.PendingProductID)
	assert.Equal(t, sub.NextDueAt, changed.NextDueAt)
	assert.Equal(t, int64(8500), f.walletTotal(t, customerID))
}

func TestChangePlan_ImmediateDowngradeCreditsDelta(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)

	changed, err := f.svc.ChangePlan(ctx, sub.ID, subscriptiondomain.ChangePlanRequest{
		NewProductID: "plan-lite",
		Immediate:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), changed.PriceAmount)
	assert.Equal(t, int64(11000), f.walletTotal(t, customerID))
}

func TestChangePlan_ImmediateInsufficientBalanceLeavesPlan(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 100)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)

	_, err = f.svc.ChangePlan(ctx, sub.ID, subscriptiondomain.ChangePlanRequest{
		NewProductID: "plan-pro",
		Immediate:    true,
	})
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)

	current, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan-basic", current.ProductID)
	assert.Equal(t, int64(3000), current.PriceAmount)
}

func TestChangePlan_CurrencyMismatchRejected(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	require.NoError(t, err)

	_, err = f.svc.ChangePlan(ctx, sub.ID, subscriptiondomain.ChangePlanRequest{
		NewProductID: "plan-eur",
		Immediate:    true,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrCurrencyMismatch)
}

func TestChangePlan_DeferredAppliesAtNextRenewal(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	customerID := f.svc.genID.Generate()
	f.fundWallet(t, customerID, 10000)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	deferred, err := f.svc.ChangePlan(ctx, sub.ID, subscriptiondomain.ChangePlanRequest{
		NewProductID: "plan-pro",
	})
	require.NoError(t, err)
	require.NotNil(t, deferred.PendingProductID)
	assert.Equal(t, "plan-pro", *deferred.PendingProductID)
	assert.Equal(t, "plan-basic", deferred.ProductID)
	assert.Equal(t, int64(10000), f.walletTotal(t, customerID))

	f.clock.Advance(30 * 24 * time.Hour)

	// The elapsed period bills at the old price; the new plan opens the
	// next period.
	renewed, err := f.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan-pro", renewed.ProductID)
	assert.Equal(t, int64(6000), renewed.PriceAmount)
	assert.Nil(t, renewed.PendingProductID)
	assert.Equal(t, int64(7000), f.walletTotal(t, customerID))
}

func TestClaimDue_SelectsDueRenewablesOnly(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	dueSub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	cancelledSub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, cancelledSub.ID, false)
	require.NoError(t, err)

	yearlySub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{
		CustomerID:   f.svc.genID.Generate(),
		ProductID:    "plan-basic",
		BillingCycle: subscriptiondomain.CycleYearly,
		AutoRenew:    true,
	})
	require.NoError(t, err)

	f.clock.Advance(45 * 24 * time.Hour)

	due, err := f.svc.ClaimDue(ctx, f.svc.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, dueSub.ID, due[0].ID)
	assert.NotEqual(t, yearlySub.ID, due[0].ID)
}

func TestStatusTransitionTable(t *testing.T) {
	assert.True(t, subscriptiondomain.StatusTrial.CanTransitionTo(subscriptiondomain.StatusActive))
	assert.True(t, subscriptiondomain.StatusActive.CanTransitionTo(subscriptiondomain.StatusPastDue))
	assert.True(t, subscriptiondomain.StatusPastDue.CanTransitionTo(subscriptiondomain.StatusExpired))
	assert.True(t, subscriptiondomain.StatusPaused.CanTransitionTo(subscriptiondomain.StatusActive))
	assert.False(t, subscriptiondomain.StatusExpired.CanTransitionTo(subscriptiondomain.StatusActive))
	assert.False(t, subscriptiondomain.StatusCancelled.CanTransitionTo(subscriptiondomain.StatusActive))
	assert.False(t, subscriptiondomain.StatusPaused.CanTransitionTo(subscriptiondomain.StatusPastDue))
	assert.True(t, subscriptiondomain.StatusExpired.Terminal())
	assert.True(t, subscriptiondomain.StatusCancelled.Terminal())
	assert.False(t, subscriptiondomain.StatusPastDue.Terminal())
}
