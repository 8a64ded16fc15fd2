package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/catalog"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/notify"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// claimTimeout bounds the row-lock transaction of ClaimDue so a stuck
// sweep cannot hold subscription locks indefinitely.
const claimTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Catalog  catalog.PriceLookup
	Wallet   walletdomain.Service
	Invoices invoicedomain.Service
	Notifier notify.Notifier
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	catalog  catalog.PriceLookup
	wallet   walletdomain.Service
	invoices invoicedomain.Service
	notifier notify.Notifier
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		catalog:  p.Catalog,
		wallet:   p.Wallet,
		invoices: p.Invoices,
		notifier: p.Notifier,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	if req.CustomerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, subscriptiondomain.ErrInvalidProduct
	}
	if !req.BillingCycle.Valid() {
		return nil, subscriptiondomain.ErrInvalidCycle
	}

	price, err := s.catalog.Lookup(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, subscriptiondomain.ErrInvalidProduct
		}
		return nil, err
	}

	now := s.clock.Now()
	cfg := s.billing.Get()

	sub := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		CustomerID:         req.CustomerID,
		ProductID:          productID,
		BillingCycle:       req.BillingCycle,
		PriceAmount:        price.Amount,
		Currency:           strings.ToUpper(price.Currency),
		Status:             subscriptiondomain.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   advancePeriod(now, req.BillingCycle),
		AutoRenew:          req.AutoRenew,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.WithTrial && cfg.TrialPeriodDays > 0 {
		trialEnd := now.AddDate(0, 0, cfg.TrialPeriodDays)
		sub.Status = subscriptiondomain.StatusTrial
		sub.TrialEndsAt = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}
	sub.NextDueAt = sub.CurrentPeriodEnd

	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.Int64("customer_id", int64(sub.CustomerID)),
		zap.String("product_id", sub.ProductID),
		zap.String("status", string(sub.Status)),
	)
	return &sub, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.load(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var subs []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// Renew settles one due period. The wallet charge is its own atomic
// ledger unit; the subscription row then advances under a guard on the
// pre-charge state so a concurrent renewal cannot advance twice. The
// paid invoice for the elapsed period is emitted last and is not
// allowed to fail the renewal.
func (s *Service) Renew(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()

	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status.Terminal() || sub.Status == subscriptiondomain.StatusPaused || sub.Status == subscriptiondomain.StatusSuspended {
		return nil, subscriptiondomain.ErrStateConflict
	}
	if now.Before(sub.NextDueAt) {
		// Not due yet. Sweeps may re-deliver; nothing to do.
		return sub, nil
	}

	if sub.CancelAtPeriodEnd {
		prev := sub.Status
		sub.Status = subscriptiondomain.StatusCancelled
		sub.UpdatedAt = now
		if err := s.persist(ctx, sub, prev); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if sub.Status == subscriptiondomain.StatusPastDue && sub.GraceUntil != nil && now.After(*sub.GraceUntil) {
		if err := s.expire(ctx, sub, now); err != nil {
			return nil, err
		}
		return sub, nil
	}

	prev := sub.Status
	previousDue := sub.NextDueAt

	if _, err := s.wallet.Debit(ctx, walletdomain.DebitRequest{
		CustomerID:  sub.CustomerID,
		Amount:      sub.PriceAmount,
		Type:        walletdomain.TransactionTypeCharge,
		Description: fmt.Sprintf("Subscription renewal %s (%s)", sub.ProductID, sub.BillingCycle),
		Reference:   sub.ID.String(),
	}); err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientBalance) {
			if err := s.handleFailedCharge(ctx, sub, now); err != nil {
				return nil, err
			}
			return sub, nil
		}
		return nil, err
	}

	receipt := periodReceipt{
		amount:      sub.PriceAmount,
		periodStart: sub.CurrentPeriodStart,
		periodEnd:   sub.CurrentPeriodEnd,
	}

	sub.CurrentPeriodStart = previousDue
	sub.CurrentPeriodEnd = advancePeriod(previousDue, sub.BillingCycle)
	sub.NextDueAt = sub.CurrentPeriodEnd
	sub.GraceUntil = nil
	sub.TrialEndsAt = nil
	sub.Status = subscriptiondomain.StatusActive

	// A deferred plan change takes effect for the period that just
	// opened; the elapsed period was billed at the old price.
	if sub.PendingProductID != nil {
		s.applyPendingPlan(ctx, sub)
	}

	sub.UpdatedAt = now
	res := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND status = ? AND next_due_at = ?", sub.ID, prev, previousDue).
		Select("*").Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Another worker advanced the row between our read and the
		// charge. The ledger now carries one charge too many; flag it
		// for reconciliation rather than guessing.
		s.log.Error("renewal raced a concurrent advance, charge needs reconciliation",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Int64("amount", receipt.amount),
		)
		return nil, subscriptiondomain.ErrStateConflict
	}

	s.emitRenewalInvoice(ctx, sub, receipt, now)
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventSubscriptionRenewed,
		CustomerID: sub.CustomerID.String(),
		Reference:  sub.ID.String(),
		Amount:     receipt.amount,
		Currency:   sub.Currency,
		OccurredAt: now,
	})
	return sub, nil
}

// periodReceipt carries what the renewal charged, for emitting the
// invoice after the subscription row has advanced.
type periodReceipt struct {
	amount      int64
	periodStart time.Time
	periodEnd   time.Time
}

func (s *Service) handleFailedCharge(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if sub.Status == subscriptiondomain.StatusTrial && !sub.AutoRenew {
		return s.expire(ctx, sub, now)
	}
	if sub.Status == subscriptiondomain.StatusPastDue {
		// Already in grace; keep the original deadline.
		return nil
	}
	prev := sub.Status
	grace := now.AddDate(0, 0, s.billing.Get().GracePeriodDays)
	sub.Status = subscriptiondomain.StatusPastDue
	sub.GraceUntil = &grace
	sub.UpdatedAt = now
	s.log.Warn("subscription past due",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.Time("grace_until", grace),
	)
	return s.persist(ctx, sub, prev)
}

func (s *Service) expire(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	prev := sub.Status
	sub.Status = subscriptiondomain.StatusExpired
	sub.GraceUntil = nil
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return err
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventSubscriptionExpired,
		CustomerID: sub.CustomerID.String(),
		Reference:  sub.ID.String(),
		Currency:   sub.Currency,
		OccurredAt: now,
	})
	return nil
}

func (s *Service) applyPendingPlan(ctx context.Context, sub *subscriptiondomain.Subscription) {
	price, err := s.catalog.Lookup(ctx, *sub.PendingProductID)
	if err != nil {
		// The product vanished from the catalog; keep the current plan
		// rather than wedging every future renewal.
		s.log.Warn("pending plan lookup failed, keeping current plan",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.String("pending_product_id", *sub.PendingProductID),
			zap.Error(err),
		)
		sub.PendingProductID = nil
		return
	}
	sub.ProductID = price.ProductID
	sub.PriceAmount = price.Amount
	sub.Currency = strings.ToUpper(price.Currency)
	sub.PendingProductID = nil
}

// emitRenewalInvoice records the settled period as a paid invoice. The
// wallet charge already happened; a failure here is logged and left for
// reconciliation instead of unwinding the renewal.
func (s *Service) emitRenewalInvoice(ctx context.Context, sub *subscriptiondomain.Subscription, receipt periodReceipt, now time.Time) {
	periodStart := receipt.periodStart
	periodEnd := receipt.periodEnd
	inv, err := s.invoices.Create(ctx, invoicedomain.CreateRequest{
		CustomerID:     sub.CustomerID,
		SubscriptionID: &sub.ID,
		Currency:       sub.Currency,
		Items: []invoicedomain.LineInput{{
			Description:    fmt.Sprintf("Subscription %s (%s)", sub.ProductID, sub.BillingCycle),
			Quantity:       1,
			UnitAmount:     receipt.amount,
			SubscriptionID: &sub.ID,
			PeriodStart:    &periodStart,
			PeriodEnd:      &periodEnd,
		}},
	})
	if err != nil {
		s.log.Error("renewal invoice emission failed",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Error(err),
		)
		return
	}
	if _, err := s.invoices.MarkAsPaid(ctx, inv.ID, inv.TotalAmount, now); err != nil {
		s.log.Error("renewal invoice settlement failed",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Int64("invoice_id", int64(inv.ID)),
			zap.Error(err),
		)
	}
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, atPeriodEnd bool) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, subscriptiondomain.ErrStateConflict
	}
	prev := sub.Status
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		if !sub.Status.CanTransitionTo(subscriptiondomain.StatusCancelled) {
			return nil, subscriptiondomain.ErrStateConflict
		}
		sub.Status = subscriptiondomain.StatusCancelled
	}
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Pause(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptiondomain.StatusActive {
		return nil, subscriptiondomain.ErrStateConflict
	}
	prev := sub.Status
	sub.Status = subscriptiondomain.StatusPaused
	sub.PausedAt = &now
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume reopens billing with a fresh period anchored at the resume
// instant; the paused stretch is never billed.
func (s *Service) Resume(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptiondomain.StatusPaused && sub.Status != subscriptiondomain.StatusSuspended {
		return nil, subscriptiondomain.ErrStateConflict
	}
	prev := sub.Status
	sub.Status = subscriptiondomain.StatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = advancePeriod(now, sub.BillingCycle)
	sub.NextDueAt = sub.CurrentPeriodEnd
	sub.PausedAt = nil
	sub.GraceUntil = nil
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Suspend(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	now := s.clock.Now()
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscriptiondomain.StatusSuspended || !sub.Status.CanTransitionTo(subscriptiondomain.StatusSuspended) {
		return nil, subscriptiondomain.ErrStateConflict
	}
	prev := sub.Status
	sub.Status = subscriptiondomain.StatusSuspended
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) ChangePlan(ctx context.Context, id snowflake.ID, req subscriptiondomain.ChangePlanRequest) (*subscriptiondomain.Subscription, error) {
	newProductID := strings.TrimSpace(req.NewProductID)
	if newProductID == "" {
		return nil, subscriptiondomain.ErrInvalidProduct
	}

	price, err := s.catalog.Lookup(ctx, newProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, subscriptiondomain.ErrInvalidProduct
		}
		return nil, err
	}

	now := s.clock.Now()
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptiondomain.StatusActive {
		return nil, subscriptiondomain.ErrStateConflict
	}
	if sub.ProductID == newProductID && sub.PendingProductID == nil {
		return sub, nil
	}
	prev := sub.Status

	if !req.Immediate {
		sub.PendingProductID = &newProductID
		sub.UpdatedAt = now
		if err := s.persist(ctx, sub, prev); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if !strings.EqualFold(price.Currency, sub.Currency) {
		return nil, subscriptiondomain.ErrCurrencyMismatch
	}

	delta := prorate(sub.PriceAmount, price.Amount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
	if err := s.settleProration(ctx, sub, delta); err != nil {
		return nil, err
	}

	sub.ProductID = price.ProductID
	sub.PriceAmount = price.Amount
	sub.Currency = strings.ToUpper(price.Currency)
	sub.PendingProductID = nil
	sub.UpdatedAt = now
	if err := s.persist(ctx, sub, prev); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) settleProration(ctx context.Context, sub *subscriptiondomain.Subscription, delta int64) error {
	switch {
	case delta > 0:
		_, err := s.wallet.Debit(ctx, walletdomain.DebitRequest{
			CustomerID:  sub.CustomerID,
			Amount:      delta,
			Type:        walletdomain.TransactionTypeCharge,
			Description: "Plan change proration",
			Reference:   sub.ID.String(),
		})
		return err
	case delta < 0:
		_, err := s.wallet.Credit(ctx, walletdomain.CreditRequest{
			CustomerID:  sub.CustomerID,
			Amount:      -delta,
			Tier:        walletdomain.TierMain,
			Type:        walletdomain.TransactionTypeCredit,
			Description: "Plan change proration credit",
			Reference:   sub.ID.String(),
		})
		return err
	}
	return nil
}

// ClaimDue selects renewable subscriptions past their due instant,
// locked for the claiming transaction so concurrent sweeps skip the
// same rows. Renew re-checks persisted state, so a stale claim is safe.
func (s *Service) ClaimDue(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}

	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var due []subscriptiondomain.Subscription
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT *
			 FROM subscriptions
			 WHERE status IN (?, ?, ?)
			   AND next_due_at <= ?
			 ORDER BY next_due_at, id
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			subscriptiondomain.StatusTrial,
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusPastDue,
			now,
			limit,
		).Scan(&due).Error
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// persist writes the full row guarded on the status the caller read, so
// two workers acting on the same snapshot cannot both win.
func (s *Service) persist(ctx context.Context, sub *subscriptiondomain.Subscription, prev subscriptiondomain.SubscriptionStatus) error {
	res := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, prev).
		Select("*").Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrStateConflict
	}
	return nil
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// advancePeriod moves an instant forward by one billing cycle.
func advancePeriod(from time.Time, cycle subscriptiondomain.BillingCycle) time.Time {
	return from.AddDate(0, 0, cycle.Days())
}

// prorate computes the wallet delta for an immediate plan change: the
// old-vs-new price difference scaled by the unused share of the current
// period, in whole days.
func prorate(oldPrice, newPrice int64, periodStart, periodEnd, now time.Time) int64 {
	periodDays := int64(periodEnd.Sub(periodStart).Hours() / 24)
	if periodDays <= 0 {
		return 0
	}
	remainingDays := int64(periodEnd.Sub(now).Hours() / 24)
	if remainingDays <= 0 {
		return 0
	}
	if remainingDays > periodDays {
		remainingDays = periodDays
	}
	return (newPrice - oldPrice) * remainingDays / periodDays
}
