package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/invoice/format"
	"github.com/smallbiznis/billingcore/internal/notify"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Tax      taxdomain.Calculator
	Coupons  coupondomain.Service
	Notifier notify.Notifier
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	tax      taxdomain.Calculator
	coupons  coupondomain.Service
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		tax:      p.Tax,
		coupons:  p.Coupons,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateRequest) (*invoicedomain.Invoice, error) {
	if req.CustomerID == 0 {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, invoicedomain.ErrInvalidCurrency
	}
	if len(req.Items) == 0 {
		return nil, invoicedomain.ErrNoItems
	}

	now := s.clock.Now()
	cfg := s.billing.Get()

	items := make([]invoicedomain.InvoiceItem, 0, len(req.Items))
	var subtotal, taxTotal int64
	for _, in := range req.Items {
		item, err := s.buildItem(ctx, in, invoicedomain.TaxProfile{
			Country:        req.Country,
			State:          req.State,
			VATNumber:      req.VATNumber,
			CustomerExempt: req.CustomerTaxExempt,
		}, now)
		if err != nil {
			return nil, err
		}
		subtotal += item.SubtotalAmount
		taxTotal += item.TaxAmount
		items = append(items, *item)
	}

	var (
		discount      int64
		couponCode    string
		appliedCoupon *coupondomain.Coupon
	)
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		res, err := s.coupons.Validate(ctx, coupondomain.ValidateRequest{
			Code:       code,
			CustomerID: req.CustomerID,
			Subtotal:   subtotal,
		})
		if err != nil {
			// Lookup infrastructure failure degrades to zero discount
			// instead of blocking issuance.
			s.log.Warn("coupon validation unavailable, issuing without discount",
				zap.String("code", code), zap.Error(err))
		} else if !res.Valid {
			return nil, &invoicedomain.CouponRejectedError{Code: code, Reason: res.Reason}
		} else {
			discount = res.Discount
			couponCode = res.Coupon.Code
			appliedCoupon = res.Coupon
		}
	}
	if discount > subtotal {
		discount = subtotal
	}

	dueAt := req.DueAt
	if dueAt == nil {
		d := now.AddDate(0, 0, cfg.PaymentTermDays)
		dueAt = &d
	}

	total := subtotal + taxTotal - discount
	inv := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Currency:       currency,
		Status:         invoicedomain.InvoiceStatusPending,
		SubtotalAmount: subtotal,
		TaxAmount:      taxTotal,
		DiscountAmount: discount,
		TotalAmount:    total,
		AmountPaid:     0,
		BalanceAmount:  total,
		CouponCode:     couponCode,
		DueAt:          dueAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, format.Period(now), now)
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(cfg.InvoiceNumberPrefix, now, seq)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number

		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].InvoiceID = inv.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}

		// Redemption commits with the invoice or not at all.
		if appliedCoupon != nil {
			if err := s.coupons.ApplyTx(ctx, tx, appliedCoupon.ID, req.CustomerID, inv.ID, discount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvoiceIssued()
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventInvoiceIssued,
		CustomerID: req.CustomerID.String(),
		Reference:  inv.InvoiceNumber,
		Amount:     inv.TotalAmount,
		Currency:   inv.Currency,
		OccurredAt: now,
	})
	s.log.Info("invoice issued",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Int64("total", inv.TotalAmount),
	)
	return &inv, nil
}

// buildItem prices one line and computes its tax. Non-taxable lines,
// exempt customers, and validated reverse-charge all skip tax; the tax
// calculator handles the latter two through its own short circuits.
func (s *Service) buildItem(ctx context.Context, in invoicedomain.LineInput, profile invoicedomain.TaxProfile, now time.Time) (*invoicedomain.InvoiceItem, error) {
	if strings.TrimSpace(in.Description) == "" || in.Quantity <= 0 || in.UnitAmount < 0 {
		return nil, invoicedomain.ErrInvalidItem
	}

	lineSubtotal := in.Quantity * in.UnitAmount
	var lineTax int64
	if in.Taxable && profile.Country != "" {
		res, err := s.tax.Calculate(ctx, taxdomain.CalculateRequest{
			Subtotal:  lineSubtotal,
			Country:   profile.Country,
			State:     profile.State,
			VATNumber: profile.VATNumber,
			IsExempt:  profile.CustomerExempt,
		})
		if err != nil {
			return nil, err
		}
		lineTax = res.Amount
	}

	return &invoicedomain.InvoiceItem{
		ID:             s.genID.Generate(),
		SubscriptionID: in.SubscriptionID,
		Description:    in.Description,
		Quantity:       in.Quantity,
		UnitAmount:     in.UnitAmount,
		Taxable:        in.Taxable,
		TaxAmount:      lineTax,
		SubtotalAmount: lineSubtotal,
		TotalAmount:    lineSubtotal + lineTax,
		PeriodStart:    in.PeriodStart,
		PeriodEnd:      in.PeriodEnd,
		CreatedAt:      now,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return s.load(ctx, s.db, id)
}

func (s *Service) GetItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

func (s *Service) MarkAsPaid(ctx context.Context, id snowflake.ID, amount int64, paidAt time.Time) (*invoicedomain.Invoice, error) {
	if amount <= 0 {
		return nil, invoicedomain.ErrInvalidPayment
	}

	var out invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !inv.Status.Payable() {
			return invoicedomain.ErrStateConflict
		}
		if amount > inv.BalanceAmount {
			return invoicedomain.ErrOverpayment
		}

		inv.AmountPaid += amount
		inv.BalanceAmount = inv.TotalAmount - inv.AmountPaid
		if inv.BalanceAmount == 0 {
			inv.Status = invoicedomain.InvoiceStatusPaid
			inv.PaidAt = &paidAt
		} else {
			inv.Status = invoicedomain.InvoiceStatusPartiallyPaid
		}
		inv.UpdatedAt = s.clock.Now()

		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) ApplyRefund(ctx context.Context, adj invoicedomain.RefundAdjustment) (*invoicedomain.Invoice, error) {
	if adj.Amount <= 0 {
		return nil, invoicedomain.ErrInvalidPayment
	}

	var out invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, adj.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoicedomain.InvoiceStatusCancelled {
			return invoicedomain.ErrStateConflict
		}
		if adj.Amount > inv.AmountPaid {
			return invoicedomain.ErrRefundExceedsPaid
		}

		inv.AmountPaid -= adj.Amount
		inv.BalanceAmount = inv.TotalAmount - inv.AmountPaid
		if inv.AmountPaid == 0 {
			inv.Status = invoicedomain.InvoiceStatusRefunded
			inv.PaidAt = nil
		} else {
			inv.Status = invoicedomain.InvoiceStatusPartiallyPaid
		}
		inv.UpdatedAt = s.clock.Now()

		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) (*invoicedomain.Invoice, error) {
	var out invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanTransitionTo(invoicedomain.InvoiceStatusCancelled) ||
			inv.Status == invoicedomain.InvoiceStatusPaid {
			return invoicedomain.ErrStateConflict
		}
		if inv.AmountPaid > 0 {
			// Money has moved; refund first, then the refund path
			// closes the invoice.
			return invoicedomain.ErrStateConflict
		}

		inv.Status = invoicedomain.InvoiceStatusCancelled
		inv.CancelReason = reason
		inv.BalanceAmount = 0
		inv.UpdatedAt = s.clock.Now()
		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) AddItem(ctx context.Context, invoiceID snowflake.ID, in invoicedomain.LineInput, profile invoicedomain.TaxProfile) (*invoicedomain.Invoice, error) {
	now := s.clock.Now()
	item, err := s.buildItem(ctx, in, profile, now)
	if err != nil {
		return nil, err
	}

	var out invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusPending:
		default:
			return invoicedomain.ErrStateConflict
		}

		item.InvoiceID = inv.ID
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		if err := s.recalculateTotals(tx, inv, now); err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// recalculateTotals re-derives subtotal and tax from the persisted
// items. AmountPaid and DiscountAmount are invoice-level facts and are
// preserved, not re-derived.
func (s *Service) recalculateTotals(tx *gorm.DB, inv *invoicedomain.Invoice, now time.Time) error {
	var sums struct {
		Subtotal int64
		Tax      int64
	}
	err := tx.Model(&invoicedomain.InvoiceItem{}).
		Select("COALESCE(SUM(subtotal_amount),0) AS subtotal, COALESCE(SUM(tax_amount),0) AS tax").
		Where("invoice_id = ?", inv.ID).
		Scan(&sums).Error
	if err != nil {
		return err
	}

	inv.SubtotalAmount = sums.Subtotal
	inv.TaxAmount = sums.Tax
	inv.TotalAmount = sums.Subtotal + sums.Tax - inv.DiscountAmount
	inv.BalanceAmount = inv.TotalAmount - inv.AmountPaid
	inv.UpdatedAt = now
	return tx.Save(inv).Error
}

func (s *Service) MarkOverdue(ctx context.Context, now time.Time, limit int) ([]invoicedomain.Invoice, error) {
	due, err := s.ListOverdue(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	flipped := make([]invoicedomain.Invoice, 0, len(due))
	for i := range due {
		inv := due[i]
		result := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, inv.Status).
			Updates(map[string]interface{}{
				"status":     invoicedomain.InvoiceStatusOverdue,
				"updated_at": now,
			})
		if result.Error != nil {
			return flipped, result.Error
		}
		if result.RowsAffected == 0 {
			continue // paid or cancelled between list and update
		}
		inv.Status = invoicedomain.InvoiceStatusOverdue
		inv.UpdatedAt = now
		flipped = append(flipped, inv)

		s.notifier.Notify(ctx, notify.Event{
			Type:       notify.EventInvoiceOverdue,
			CustomerID: inv.CustomerID.String(),
			Reference:  inv.InvoiceNumber,
			Amount:     inv.BalanceAmount,
			Currency:   inv.Currency,
			OccurredAt: now,
			Detail:     map[string]string{"balance": strconv.FormatInt(inv.BalanceAmount, 10)},
		})
	}
	return flipped, nil
}

func (s *Service) ListOverdue(ctx context.Context, now time.Time, limit int) ([]invoicedomain.Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	// Only PENDING invoices flip to OVERDUE. A partially paid invoice
	// keeps its status so the received amount stays visible.
	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?",
			invoicedomain.InvoiceStatusPending, now).
		Order("due_at ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}
