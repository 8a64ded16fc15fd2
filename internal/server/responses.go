package server

import (
	"time"

	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
)

// Response views render snowflake ids as strings so they survive
// JavaScript number parsing.

type walletView struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	MainBalance  int64     `json:"main_balance"`
	BonusBalance int64     `json:"bonus_balance"`
	PromoBalance int64     `json:"promo_balance"`
	TotalBalance int64     `json:"total_balance"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newWalletView(a *walletdomain.Account) walletView {
	return walletView{
		ID:           a.ID.String(),
		CustomerID:   a.CustomerID.String(),
		MainBalance:  a.MainBalance,
		BonusBalance: a.BonusBalance,
		PromoBalance: a.PromoBalance,
		TotalBalance: a.TotalBalance,
		UpdatedAt:    a.UpdatedAt,
	}
}

type transactionView struct {
	ID            string    `json:"id"`
	Tier          string    `json:"tier"`
	Direction     string    `json:"direction"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Description   string    `json:"description,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newTransactionViews(txs []walletdomain.Transaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ID:            tx.ID.String(),
			Tier:          string(tx.Tier),
			Direction:     string(tx.Direction),
			Type:          string(tx.Type),
			Amount:        tx.Amount,
			BalanceBefore: tx.BalanceBefore,
			BalanceAfter:  tx.BalanceAfter,
			Description:   tx.Description,
			Reference:     tx.Reference,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return views
}

type tierDeductionView struct {
	Tier   string `json:"tier"`
	Amount int64  `json:"amount"`
}

type debitView struct {
	Wallet     walletView          `json:"wallet"`
	Deductions []tierDeductionView `json:"deductions"`
}

func newDebitView(res *walletdomain.DebitResult) debitView {
	deductions := make([]tierDeductionView, 0, len(res.Deductions))
	for _, d := range res.Deductions {
		deductions = append(deductions, tierDeductionView{Tier: string(d.Tier), Amount: d.Amount})
	}
	return debitView{Wallet: newWalletView(res.Account), Deductions: deductions}
}

type topUpConfigView struct {
	CustomerID      string     `json:"customer_id"`
	Enabled         bool       `json:"enabled"`
	ThresholdAmount int64      `json:"threshold_amount"`
	TargetAmount    int64      `json:"target_amount"`
	GatewayProvider string     `json:"gateway_provider,omitempty"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newTopUpConfigView(cfg *walletdomain.TopUpConfig) topUpConfigView {
	// PaymentToken stays server-side.
	return topUpConfigView{
		CustomerID:      cfg.CustomerID.String(),
		Enabled:         cfg.Enabled,
		ThresholdAmount: cfg.ThresholdAmount,
		TargetAmount:    cfg.TargetAmount,
		GatewayProvider: cfg.GatewayProvider,
		LastAttemptAt:   cfg.LastAttemptAt,
		UpdatedAt:       cfg.UpdatedAt,
	}
}

type invoiceView struct {
	ID             string     `json:"id"`
	InvoiceNumber  string     `json:"invoice_number"`
	CustomerID     string     `json:"customer_id"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	SubtotalAmount int64      `json:"subtotal_amount"`
	TaxAmount      int64      `json:"tax_amount"`
	DiscountAmount int64      `json:"discount_amount"`
	TotalAmount    int64      `json:"total_amount"`
	AmountPaid     int64      `json:"amount_paid"`
	BalanceAmount  int64      `json:"balance_amount"`
	CouponCode     string     `json:"coupon_code,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newInvoiceView(inv *invoicedomain.Invoice) invoiceView {
	view := invoiceView{
		ID:             inv.ID.String(),
		InvoiceNumber:  inv.InvoiceNumber,
		CustomerID:     inv.CustomerID.String(),
		Currency:       inv.Currency,
		Status:         string(inv.Status),
		SubtotalAmount: inv.SubtotalAmount,
		TaxAmount:      inv.TaxAmount,
		DiscountAmount: inv.DiscountAmount,
		TotalAmount:    inv.TotalAmount,
		AmountPaid:     inv.AmountPaid,
		BalanceAmount:  inv.BalanceAmount,
		CouponCode:     inv.CouponCode,
		DueAt:          inv.DueAt,
		PaidAt:         inv.PaidAt,
		CancelReason:   inv.CancelReason,
		CreatedAt:      inv.CreatedAt,
	}
	if inv.SubscriptionID != nil {
		id := inv.SubscriptionID.String()
		view.SubscriptionID = &id
	}
	return view
}

func newInvoiceViews(invoices []invoicedomain.Invoice) []invoiceView {
	views := make([]invoiceView, 0, len(invoices))
	for i := range invoices {
		views = append(views, newInvoiceView(&invoices[i]))
	}
	return views
}

type invoiceItemView struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	Quantity       int64      `json:"quantity"`
	UnitAmount     int64      `json:"unit_amount"`
	Taxable        bool       `json:"taxable"`
	TaxAmount      int64      `json:"tax_amount"`
	SubtotalAmount int64      `json:"subtotal_amount"`
	TotalAmount    int64      `json:"total_amount"`
	PeriodStart    *time.Time `json:"period_start,omitempty"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
}

func newInvoiceItemViews(items []invoicedomain.InvoiceItem) []invoiceItemView {
	views := make([]invoiceItemView, 0, len(items))
	for _, item := range items {
		views = append(views, invoiceItemView{
			ID:             item.ID.String(),
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitAmount:     item.UnitAmount,
			Taxable:        item.Taxable,
			TaxAmount:      item.TaxAmount,
			SubtotalAmount: item.SubtotalAmount,
			TotalAmount:    item.TotalAmount,
			PeriodStart:    item.PeriodStart,
			PeriodEnd:      item.PeriodEnd,
		})
	}
	return views
}

type paymentView struct {
	ID                string    `json:"id"`
	InvoiceID         string    `json:"invoice_id"`
	CustomerID        string    `json:"customer_id"`
	Provider          string    `json:"provider,omitempty"`
	Method            string    `json:"method"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	RefundedAmount    int64     `json:"refunded_amount"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	FailureCode       string    `json:"failure_code,omitempty"`
	FailureMessage    string    `json:"failure_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func newPaymentView(p *paymentdomain.Payment) paymentView {
	return paymentView{
		ID:                p.ID.String(),
		InvoiceID:         p.InvoiceID.String(),
		CustomerID:        p.CustomerID.String(),
		Provider:          p.Provider,
		Method:            string(p.Method),
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            string(p.Status),
		RefundedAmount:    p.RefundedAmount,
		ProviderPaymentID: p.ProviderPaymentID,
		FailureCode:       p.FailureCode,
		FailureMessage:    p.FailureMessage,
		CreatedAt:         p.CreatedAt,
	}
}

func newPaymentViews(payments []paymentdomain.Payment) []paymentView {
	views := make([]paymentView, 0, len(payments))
	for i := range payments {
		views = append(views, newPaymentView(&payments[i]))
	}
	return views
}

type refundView struct {
	ID               string    `json:"id"`
	PaymentID        string    `json:"payment_id"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	ProviderRefundID string    `json:"provider_refund_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func newRefundView(r *paymentdomain.Refund) refundView {
	return refundView{
		ID:               r.ID.String(),
		PaymentID:        r.PaymentID.String(),
		Amount:           r.Amount,
		Status:           string(r.Status),
		ProviderRefundID: r.ProviderRefundID,
		Reason:           r.Reason,
		CreatedAt:        r.CreatedAt,
	}
}

type couponView struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	Value             int64      `json:"value"`
	MinOrderAmount    int64      `json:"min_order_amount"`
	MaxDiscountAmount int64      `json:"max_discount_amount"`
	MaxUses           int64      `json:"max_uses"`
	MaxUsesPerUser    int64      `json:"max_uses_per_user"`
	UsedCount         int64      `json:"used_count"`
	EligibleProducts  []string   `json:"eligible_products,omitempty"`
	ExcludedProducts  []string   `json:"excluded_products,omitempty"`
	StartsAt          *time.Time `json:"starts_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newCouponView(c *coupondomain.Coupon) couponView {
	return couponView{
		ID:                c.ID.String(),
		Code:              c.Code,
		Type:              string(c.Type),
		Status:            string(c.Status),
		Value:             c.Value,
		MinOrderAmount:    c.MinOrderAmount,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MaxUses:           c.MaxUses,
		MaxUsesPerUser:    c.MaxUsesPerUser,
		UsedCount:         c.UsedCount,
		EligibleProducts:  c.EligibleProducts,
		ExcludedProducts:  c.ExcludedProducts,
		StartsAt:          c.StartsAt,
		ExpiresAt:         c.ExpiresAt,
		CreatedAt:         c.CreatedAt,
	}
}

type subscriptionView struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	ProductID          string     `json:"product_id"`
	PendingProductID   *string    `json:"pending_product_id,omitempty"`
	BillingCycle       string     `json:"billing_cycle"`
	PriceAmount        int64      `json:"price_amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	NextDueAt          time.Time  `json:"next_due_at"`
	AutoRenew          bool       `json:"auto_renew"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	GraceUntil         *time.Time `json:"grace_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func newSubscriptionView(sub *subscriptiondomain.Subscription) subscriptionView {
	return subscriptionView{
		ID:                 sub.ID.String(),
		CustomerID:         sub.CustomerID.String(),
		ProductID:          sub.ProductID,
		PendingProductID:   sub.PendingProductID,
		BillingCycle:       string(sub.BillingCycle),
		PriceAmount:        sub.PriceAmount,
		Currency:           sub.Currency,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		NextDueAt:          sub.NextDueAt,
		AutoRenew:          sub.AutoRenew,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		TrialEndsAt:        sub.TrialEndsAt,
		PausedAt:           sub.PausedAt,
		GraceUntil:         sub.GraceUntil,
		CreatedAt:          sub.CreatedAt,
	}
}

func newSubscriptionViews(subs []subscriptiondomain.Subscription) []subscriptionView {
	views := make([]subscriptionView, 0, len(subs))
	for i := range subs {
		views = append(views, newSubscriptionView(&subs[i]))
	}
	return views
}

type taxRuleView struct {
	ID        string    `json:"id"`
	Country   string    `json:"country"`
	State     string    `json:"state,omitempty"`
	Name      string    `json:"name"`
	Rate      float64   `json:"rate"`
	Compound  bool      `json:"compound"`
	Inclusive bool      `json:"inclusive"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newTaxRuleView(r *taxdomain.Rule) taxRuleView {
	return taxRuleView{
		ID:        r.ID.String(),
		Country:   r.Country,
		State:     r.State,
		Name:      r.Name,
		Rate:      r.Rate,
		Compound:  r.Compound,
		Inclusive: r.Inclusive,
		Priority:  r.Priority,
		Enabled:   r.Enabled,
		UpdatedAt: r.UpdatedAt,
	}
}

func newTaxRuleViews(rules []taxdomain.Rule) []taxRuleView {
	views := make([]taxRuleView, 0, len(rules))
	for i := range rules {
		views = append(views, newTaxRuleView(&rules[i]))
	}
	return views
}
