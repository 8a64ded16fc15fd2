package scheduler

import (
	"context"
	"errors"
	"fmt"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"go.uber.org/zap"
)

// RenewalSweepJob claims one batch of due subscriptions and renews
// each. A subscription that stays due after its attempt (in-grace
// PAST_DUE) is not re-claimed until the next tick, so a single batch
// per run is deliberate.
func (s *Scheduler) RenewalSweepJob(ctx context.Context) error {
	now := s.clock.Now()

	due, err := s.subscriptionSvc.ClaimDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, sub := range due {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if _, err := s.subscriptionSvc.Renew(ctx, sub.ID); err != nil {
			if errors.Is(err, subscriptiondomain.ErrStateConflict) {
				// Another worker got there first.
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.log.Error("renewal failed",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Error(err),
			)
		}
	}
	return jobErr
}

// OverdueSweepJob flips unpaid invoices past their due date to OVERDUE,
// batch by batch until none remain.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	now := s.clock.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		flipped, err := s.invoiceSvc.MarkOverdue(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}
	}
}

// TopUpSweepJob charges the stored gateway token for every wallet below
// its threshold and credits the wallet on success. ClaimTopUp stamps
// the attempt first so overlapping sweeps cannot double-charge the same
// shortfall.
func (s *Scheduler) TopUpSweepJob(ctx context.Context) error {
	now := s.clock.Now()

	candidates, err := s.walletSvc.ListTopUpCandidates(ctx, now, s.cfg.TopUpCooldown, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		claimed, err := s.walletSvc.ClaimTopUp(ctx, candidate.Config.ID, now, s.cfg.TopUpCooldown)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !claimed {
			continue
		}
		if err := s.topUpWallet(ctx, candidate); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Error("auto top-up failed",
				zap.Int64("customer_id", int64(candidate.Config.CustomerID)),
				zap.Int64("shortfall", candidate.Shortfall),
				zap.Error(err),
			)
		}
	}
	return jobErr
}

// topUpWallet funds one wallet back to its target: an invoice records
// the charge, the stored token pays it through the gateway, and the
// wallet is credited only after the payment completes.
func (s *Scheduler) topUpWallet(ctx context.Context, candidate walletdomain.TopUpCandidate) error {
	cfg := candidate.Config

	inv, err := s.invoiceSvc.Create(ctx, invoicedomain.CreateRequest{
		CustomerID: cfg.CustomerID,
		Currency:   s.cfg.TopUpCurrency,
		Items: []invoicedomain.LineInput{{
			Description: "Wallet auto top-up",
			Quantity:    1,
			UnitAmount:  candidate.Shortfall,
		}},
	})
	if err != nil {
		return fmt.Errorf("topup invoice: %w", err)
	}

	payment, err := s.payments.ProcessPayment(ctx, paymentdomain.ProcessPaymentRequest{
		InvoiceID:    inv.ID,
		Amount:       inv.TotalAmount,
		Method:       paymentdomain.MethodGateway,
		Provider:     cfg.GatewayProvider,
		PaymentToken: cfg.PaymentToken,
	})
	if err != nil {
		return fmt.Errorf("topup charge: %w", err)
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		// requires_action or a recorded failure; nothing to credit.
		s.log.Warn("top-up payment did not complete",
			zap.Int64("customer_id", int64(cfg.CustomerID)),
			zap.String("status", string(payment.Status)),
		)
		return nil
	}

	_, err = s.walletSvc.Credit(ctx, walletdomain.CreditRequest{
		CustomerID:  cfg.CustomerID,
		Amount:      candidate.Shortfall,
		Tier:        walletdomain.TierMain,
		Type:        walletdomain.TransactionTypeTopUp,
		Description: "Auto top-up",
		Reference:   inv.InvoiceNumber,
	})
	if err != nil {
		return fmt.Errorf("topup credit: %w", err)
	}
	return nil
}

// CouponExpiryJob retires ACTIVE coupons whose validity window passed.
func (s *Scheduler) CouponExpiryJob(ctx context.Context) error {
	expired, err := s.couponSvc.ExpireDue(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("coupons expired", zap.Int64("count", expired))
	}
	return nil
}
