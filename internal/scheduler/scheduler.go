// Package scheduler runs the periodic billing sweeps: subscription
// renewals, overdue marking, auto top-ups, and coupon expiry. Every job
// is idempotent over persisted state, so at-least-once invocation and
// overlapping runs are safe.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/billingcore/internal/clock"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	WalletSvc       walletdomain.Service
	CouponSvc       coupondomain.Service
	Payments        paymentdomain.Orchestrator
	Metrics         *metrics.Metrics `optional:"true"`
	Config          Config           `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	walletSvc       walletdomain.Service
	couponSvc       coupondomain.Service
	payments        paymentdomain.Orchestrator
	metrics         *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.InvoiceSvc == nil || p.WalletSvc == nil || p.CouponSvc == nil || p.Payments == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		walletSvc:       p.WalletSvc,
		couponSvc:       p.CouponSvc,
		payments:        p.Payments,
		metrics:         p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	s.metrics.IncJobRun(name)
	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the batch resumes on the next tick.
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"renewals", s.isJobEnabled("renewals"), func(ctx context.Context) error {
			return s.runJob(ctx, "renewals", s.RenewalSweepJob)
		}},
		{"overdue", s.isJobEnabled("overdue"), func(ctx context.Context) error {
			return s.runJob(ctx, "overdue", s.OverdueSweepJob)
		}},
		{"topups", s.isJobEnabled("topups"), func(ctx context.Context) error {
			return s.runJob(ctx, "topups", s.TopUpSweepJob)
		}},
		{"coupon_expiry", s.isJobEnabled("coupon_expiry"), func(ctx context.Context) error {
			return s.runJob(ctx, "coupon_expiry", s.CouponExpiryJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means all jobs run (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
