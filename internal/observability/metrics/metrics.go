// Package metrics exposes prometheus instrumentation for billing flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

var Module = fx.Module("observability.metrics",
	fx.Provide(NewRegistry),
	fx.Provide(New),
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Metrics aggregates billing counters shared across services.
type Metrics struct {
	walletTransactions *prometheus.CounterVec
	paymentEvents      *prometheus.CounterVec
	invoicesIssued     prometheus.Counter
	jobRuns            *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		walletTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billingcore_wallet_transactions_total",
			Help: "Wallet ledger transactions by type and tier.",
		}, []string{"type", "tier"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billingcore_payment_events_total",
			Help: "Payment provider events by provider and type.",
		}, []string{"provider", "type"}),
		invoicesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billingcore_invoices_issued_total",
			Help: "Invoices created.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billingcore_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billingcore_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billingcore_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.walletTransactions,
		m.paymentEvents,
		m.invoicesIssued,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
	)
	return m
}

func (m *Metrics) RecordWalletTransaction(txType, tier string) {
	if m == nil {
		return
	}
	m.walletTransactions.WithLabelValues(txType, tier).Inc()
}

func (m *Metrics) RecordPaymentEvent(provider, eventType string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(provider, eventType).Inc()
}

func (m *Metrics) RecordInvoiceIssued() {
	if m == nil {
		return
	}
	m.invoicesIssued.Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}
