// Package notify is the boundary to the external notification/email
// collaborator. Dispatch is fire-and-forget: billing flows never block
// or fail on notification delivery.
package notify

import (
	"context"
	"time"

	"github.com/smallbiznis/billingcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EventInvoiceIssued       = "invoice.issued"
	EventInvoiceOverdue      = "invoice.overdue"
	EventPaymentCompleted    = "payment.completed"
	EventPaymentFailed       = "payment.failed"
	EventSubscriptionRenewed = "subscription.renewed"
	EventSubscriptionExpired = "subscription.expired"
)

// Event is a billing notification handed to the collaborator.
type Event struct {
	Type       string
	CustomerID string
	Reference  string
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Detail     map[string]string
}

type Notifier interface {
	// Notify must not block the calling flow; implementations either
	// deliver inline cheaply or hand off asynchronously.
	Notify(ctx context.Context, event Event)
}

var Module = fx.Module("notify",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) Notifier {
	switch cfg.NotifierKind {
	case "smtp":
		return NewSMTPNotifier(cfg, log)
	default:
		return NewLogNotifier(log)
	}
}

// LogNotifier records events to the application log. Default in
// development and when no delivery collaborator is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.log.Info("billing event",
		zap.String("type", event.Type),
		zap.String("customer_id", event.CustomerID),
		zap.String("reference", event.Reference),
		zap.Int64("amount", event.Amount),
		zap.String("currency", event.Currency),
	)
}
