package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/smallbiznis/billingcore/internal/config"
	"go.uber.org/zap"
)

// SMTPNotifier delivers billing events by email. Delivery happens on a
// detached goroutine so callers never block on the mail server.
type SMTPNotifier struct {
	addr     string
	from     string
	username string
	password string
	host     string
	log      *zap.Logger
}

func NewSMTPNotifier(cfg config.Config, log *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		addr:     fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort),
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		host:     cfg.SMTPHost,
		log:      log.Named("notify.smtp"),
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, event Event) {
	recipient := event.Detail["email"]
	if strings.TrimSpace(recipient) == "" {
		n.log.Debug("event without recipient, skipping", zap.String("type", event.Type))
		return
	}

	subject := subjectFor(event)
	body := fmt.Sprintf(
		"Event: %s\r\nReference: %s\r\nAmount: %d %s\r\n",
		event.Type, event.Reference, event.Amount, event.Currency,
	)
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", recipient, subject, body))

	go func() {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		if err := smtp.SendMail(n.addr, auth, n.from, []string{recipient}, msg); err != nil {
			n.log.Warn("notification delivery failed",
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}()
}

func subjectFor(event Event) string {
	switch event.Type {
	case EventInvoiceIssued:
		return "Your invoice " + event.Reference
	case EventInvoiceOverdue:
		return "Invoice " + event.Reference + " is overdue"
	case EventPaymentCompleted:
		return "Payment received"
	case EventSubscriptionRenewed:
		return "Your subscription has renewed"
	default:
		return "Billing notification"
	}
}
