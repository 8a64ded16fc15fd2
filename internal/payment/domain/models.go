// Package domain defines payment entities and the adapter contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Terminal reports whether the orchestrator may no longer touch the row
// outside the refund path.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

type PaymentMethod string

const (
	MethodWallet  PaymentMethod = "wallet"
	MethodGateway PaymentMethod = "gateway"
)

// Payment is one attempt to settle (part of) an invoice. RefundedAmount
// never exceeds Amount.
type Payment struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	InvoiceID         snowflake.ID  `gorm:"not null;index"`
	CustomerID        snowflake.ID  `gorm:"not null;index"`
	Provider          string        `gorm:"type:text;not null"`
	Method            PaymentMethod `gorm:"type:text;not null"`
	Amount            int64         `gorm:"not null"`
	Currency          string        `gorm:"type:text;not null"`
	Status            PaymentStatus `gorm:"type:text;not null;default:'PENDING';index"`
	RefundedAmount    int64         `gorm:"not null;default:0"`
	ProviderPaymentID string        `gorm:"type:text;index:idx_payments_provider_ref,unique,where:provider_payment_id <> ''"`
	FailureCode       string        `gorm:"type:text"`
	FailureMessage    string        `gorm:"type:text"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

type Refund struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	PaymentID        snowflake.ID `gorm:"not null;index"`
	Amount           int64        `gorm:"not null"`
	Status           RefundStatus `gorm:"type:text;not null;default:'PENDING'"`
	ProviderRefundID string       `gorm:"type:text"`
	Reason           string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Refund) TableName() string { return "payment_refunds" }

// EventRecord is the append-only webhook inbox. The unique
// (provider, provider_event_id) pair makes redelivery an insert
// conflict; ProcessedAt marks completed application.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:idx_payment_events_provider_event"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:idx_payment_events_provider_event"`
	EventType       string         `gorm:"type:text;not null"`
	CustomerID      snowflake.ID   `gorm:"index"`
	Payload         datatypes.JSON `gorm:"not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

func (EventRecord) TableName() string { return "payment_events" }

// ProviderConfig holds per-provider gateway credentials. UpdatedAt is
// the router's cache invalidation key.
type ProviderConfig struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Provider  string            `gorm:"type:text;not null;uniqueIndex"`
	Config    datatypes.JSONMap `gorm:"not null"`
	Enabled   bool              `gorm:"not null;default:true"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	CustomerID        snowflake.ID
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
	InvoiceID         *snowflake.ID
}
