// Package domain contains the subscription lifecycle model. Renewal is
// postpaid: the charge at NextDueAt settles the period that just
// elapsed, then the period advances by one billing cycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingCycle is the renewal cadence of a subscription.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleYearly    BillingCycle = "YEARLY"
)

func (c BillingCycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	}
	return false
}

// Days returns the fixed cycle length in days. Periods advance by a
// fixed number of days so every renewal of the same cycle bills the
// same span regardless of calendar month lengths.
func (c BillingCycle) Days() int {
	switch c {
	case CycleQuarterly:
		return 90
	case CycleYearly:
		return 365
	default:
		return 30
	}
}

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "TRIAL"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusPastDue   SubscriptionStatus = "PAST_DUE"
	StatusSuspended SubscriptionStatus = "SUSPENDED"
	StatusExpired   SubscriptionStatus = "EXPIRED"
	StatusCancelled SubscriptionStatus = "CANCELLED"
	StatusPaused    SubscriptionStatus = "PAUSED"
)

// Terminal reports whether the subscription can never bill again.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusTrial:     {StatusActive, StatusPastDue, StatusExpired, StatusCancelled},
	StatusActive:    {StatusPastDue, StatusSuspended, StatusCancelled, StatusPaused},
	StatusPastDue:   {StatusActive, StatusSuspended, StatusExpired, StatusCancelled},
	StatusSuspended: {StatusActive, StatusExpired, StatusCancelled},
	StatusPaused:    {StatusActive, StatusCancelled},
}

// CanTransitionTo validates a lifecycle move. Renewal keeps ACTIVE on
// ACTIVE, so same-state is always allowed.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Subscription captures a customer's recurring billing agreement.
// PriceAmount and Currency are snapshotted from the catalog at creation
// and at every plan change; PendingProductID holds a deferred plan
// change applied at the next successful renewal.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	CustomerID         snowflake.ID       `gorm:"not null;index"`
	ProductID          string             `gorm:"type:text;not null"`
	PendingProductID   *string            `gorm:"type:text"`
	BillingCycle       BillingCycle       `gorm:"type:text;not null"`
	PriceAmount        int64              `gorm:"not null"`
	Currency           string             `gorm:"type:varchar(3);not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null;index"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	NextDueAt          time.Time          `gorm:"not null;index"`
	AutoRenew          bool               `gorm:"not null;default:true"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false"`
	TrialEndsAt        *time.Time         `gorm:""`
	PausedAt           *time.Time         `gorm:""`
	GraceUntil         *time.Time         `gorm:""`
	CreatedAt          time.Time          `gorm:"not null"`
	UpdatedAt          time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
