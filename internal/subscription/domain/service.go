package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreateRequest starts a subscription. Price and currency come from the
// catalog lookup for ProductID. WithTrial opens the configured trial
// window instead of billing immediately.
type CreateRequest struct {
	CustomerID   snowflake.ID
	ProductID    string
	BillingCycle BillingCycle
	AutoRenew    bool
	WithTrial    bool
}

// ChangePlanRequest switches the subscription to another product.
// Immediate prorates the remainder of the current period through the
// wallet now; otherwise the change is deferred to the next renewal and
// nothing is charged immediately.
type ChangePlanRequest struct {
	NewProductID string
	Immediate    bool
}

// Service drives the subscription state machine.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	ListByCustomer(ctx context.Context, customerID snowflake.ID, limit int) ([]Subscription, error)

	// Renew settles one due period: a successful wallet charge advances
	// the period by the cycle length and emits a paid invoice for the
	// elapsed period; an insufficient balance moves the subscription to
	// PAST_DUE with a grace deadline. Calling before NextDueAt is a
	// no-op, so at-least-once sweeps are safe.
	Renew(ctx context.Context, id snowflake.ID) (*Subscription, error)

	Cancel(ctx context.Context, id snowflake.ID, atPeriodEnd bool) (*Subscription, error)
	Pause(ctx context.Context, id snowflake.ID) (*Subscription, error)

	// Resume reactivates a PAUSED or SUSPENDED subscription with a
	// fresh period starting at the resume instant.
	Resume(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Suspend(ctx context.Context, id snowflake.ID) (*Subscription, error)

	ChangePlan(ctx context.Context, id snowflake.ID, req ChangePlanRequest) (*Subscription, error)

	// ClaimDue returns subscriptions whose NextDueAt has passed, locked
	// for the claiming transaction so concurrent sweeps skip them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
}
