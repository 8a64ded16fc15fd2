package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service is the wallet ledger. Every balance mutation commits together
// with its Transaction rows in one database transaction.
type Service interface {
	// GetOrCreate returns the customer's wallet, creating a zero-balance
	// account on first financial interaction. Idempotent.
	GetOrCreate(ctx context.Context, customerID snowflake.ID) (*Account, error)

	// Credit increments one tier and the total atomically.
	Credit(ctx context.Context, req CreditRequest) (*Account, error)

	// Debit consumes tiers in ConsumptionOrder. Fails with
	// ErrInsufficientBalance and mutates nothing when the total is short.
	Debit(ctx context.Context, req DebitRequest) (*DebitResult, error)

	// CanAfford is a read-only total-balance check.
	CanAfford(ctx context.Context, customerID snowflake.ID, amount int64) (bool, error)

	// AdminAdjust applies a signed delta to the main tier. A resulting
	// negative main balance is rejected. The transaction records the actor.
	AdminAdjust(ctx context.Context, req AdjustRequest) (*Account, error)

	ListTransactions(ctx context.Context, customerID snowflake.ID, limit int) ([]Transaction, error)

	SetTopUpConfig(ctx context.Context, req TopUpConfigRequest) (*TopUpConfig, error)
	GetTopUpConfig(ctx context.Context, customerID snowflake.ID) (*TopUpConfig, error)

	// ListTopUpCandidates returns enabled configs whose live wallet total
	// is below the live threshold and whose last attempt is older than
	// the cooldown.
	ListTopUpCandidates(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]TopUpCandidate, error)

	// ClaimTopUp stamps LastAttemptAt so a sweep re-run mid-flight cannot
	// trigger a second top-up for the same shortfall. Returns false when
	// another run already claimed it.
	ClaimTopUp(ctx context.Context, configID snowflake.ID, now time.Time, cooldown time.Duration) (bool, error)
}

type CreditRequest struct {
	CustomerID  snowflake.ID
	Amount      int64
	Tier        BalanceTier
	Type        TransactionType
	Description string
	Reference   string
}

type DebitRequest struct {
	CustomerID  snowflake.ID
	Amount      int64
	Type        TransactionType
	Description string
	Reference   string
}

// DebitResult reports the per-tier deductions of a successful debit,
// in consumption order.
type DebitResult struct {
	Account    *Account
	Deductions []TierDeduction
}

type TierDeduction struct {
	Tier   BalanceTier
	Amount int64
}

type AdjustRequest struct {
	CustomerID snowflake.ID
	Delta      int64
	Reason     string
	ActorID    snowflake.ID
}

type TopUpConfigRequest struct {
	CustomerID      snowflake.ID
	Enabled         bool
	ThresholdAmount int64
	TargetAmount    int64
	PaymentToken    string
	GatewayProvider string
}

// TopUpCandidate pairs a due config with the wallet's current shortfall.
type TopUpCandidate struct {
	Config    TopUpConfig
	Total     int64
	Shortfall int64
}
