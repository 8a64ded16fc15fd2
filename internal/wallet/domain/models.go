// Package domain contains persistence models for customer wallets.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BalanceTier identifies one of the three wallet sub-balances.
type BalanceTier string

const (
	TierMain  BalanceTier = "main"
	TierBonus BalanceTier = "bonus"
	TierPromo BalanceTier = "promo"
)

// ConsumptionOrder is the fixed tier priority applied on debit.
var ConsumptionOrder = []BalanceTier{TierPromo, TierBonus, TierMain}

// TransactionType classifies ledger transactions.
type TransactionType string

const (
	TransactionTypeCredit     TransactionType = "CREDIT"
	TransactionTypeDebit      TransactionType = "DEBIT"
	TransactionTypeCharge     TransactionType = "CHARGE"
	TransactionTypeRefund     TransactionType = "REFUND"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	TransactionTypeTopUp      TransactionType = "TOPUP"
)

// TransactionDirection marks whether a transaction increased or
// decreased the wallet total.
type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "credit"
	DirectionDebit  TransactionDirection = "debit"
)

// Account is a customer wallet with three sub-balances, all in minor
// currency units. TotalBalance always equals the sum of the three tiers
// and no tier is ever negative. Version guards concurrent mutation.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	CustomerID   snowflake.ID `gorm:"not null;uniqueIndex"`
	MainBalance  int64        `gorm:"not null;default:0"`
	BonusBalance int64        `gorm:"not null;default:0"`
	PromoBalance int64        `gorm:"not null;default:0"`
	TotalBalance int64        `gorm:"not null;default:0"`
	Version      int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "wallet_accounts" }

// Balance returns the balance held in a single tier.
func (a *Account) Balance(tier BalanceTier) int64 {
	switch tier {
	case TierMain:
		return a.MainBalance
	case TierBonus:
		return a.BonusBalance
	case TierPromo:
		return a.PromoBalance
	}
	return 0
}

// Transaction is an immutable, append-only ledger record. Rows are never
// updated or deleted after creation. BalanceBefore/BalanceAfter snapshot
// the wallet total around the mutation.
type Transaction struct {
	ID            snowflake.ID          `gorm:"primaryKey"`
	WalletID      snowflake.ID          `gorm:"not null;index"`
	CustomerID    snowflake.ID          `gorm:"not null;index"`
	Tier          BalanceTier           `gorm:"type:text;not null"`
	Direction     TransactionDirection  `gorm:"type:text;not null"`
	Type          TransactionType       `gorm:"type:text;not null;index"`
	Amount        int64                 `gorm:"not null"`
	BalanceBefore int64                 `gorm:"not null"`
	BalanceAfter  int64                 `gorm:"not null"`
	Description   string                `gorm:"type:text"`
	Reference     string                `gorm:"type:text;index"`
	ActorID       *snowflake.ID         `gorm:"index"`
	CreatedAt     time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "wallet_transactions" }

// TopUpConfig is the per-wallet auto top-up policy. The sweep compares
// the live wallet total against ThresholdAmount; LastAttemptAt dedupes
// concurrent sweep runs against the same shortfall.
type TopUpConfig struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	WalletID        snowflake.ID `gorm:"not null;uniqueIndex"`
	CustomerID      snowflake.ID `gorm:"not null;index"`
	Enabled         bool         `gorm:"not null;default:false"`
	ThresholdAmount int64        `gorm:"not null;default:0"`
	TargetAmount    int64        `gorm:"not null;default:0"`
	PaymentToken    string       `gorm:"type:text"`
	GatewayProvider string       `gorm:"type:text"`
	LastAttemptAt   *time.Time   `gorm:""`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TopUpConfig) TableName() string { return "wallet_topup_configs" }
