package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&walletdomain.Account{},
		&walletdomain.Transaction{},
		&walletdomain.TopUpConfig{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node}).(*Service)
	return svc, db
}

func seedWallet(t *testing.T, svc *Service, main, bonus, promo int64) snowflake.ID {
	t.Helper()
	customerID := svc.genID.Generate()
	ctx := context.Background()
	if main > 0 {
		_, err := svc.Credit(ctx, walletdomain.CreditRequest{CustomerID: customerID, Amount: main, Tier: walletdomain.TierMain})
		require.NoError(t, err)
	}
	if bonus > 0 {
		_, err := svc.Credit(ctx, walletdomain.CreditRequest{CustomerID: customerID, Amount: bonus, Tier: walletdomain.TierBonus})
		require.NoError(t, err)
	}
	if promo > 0 {
		_, err := svc.Credit(ctx, walletdomain.CreditRequest{CustomerID: customerID, Amount: promo, Tier: walletdomain.TierPromo})
		require.NoError(t, err)
	}
	return customerID
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customerID := svc.genID.Generate()

	first, err := svc.GetOrCreate(ctx, customerID)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, customerID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, second.TotalBalance)
}

func TestCredit_WritesTransactionWithSnapshot(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customerID := svc.genID.Generate()

	account, err := svc.Credit(ctx, walletdomain.CreditRequest{
		CustomerID:  customerID,
		Amount:      500,
		Tier:        walletdomain.TierBonus,
		Description: "promo grant",
		Reference:   "grant-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.BonusBalance)
	assert.Equal(t, int64(500), account.TotalBalance)

	var entries []walletdomain.Transaction
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].BalanceBefore)
	assert.Equal(t, int64(500), entries[0].BalanceAfter)
	assert.Equal(t, walletdomain.DirectionCredit, entries[0].Direction)
}

func TestDebit_TieredConsumptionOrder(t *testing.T) {
	// Scenario: main=10, bonus=5, promo=3; debit(7) consumes promo then
	// bonus and leaves main untouched.
	svc, db := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 10, 5, 3)

	result, err := svc.Debit(ctx, walletdomain.DebitRequest{
		CustomerID: customerID,
		Amount:     7,
		Reference:  "order-7",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Account.PromoBalance)
	assert.Equal(t, int64(1), result.Account.BonusBalance)
	assert.Equal(t, int64(10), result.Account.MainBalance)
	assert.Equal(t, int64(11), result.Account.TotalBalance)

	require.Len(t, result.Deductions, 2)
	assert.Equal(t, walletdomain.TierPromo, result.Deductions[0].Tier)
	assert.Equal(t, int64(3), result.Deductions[0].Amount)
	assert.Equal(t, walletdomain.TierBonus, result.Deductions[1].Tier)
	assert.Equal(t, int64(4), result.Deductions[1].Amount)

	var debits []walletdomain.Transaction
	require.NoError(t, db.Where("direction = ?", walletdomain.DirectionDebit).Order("id").Find(&debits).Error)
	require.Len(t, debits, 2)
	assert.Equal(t, int64(18), debits[0].BalanceBefore)
	assert.Equal(t, int64(15), debits[0].BalanceAfter)
	assert.Equal(t, int64(15), debits[1].BalanceBefore)
	assert.Equal(t, int64(11), debits[1].BalanceAfter)
}

func TestDebit_InsufficientBalanceMutatesNothing(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 10, 5, 3)

	_, err := svc.Debit(ctx, walletdomain.DebitRequest{CustomerID: customerID, Amount: 100})
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)

	var account walletdomain.Account
	require.NoError(t, db.Where("customer_id = ?", customerID).First(&account).Error)
	assert.Equal(t, int64(10), account.MainBalance)
	assert.Equal(t, int64(5), account.BonusBalance)
	assert.Equal(t, int64(3), account.PromoBalance)
	assert.Equal(t, int64(18), account.TotalBalance)

	var debitCount int64
	require.NoError(t, db.Model(&walletdomain.Transaction{}).Where("direction = ?", walletdomain.DirectionDebit).Count(&debitCount).Error)
	assert.Zero(t, debitCount)
}

func TestDebit_TotalInvariantHolds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 100, 50, 25)

	result, err := svc.Debit(ctx, walletdomain.DebitRequest{CustomerID: customerID, Amount: 60})
	require.NoError(t, err)

	account := result.Account
	assert.Equal(t, account.TotalBalance, account.MainBalance+account.BonusBalance+account.PromoBalance)
	assert.GreaterOrEqual(t, account.MainBalance, int64(0))
	assert.GreaterOrEqual(t, account.BonusBalance, int64(0))
	assert.GreaterOrEqual(t, account.PromoBalance, int64(0))

	var sum int64
	for _, deduction := range result.Deductions {
		sum += deduction.Amount
	}
	assert.Equal(t, int64(60), sum)
}

func TestCanAfford(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 10, 0, 0)

	ok, err := svc.CanAfford(ctx, customerID, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanAfford(ctx, customerID, 11)
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing wallet affords only zero.
	ok, err = svc.CanAfford(ctx, svc.genID.Generate(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminAdjust_RejectsNegativeMain(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 10, 0, 0)
	actorID := svc.genID.Generate()

	_, err := svc.AdminAdjust(ctx, walletdomain.AdjustRequest{
		CustomerID: customerID,
		Delta:      -11,
		Reason:     "correction",
		ActorID:    actorID,
	})
	assert.ErrorIs(t, err, walletdomain.ErrNegativeMainBalance)

	account, err := svc.AdminAdjust(ctx, walletdomain.AdjustRequest{
		CustomerID: customerID,
		Delta:      -4,
		Reason:     "correction",
		ActorID:    actorID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), account.MainBalance)

	var entry walletdomain.Transaction
	require.NoError(t, db.Where("type = ?", walletdomain.TransactionTypeAdjustment).First(&entry).Error)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, actorID, *entry.ActorID)
}

func TestTopUp_CandidatesAndClaim(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 50, 0, 0)

	cfg, err := svc.SetTopUpConfig(ctx, walletdomain.TopUpConfigRequest{
		CustomerID:      customerID,
		Enabled:         true,
		ThresholdAmount: 100,
		TargetAmount:    500,
		PaymentToken:    "tok_123",
		GatewayProvider: "stripe",
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	cooldown := time.Hour

	candidates, err := svc.ListTopUpCandidates(ctx, now, cooldown, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(50), candidates[0].Total)
	assert.Equal(t, int64(450), candidates[0].Shortfall)

	claimed, err := svc.ClaimTopUp(ctx, cfg.ID, now, cooldown)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second sweep against the same shortfall loses the claim.
	claimed, err = svc.ClaimTopUp(ctx, cfg.ID, now, cooldown)
	require.NoError(t, err)
	assert.False(t, claimed)

	candidates, err = svc.ListTopUpCandidates(ctx, now, cooldown, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTopUp_ThresholdComparedLive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	customerID := seedWallet(t, svc, 200, 0, 0)

	_, err := svc.SetTopUpConfig(ctx, walletdomain.TopUpConfigRequest{
		CustomerID:      customerID,
		Enabled:         true,
		ThresholdAmount: 100,
		TargetAmount:    500,
		PaymentToken:    "tok_123",
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	candidates, err := svc.ListTopUpCandidates(ctx, now, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// Balance drops below the threshold after the config was written;
	// the sweep must see the live total.
	_, err = svc.Debit(ctx, walletdomain.DebitRequest{CustomerID: customerID, Amount: 150})
	require.NoError(t, err)

	candidates, err = svc.ListTopUpCandidates(ctx, now, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(50), candidates[0].Total)
}
