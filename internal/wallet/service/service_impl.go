package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// debitRetries bounds optimistic-version conflicts before giving up.
const debitRetries = 5

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
	}
}

func (s *Service) GetOrCreate(ctx context.Context, customerID snowflake.ID) (*walletdomain.Account, error) {
	if customerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}

	account, err := s.loadAccount(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	fresh := walletdomain.Account{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
	}
	if err := s.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		// Lost a creation race; the winner's row is the account.
		if db.IsDuplicateKeyErr(err) {
			return s.loadAccount(ctx, s.db, customerID)
		}
		return nil, err
	}
	return &fresh, nil
}

func (s *Service) Credit(ctx context.Context, req walletdomain.CreditRequest) (*walletdomain.Account, error) {
	if req.CustomerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	tier, err := normalizeTier(req.Tier)
	if err != nil {
		return nil, err
	}
	txType := req.Type
	if txType == "" {
		txType = walletdomain.TransactionTypeCredit
	}

	var updated *walletdomain.Account
	for attempt := 0; attempt < debitRetries; attempt++ {
		account, err := s.GetOrCreate(ctx, req.CustomerID)
		if err != nil {
			return nil, err
		}

		next := *account
		switch tier {
		case walletdomain.TierMain:
			next.MainBalance += req.Amount
		case walletdomain.TierBonus:
			next.BonusBalance += req.Amount
		case walletdomain.TierPromo:
			next.PromoBalance += req.Amount
		}
		next.TotalBalance += req.Amount

		entry := walletdomain.Transaction{
			ID:            s.genID.Generate(),
			WalletID:      account.ID,
			CustomerID:    req.CustomerID,
			Tier:          tier,
			Direction:     walletdomain.DirectionCredit,
			Type:          txType,
			Amount:        req.Amount,
			BalanceBefore: account.TotalBalance,
			BalanceAfter:  next.TotalBalance,
			Description:   req.Description,
			Reference:     req.Reference,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.storeBalances(ctx, tx, &next, account.Version); err != nil {
				return err
			}
			return tx.WithContext(ctx).Create(&entry).Error
		})
		if errors.Is(err, walletdomain.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		updated = &next
		break
	}
	if updated == nil {
		return nil, walletdomain.ErrConcurrentUpdate
	}

	if s.metrics != nil {
		s.metrics.RecordWalletTransaction(string(txType), string(tier))
	}
	return updated, nil
}

func (s *Service) Debit(ctx context.Context, req walletdomain.DebitRequest) (*walletdomain.DebitResult, error) {
	if req.CustomerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	if req.Amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	txType := req.Type
	if txType == "" {
		txType = walletdomain.TransactionTypeDebit
	}

	for attempt := 0; attempt < debitRetries; attempt++ {
		account, err := s.loadAccount(ctx, s.db, req.CustomerID)
		if err != nil {
			return nil, err
		}
		if account == nil || account.TotalBalance < req.Amount {
			return nil, walletdomain.ErrInsufficientBalance
		}

		next := *account
		remaining := req.Amount
		deductions := make([]walletdomain.TierDeduction, 0, len(walletdomain.ConsumptionOrder))
		entries := make([]walletdomain.Transaction, 0, len(walletdomain.ConsumptionOrder))
		runningTotal := account.TotalBalance

		for _, tier := range walletdomain.ConsumptionOrder {
			if remaining == 0 {
				break
			}
			available := next.Balance(tier)
			if available == 0 {
				continue
			}
			take := available
			if take > remaining {
				take = remaining
			}

			switch tier {
			case walletdomain.TierMain:
				next.MainBalance -= take
			case walletdomain.TierBonus:
				next.BonusBalance -= take
			case walletdomain.TierPromo:
				next.PromoBalance -= take
			}
			next.TotalBalance -= take
			remaining -= take

			entries = append(entries, walletdomain.Transaction{
				ID:            s.genID.Generate(),
				WalletID:      account.ID,
				CustomerID:    req.CustomerID,
				Tier:          tier,
				Direction:     walletdomain.DirectionDebit,
				Type:          txType,
				Amount:        take,
				BalanceBefore: runningTotal,
				BalanceAfter:  runningTotal - take,
				Description:   req.Description,
				Reference:     req.Reference,
			})
			runningTotal -= take
			deductions = append(deductions, walletdomain.TierDeduction{Tier: tier, Amount: take})
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.storeBalances(ctx, tx, &next, account.Version); err != nil {
				return err
			}
			return tx.WithContext(ctx).Create(&entries).Error
		})
		if errors.Is(err, walletdomain.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if s.metrics != nil {
			for _, deduction := range deductions {
				s.metrics.RecordWalletTransaction(string(txType), string(deduction.Tier))
			}
		}
		return &walletdomain.DebitResult{Account: &next, Deductions: deductions}, nil
	}

	return nil, walletdomain.ErrConcurrentUpdate
}

func (s *Service) CanAfford(ctx context.Context, customerID snowflake.ID, amount int64) (bool, error) {
	if customerID == 0 {
		return false, walletdomain.ErrInvalidCustomer
	}
	if amount < 0 {
		return false, walletdomain.ErrInvalidAmount
	}
	account, err := s.loadAccount(ctx, s.db, customerID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return amount == 0, nil
	}
	return account.TotalBalance >= amount, nil
}

func (s *Service) AdminAdjust(ctx context.Context, req walletdomain.AdjustRequest) (*walletdomain.Account, error) {
	if req.CustomerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	if req.Delta == 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	if req.ActorID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}

	for attempt := 0; attempt < debitRetries; attempt++ {
		account, err := s.GetOrCreate(ctx, req.CustomerID)
		if err != nil {
			return nil, err
		}
		if account.MainBalance+req.Delta < 0 {
			return nil, walletdomain.ErrNegativeMainBalance
		}

		next := *account
		next.MainBalance += req.Delta
		next.TotalBalance += req.Delta

		direction := walletdomain.DirectionCredit
		amount := req.Delta
		if req.Delta < 0 {
			direction = walletdomain.DirectionDebit
			amount = -req.Delta
		}
		actorID := req.ActorID
		entry := walletdomain.Transaction{
			ID:            s.genID.Generate(),
			WalletID:      account.ID,
			CustomerID:    req.CustomerID,
			Tier:          walletdomain.TierMain,
			Direction:     direction,
			Type:          walletdomain.TransactionTypeAdjustment,
			Amount:        amount,
			BalanceBefore: account.TotalBalance,
			BalanceAfter:  next.TotalBalance,
			Description:   req.Reason,
			Reference:     "admin_adjust",
			ActorID:       &actorID,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.storeBalances(ctx, tx, &next, account.Version); err != nil {
				return err
			}
			return tx.WithContext(ctx).Create(&entry).Error
		})
		if errors.Is(err, walletdomain.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.Info("admin wallet adjustment",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("actor_id", req.ActorID.String()),
			zap.Int64("delta", req.Delta),
			zap.String("reason", req.Reason),
		)
		if s.metrics != nil {
			s.metrics.RecordWalletTransaction(string(walletdomain.TransactionTypeAdjustment), string(walletdomain.TierMain))
		}
		return &next, nil
	}

	return nil, walletdomain.ErrConcurrentUpdate
}

func (s *Service) ListTransactions(ctx context.Context, customerID snowflake.ID, limit int) ([]walletdomain.Transaction, error) {
	if customerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []walletdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// storeBalances persists the new balances guarded by the optimistic
// version. RowsAffected == 0 means another writer won the race.
func (s *Service) storeBalances(ctx context.Context, tx *gorm.DB, next *walletdomain.Account, expectedVersion int64) error {
	next.Version = expectedVersion + 1
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`UPDATE wallet_accounts
		 SET main_balance = ?, bonus_balance = ?, promo_balance = ?, total_balance = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		next.MainBalance,
		next.BonusBalance,
		next.PromoBalance,
		next.TotalBalance,
		next.Version,
		now,
		next.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return walletdomain.ErrConcurrentUpdate
	}
	next.UpdatedAt = now
	return nil
}

func (s *Service) loadAccount(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (*walletdomain.Account, error) {
	var account walletdomain.Account
	err := tx.WithContext(ctx).Where("customer_id = ?", customerID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func normalizeTier(tier walletdomain.BalanceTier) (walletdomain.BalanceTier, error) {
	switch walletdomain.BalanceTier(strings.ToLower(strings.TrimSpace(string(tier)))) {
	case walletdomain.TierMain:
		return walletdomain.TierMain, nil
	case walletdomain.TierBonus:
		return walletdomain.TierBonus, nil
	case walletdomain.TierPromo:
		return walletdomain.TierPromo, nil
	default:
		return "", walletdomain.ErrInvalidTier
	}
}
