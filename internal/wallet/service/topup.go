package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"gorm.io/gorm"
)

func (s *Service) SetTopUpConfig(ctx context.Context, req walletdomain.TopUpConfigRequest) (*walletdomain.TopUpConfig, error) {
	if req.CustomerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	if req.Enabled {
		if req.ThresholdAmount <= 0 || req.TargetAmount <= req.ThresholdAmount {
			return nil, walletdomain.ErrInvalidTopUpConfig
		}
		if strings.TrimSpace(req.PaymentToken) == "" {
			return nil, walletdomain.ErrInvalidTopUpConfig
		}
	}

	account, err := s.GetOrCreate(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	existing, err := s.loadTopUpConfig(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing == nil {
		fresh := walletdomain.TopUpConfig{
			ID:              s.genID.Generate(),
			WalletID:        account.ID,
			CustomerID:      req.CustomerID,
			Enabled:         req.Enabled,
			ThresholdAmount: req.ThresholdAmount,
			TargetAmount:    req.TargetAmount,
			PaymentToken:    strings.TrimSpace(req.PaymentToken),
			GatewayProvider: strings.ToLower(strings.TrimSpace(req.GatewayProvider)),
		}
		if err := s.db.WithContext(ctx).Create(&fresh).Error; err != nil {
			return nil, err
		}
		return &fresh, nil
	}

	existing.Enabled = req.Enabled
	existing.ThresholdAmount = req.ThresholdAmount
	existing.TargetAmount = req.TargetAmount
	existing.PaymentToken = strings.TrimSpace(req.PaymentToken)
	existing.GatewayProvider = strings.ToLower(strings.TrimSpace(req.GatewayProvider))
	existing.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Service) GetTopUpConfig(ctx context.Context, customerID snowflake.ID) (*walletdomain.TopUpConfig, error) {
	if customerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	var cfg walletdomain.TopUpConfig
	err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// ListTopUpCandidates joins configs against live wallet totals so the
// threshold comparison always sees current values, never a snapshot.
func (s *Service) ListTopUpCandidates(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]walletdomain.TopUpCandidate, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cutoff := now.UTC().Add(-cooldown)

	var rows []struct {
		walletdomain.TopUpConfig
		Total int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT c.*, a.total_balance AS total
		 FROM wallet_topup_configs c
		 JOIN wallet_accounts a ON a.id = c.wallet_id
		 WHERE c.enabled = ?
		   AND a.total_balance < c.threshold_amount
		   AND (c.last_attempt_at IS NULL OR c.last_attempt_at < ?)
		 ORDER BY c.id
		 LIMIT ?`,
		true,
		cutoff,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]walletdomain.TopUpCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, walletdomain.TopUpCandidate{
			Config:    row.TopUpConfig,
			Total:     row.Total,
			Shortfall: row.TargetAmount - row.Total,
		})
	}
	return candidates, nil
}

// ClaimTopUp stamps LastAttemptAt guarded by its previous value, so only
// one sweep run wins the claim for a given shortfall window.
func (s *Service) ClaimTopUp(ctx context.Context, configID snowflake.ID, now time.Time, cooldown time.Duration) (bool, error) {
	cutoff := now.UTC().Add(-cooldown)
	result := s.db.WithContext(ctx).Exec(
		`UPDATE wallet_topup_configs
		 SET last_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND enabled = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		now.UTC(),
		now.UTC(),
		configID,
		true,
		cutoff,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) loadTopUpConfig(ctx context.Context, walletID snowflake.ID) (*walletdomain.TopUpConfig, error) {
	var cfg walletdomain.TopUpConfig
	err := s.db.WithContext(ctx).Where("wallet_id = ?", walletID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}
