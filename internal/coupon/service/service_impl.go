package service

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) coupondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("coupon.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Validate runs the ordered guard chain. The first failing guard
// produces a specific, user-facing reason; these strings are surfaced
// directly to customers and administrators.
func (s *Service) Validate(ctx context.Context, req coupondomain.ValidateRequest) (*coupondomain.ValidationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	if req.CustomerID == 0 {
		return nil, coupondomain.ErrInvalidCustomer
	}
	if req.Subtotal < 0 {
		return nil, coupondomain.ErrInvalidSubtotal
	}

	coupon, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return invalid("Coupon not found"), nil
	}

	now := s.clock.Now()

	if coupon.Status != coupondomain.StatusActive {
		return invalid("Coupon is not active"), nil
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return invalid("Coupon is not yet valid"), nil
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return invalid("Coupon has expired"), nil
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return invalid("Coupon usage limit reached"), nil
	}

	if coupon.MaxUsesPerUser > 0 {
		var used int64
		err := s.db.WithContext(ctx).Model(&coupondomain.Redemption{}).
			Where("coupon_id = ? AND customer_id = ?", coupon.ID, req.CustomerID).
			Count(&used).Error
		if err != nil {
			return nil, err
		}
		if used >= coupon.MaxUsesPerUser {
			return invalid("Coupon usage limit reached for this customer"), nil
		}
	}

	if coupon.MinOrderAmount > 0 && req.Subtotal < coupon.MinOrderAmount {
		return invalid("Order amount is below the coupon minimum"), nil
	}

	if len(coupon.EligibleUsers) > 0 && !slices.Contains(coupon.EligibleUsers, req.CustomerID.String()) {
		return invalid("Coupon is not available for this customer"), nil
	}

	if len(coupon.EligibleProducts) > 0 {
		eligible := false
		for _, productID := range req.ProductIDs {
			if slices.Contains(coupon.EligibleProducts, productID) {
				eligible = true
				break
			}
		}
		if !eligible {
			return invalid("Coupon does not apply to these products"), nil
		}
	}
	if len(coupon.ExcludedProducts) > 0 {
		for _, productID := range req.ProductIDs {
			if slices.Contains(coupon.ExcludedProducts, productID) {
				return invalid("Coupon does not apply to these products"), nil
			}
		}
	}

	return &coupondomain.ValidationResult{
		Valid:    true,
		Coupon:   coupon,
		Discount: computeDiscount(coupon, req.Subtotal),
	}, nil
}

// computeDiscount never returns a negative value and never exceeds the
// order subtotal.
func computeDiscount(coupon *coupondomain.Coupon, subtotal int64) int64 {
	var discount int64
	switch coupon.Type {
	case coupondomain.TypePercentage:
		discount = int64(math.Round(float64(subtotal) * float64(coupon.Value) / 100))
		if coupon.MaxDiscountAmount > 0 && discount > coupon.MaxDiscountAmount {
			discount = coupon.MaxDiscountAmount
		}
	case coupondomain.TypeFixed:
		discount = coupon.Value
	case coupondomain.TypeFreeShipping:
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, couponID, customerID, invoiceID snowflake.ID, discountAmount int64) error {
	if couponID == 0 || customerID == 0 || invoiceID == 0 {
		return coupondomain.ErrInvalidCustomer
	}

	// The guarded increment re-checks the global cap at write time so a
	// concurrent redemption cannot push past max_uses.
	result := tx.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET used_count = used_count + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND (max_uses = 0 OR used_count < max_uses)`,
		time.Now().UTC(),
		couponID,
		coupondomain.StatusActive,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return coupondomain.ErrUsageExhausted
	}

	redemption := coupondomain.Redemption{
		ID:             s.genID.Generate(),
		CouponID:       couponID,
		CustomerID:     customerID,
		InvoiceID:      invoiceID,
		DiscountAmount: discountAmount,
	}
	return tx.WithContext(ctx).Create(&redemption).Error
}

func (s *Service) Create(ctx context.Context, coupon coupondomain.Coupon) (*coupondomain.Coupon, error) {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	switch coupon.Type {
	case coupondomain.TypePercentage:
		if coupon.Value <= 0 || coupon.Value > 100 {
			return nil, coupondomain.ErrInvalidValue
		}
	case coupondomain.TypeFixed:
		if coupon.Value <= 0 {
			return nil, coupondomain.ErrInvalidValue
		}
	case coupondomain.TypeFreeShipping:
	default:
		return nil, coupondomain.ErrInvalidType
	}

	coupon.ID = s.genID.Generate()
	if coupon.Status == "" {
		coupon.Status = coupondomain.StatusActive
	}
	coupon.UsedCount = 0
	if err := s.db.WithContext(ctx).Create(&coupon).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, coupondomain.ErrDuplicateCode
		}
		return nil, err
	}
	return &coupon, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*coupondomain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	var coupon coupondomain.Coupon
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return coupondomain.ErrInvalidCode
	}
	result := s.db.WithContext(ctx).Model(&coupondomain.Coupon{}).
		Where("code = ?", code).
		Updates(map[string]any{"status": coupondomain.StatusInactive, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return coupondomain.ErrCouponNotFound
	}
	return nil
}

func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).Model(&coupondomain.Coupon{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", coupondomain.StatusActive, now).
		Updates(map[string]any{"status": coupondomain.StatusExpired, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("expired coupons", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func invalid(reason string) *coupondomain.ValidationResult {
	return &coupondomain.ValidationResult{Valid: false, Reason: reason}
}
