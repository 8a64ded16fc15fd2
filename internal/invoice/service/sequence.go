package service

import (
	"time"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// nextSequence advances the per-month counter row inside tx and returns
// the new value. The upsert keeps the counter row locked until the
// surrounding transaction commits, so concurrent invoice creation in
// the same month serializes here instead of racing a find-max query.
func nextSequence(tx *gorm.DB, period string, now time.Time) (int64, error) {
	row := invoicedomain.Sequence{Period: period, LastValue: 1, UpdatedAt: now}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_value": gorm.Expr("invoice_sequences.last_value + 1"),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, err
	}

	var current invoicedomain.Sequence
	if err := tx.Where("period = ?", period).Take(&current).Error; err != nil {
		return 0, err
	}
	return current.LastValue, nil
}
