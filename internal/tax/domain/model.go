// Package domain contains tax rules and calculation contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Rule is a configured tax rule scoped to a country and optional state.
// Compound rules accumulate on top of previously applied taxes; simple
// rules always compute on the original subtotal. Priority orders
// application, lowest first.
type Rule struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Country   string       `gorm:"type:text;not null;index:idx_tax_rules_scope,priority:1"`
	State     string       `gorm:"type:text;index:idx_tax_rules_scope,priority:2"`
	Name      string       `gorm:"type:text;not null"`
	Rate      float64      `gorm:"type:numeric(6,4);not null"`
	Compound  bool         `gorm:"not null;default:false"`
	Inclusive bool         `gorm:"not null;default:false"`
	Priority  int          `gorm:"not null;default:0"`
	Enabled   bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Rule) TableName() string { return "tax_rules" }

func (r *Rule) Validate() error {
	if r.Country == "" {
		return ErrInvalidCountry
	}
	if r.Rate < 0 || r.Rate >= 1 {
		return ErrInvalidRate
	}
	if r.Name == "" {
		return ErrInvalidName
	}
	return nil
}

// BreakdownLine names one applied tax within a calculation.
type BreakdownLine struct {
	Name     string  `json:"name"`
	Rate     float64 `json:"rate"`
	Amount   int64   `json:"amount"`
	Compound bool    `json:"compound"`
}

// Result is the outcome of a tax calculation.
type Result struct {
	EffectiveRate float64         `json:"effective_rate"`
	Amount        int64           `json:"amount"`
	Inclusive     bool            `json:"inclusive"`
	ReverseCharge bool            `json:"reverse_charge"`
	Exempt        bool            `json:"exempt"`
	Breakdown     []BreakdownLine `json:"breakdown"`
}
