package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/config"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Billing *config.BillingConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	billing *config.BillingConfigHolder
}

func NewService(p Params) taxdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tax.service"),
		genID:   p.GenID,
		billing: p.Billing,
	}
}

func (s *Service) Calculate(ctx context.Context, req taxdomain.CalculateRequest) (*taxdomain.Result, error) {
	if req.Subtotal < 0 {
		return nil, taxdomain.ErrInvalidSubtotal
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		return nil, taxdomain.ErrInvalidCountry
	}

	if req.IsExempt {
		return &taxdomain.Result{Exempt: true, Breakdown: []taxdomain.BreakdownLine{}}, nil
	}

	// Cross-border B2B inside the bloc: valid VAT number format shifts
	// liability to the buyer, zero tax with an annotated breakdown.
	if vat := strings.TrimSpace(req.VATNumber); vat != "" && inEUBloc(country) && ValidVATFormat(vat) {
		return &taxdomain.Result{
			ReverseCharge: true,
			Breakdown: []taxdomain.BreakdownLine{
				{Name: "Reverse charge (" + country + ")", Rate: 0, Amount: 0},
			},
		}, nil
	}

	rules, err := s.activeRules(ctx, country, strings.ToUpper(strings.TrimSpace(req.State)))
	if err != nil {
		// Rule lookup failure degrades to the static default table so
		// invoice creation never aborts on a tax read.
		s.log.Warn("tax rule lookup failed, using defaults", zap.String("country", country), zap.Error(err))
		rules = nil
	}
	if len(rules) == 0 {
		return s.defaultResult(country, req.Subtotal), nil
	}

	return applyRules(req.Subtotal, rules), nil
}

// applyRules walks rules in priority order. A compound rule taxes the
// subtotal plus all previously applied tax; a simple rule always taxes
// the original subtotal.
func applyRules(subtotal int64, rules []taxdomain.Rule) *taxdomain.Result {
	var (
		total     int64
		inclusive bool
		breakdown = make([]taxdomain.BreakdownLine, 0, len(rules))
	)

	for _, rule := range rules {
		base := subtotal
		if rule.Compound {
			base = subtotal + total
		}
		amount := roundTax(float64(base) * rule.Rate)
		total += amount
		if rule.Inclusive {
			inclusive = true
		}
		breakdown = append(breakdown, taxdomain.BreakdownLine{
			Name:     rule.Name,
			Rate:     rule.Rate,
			Amount:   amount,
			Compound: rule.Compound,
		})
	}

	effective := 0.0
	if subtotal > 0 {
		effective = float64(total) / float64(subtotal)
	}
	return &taxdomain.Result{
		EffectiveRate: effective,
		Amount:        total,
		Inclusive:     inclusive,
		Breakdown:     breakdown,
	}
}

func (s *Service) defaultResult(country string, subtotal int64) *taxdomain.Result {
	for _, fallback := range s.billing.Get().DefaultTaxRates {
		if strings.EqualFold(fallback.Country, country) {
			amount := roundTax(float64(subtotal) * fallback.Rate)
			return &taxdomain.Result{
				EffectiveRate: fallback.Rate,
				Amount:        amount,
				Breakdown: []taxdomain.BreakdownLine{
					{Name: fallback.Name, Rate: fallback.Rate, Amount: amount},
				},
			}
		}
	}
	return &taxdomain.Result{Breakdown: []taxdomain.BreakdownLine{}}
}

func (s *Service) activeRules(ctx context.Context, country, state string) ([]taxdomain.Rule, error) {
	var rules []taxdomain.Rule
	query := s.db.WithContext(ctx).
		Where("country = ? AND enabled = ?", country, true)
	if state != "" {
		query = query.Where("state = ? OR state = ''", state)
	} else {
		query = query.Where("state = ''")
	}
	err := query.Order("priority ASC, id ASC").Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Service) CreateRule(ctx context.Context, rule taxdomain.Rule) (*taxdomain.Rule, error) {
	rule.Country = strings.ToUpper(strings.TrimSpace(rule.Country))
	rule.State = strings.ToUpper(strings.TrimSpace(rule.State))
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.ID = s.genID.Generate()
	rule.Enabled = true
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, rule taxdomain.Rule) (*taxdomain.Rule, error) {
	if rule.ID == 0 {
		return nil, taxdomain.ErrInvalidID
	}
	rule.Country = strings.ToUpper(strings.TrimSpace(rule.Country))
	rule.State = strings.ToUpper(strings.TrimSpace(rule.State))
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var existing taxdomain.Rule
	err := s.db.WithContext(ctx).First(&existing, "id = ?", rule.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taxdomain.ErrRuleNotFound
		}
		return nil, err
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) DisableRule(ctx context.Context, id string) error {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return taxdomain.ErrInvalidID
	}
	result := s.db.WithContext(ctx).Model(&taxdomain.Rule{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{"enabled": false, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return taxdomain.ErrRuleNotFound
	}
	return nil
}

func (s *Service) ListRules(ctx context.Context, country string) ([]taxdomain.Rule, error) {
	var rules []taxdomain.Rule
	query := s.db.WithContext(ctx)
	if country = strings.ToUpper(strings.TrimSpace(country)); country != "" {
		query = query.Where("country = ?", country)
	}
	err := query.Order("country ASC, priority ASC").Find(&rules).Error
	return rules, err
}

func roundTax(value float64) int64 {
	result := int64(math.Round(value))
	if result < 0 {
		return 0
	}
	return result
}
