package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
)

type taxRuleRequest struct {
	Country   string  `json:"country"`
	State     string  `json:"state"`
	Name      string  `json:"name"`
	Rate      float64 `json:"rate"`
	Compound  bool    `json:"compound"`
	Inclusive bool    `json:"inclusive"`
	Priority  int     `json:"priority"`
	Enabled   *bool   `json:"enabled"`
}

func (r taxRuleRequest) toDomain() taxdomain.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return taxdomain.Rule{
		Country:   strings.ToUpper(strings.TrimSpace(r.Country)),
		State:     strings.TrimSpace(r.State),
		Name:      strings.TrimSpace(r.Name),
		Rate:      r.Rate,
		Compound:  r.Compound,
		Inclusive: r.Inclusive,
		Priority:  r.Priority,
		Enabled:   enabled,
	}
}

func (s *Server) ListTaxRules(c *gin.Context) {
	country := strings.ToUpper(strings.TrimSpace(c.Query("country")))

	rules, err := s.taxSvc.ListRules(c.Request.Context(), country)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTaxRuleViews(rules)})
}

func (s *Server) CreateTaxRule(c *gin.Context) {
	var req taxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.taxSvc.CreateRule(c.Request.Context(), req.toDomain())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTaxRuleView(rule)})
}

func (s *Server) UpdateTaxRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req taxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule := req.toDomain()
	rule.ID = id

	updated, err := s.taxSvc.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTaxRuleView(updated)})
}

func (s *Server) DisableTaxRule(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	if err := s.taxSvc.DisableRule(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "enabled": false}})
}
