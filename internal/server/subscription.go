package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req struct {
		CustomerID   string `json:"customer_id"`
		ProductID    string `json:"product_id"`
		BillingCycle string `json:"billing_cycle"`
		AutoRenew    *bool  `json:"auto_renew"`
		WithTrial    bool   `json:"with_trial"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		CustomerID:   customerID,
		ProductID:    strings.TrimSpace(req.ProductID),
		BillingCycle: subscriptiondomain.BillingCycle(strings.ToUpper(strings.TrimSpace(req.BillingCycle))),
		AutoRenew:    autoRenew,
		WithTrial:    req.WithTrial,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionView(sub)})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		CustomerID string `form:"customer_id"`
		Limit      int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(query.CustomerID))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	subs, err := s.subscriptionSvc.ListByCustomer(c.Request.Context(), customerID, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionViews(subs)})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionView(sub)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req struct {
		AtPeriodEnd bool `json:"at_period_end"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), id, req.AtPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionView(sub)})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Pause)
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Resume)
}

func (s *Server) SuspendSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Suspend)
}

// RenewSubscription settles one due period on demand. The scheduler
// drives the same service call in bulk.
func (s *Server) RenewSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Renew)
}

func (s *Server) subscriptionAction(c *gin.Context, action func(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error)) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	sub, err := action(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionView(sub)})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req struct {
		NewProductID string `json:"new_product_id"`
		Immediate    bool   `json:"immediate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), id, subscriptiondomain.ChangePlanRequest{
		NewProductID: strings.TrimSpace(req.NewProductID),
		Immediate:    req.Immediate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionView(sub)})
}
