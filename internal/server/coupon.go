package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
)

func (s *Server) ValidateCoupon(c *gin.Context) {
	var req struct {
		Code       string   `json:"code"`
		CustomerID string   `json:"customer_id"`
		Subtotal   int64    `json:"subtotal"`
		ProductIDs []string `json:"product_ids"`
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

	result, err := s.couponSvc.Validate(c.Request.Context(), coupondomain.ValidateRequest{
		Code:       strings.TrimSpace(req.Code),
		CustomerID: customerID,
		Subtotal:   req.Subtotal,
		ProductIDs: req.ProductIDs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"valid":    result.Valid,
		"discount": result.Discount,
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	if result.Coupon != nil {
		resp["coupon"] = newCouponView(result.Coupon)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req struct {
		Code              string     `json:"code"`
		Type              string     `json:"type"`
		Value             int64      `json:"value"`
		MinOrderAmount    int64      `json:"min_order_amount"`
		MaxDiscountAmount int64      `json:"max_discount_amount"`
		MaxUses           int64      `json:"max_uses"`
		MaxUsesPerUser    int64      `json:"max_uses_per_user"`
		EligibleProducts  []string   `json:"eligible_products"`
		ExcludedProducts  []string   `json:"excluded_products"`
		EligibleUsers     []string   `json:"eligible_users"`
		StartsAt          *time.Time `json:"starts_at"`
		ExpiresAt         *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	coupon, err := s.couponSvc.Create(c.Request.Context(), coupondomain.Coupon{
		Code:              strings.TrimSpace(req.Code),
		Type:              coupondomain.CouponType(req.Type),
		Value:             req.Value,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MaxUses:           req.MaxUses,
		MaxUsesPerUser:    req.MaxUsesPerUser,
		EligibleProducts:  req.EligibleProducts,
		ExcludedProducts:  req.ExcludedProducts,
		EligibleUsers:     req.EligibleUsers,
		StartsAt:          req.StartsAt,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newCouponView(coupon)})
}

func (s *Server) GetCouponByCode(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	coupon, err := s.couponSvc.GetByCode(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newCouponView(coupon)})
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	if err := s.couponSvc.Deactivate(c.Request.Context(), code); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code, "status": string(coupondomain.StatusInactive)}})
}
