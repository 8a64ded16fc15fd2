package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
)

func (s *Server) ProcessPayment(c *gin.Context) {
	var req struct {
		InvoiceID    string `json:"invoice_id"`
		Amount       int64  `json:"amount"`
		Method       string `json:"method"`
		Provider     string `json:"provider"`
		PaymentToken string `json:"payment_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice id"))
		return
	}

	method := paymentdomain.PaymentMethod(req.Method)
	switch method {
	case paymentdomain.MethodWallet, paymentdomain.MethodGateway:
	default:
		AbortWithError(c, newValidationError("method", "invalid_method", "method must be wallet or gateway"))
		return
	}

	payment, err := s.payments.ProcessPayment(c.Request.Context(), paymentdomain.ProcessPaymentRequest{
		InvoiceID:    invoiceID,
		Amount:       req.Amount,
		Method:       method,
		Provider:     strings.TrimSpace(req.Provider),
		PaymentToken: req.PaymentToken,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newPaymentView(payment)})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	payment, err := s.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newPaymentView(payment)})
}

func (s *Server) ListPaymentsByInvoice(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	payments, err := s.payments.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newPaymentViews(payments)})
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.payments.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newRefundView(refund)})
}

func (s *Server) UpsertPaymentProvider(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var req struct {
		Config  map[string]any `json:"config"`
		Enabled bool           `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cfg, err := s.payments.UpsertProviderConfig(c.Request.Context(), provider, req.Config, req.Enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"provider": cfg.Provider,
		"enabled":  cfg.Enabled,
	}})
}
