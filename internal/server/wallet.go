package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingcore/internal/actorcontext"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"gorm.io/gorm"
)

func customerIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("customer_id")))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return 0, false
	}
	return id, true
}

func (s *Server) GetWallet(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	account, err := s.walletSvc.GetOrCreate(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newWalletView(account)})
}

func (s *Server) ListWalletTransactions(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txs, err := s.walletSvc.ListTransactions(c.Request.Context(), customerID, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTransactionViews(txs)})
}

func (s *Server) CreditWallet(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Amount      int64  `json:"amount"`
		Tier        string `json:"tier"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Reference   string `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txType := walletdomain.TransactionType(req.Type)
	if req.Type == "" {
		txType = walletdomain.TransactionTypeCredit
	}

	account, err := s.walletSvc.Credit(c.Request.Context(), walletdomain.CreditRequest{
		CustomerID:  customerID,
		Amount:      req.Amount,
		Tier:        walletdomain.BalanceTier(req.Tier),
		Type:        txType,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newWalletView(account)})
}

func (s *Server) DebitWallet(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Amount      int64  `json:"amount"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Reference   string `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txType := walletdomain.TransactionType(req.Type)
	if req.Type == "" {
		txType = walletdomain.TransactionTypeDebit
	}

	result, err := s.walletSvc.Debit(c.Request.Context(), walletdomain.DebitRequest{
		CustomerID:  customerID,
		Amount:      req.Amount,
		Type:        txType,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newDebitView(result)})
}

func (s *Server) AdjustWallet(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Delta  int64  `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		AbortWithError(c, newValidationError("reason", "reason_required", "adjustment reason is required"))
		return
	}

	actor, _ := actorcontext.ActorFromContext(c.Request.Context())

	account, err := s.walletSvc.AdminAdjust(c.Request.Context(), walletdomain.AdjustRequest{
		CustomerID: customerID,
		Delta:      req.Delta,
		Reason:     req.Reason,
		ActorID:    actor.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newWalletView(account)})
}

func (s *Server) GetTopUpConfig(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	cfg, err := s.walletSvc.GetTopUpConfig(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if cfg == nil {
		AbortWithError(c, gorm.ErrRecordNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTopUpConfigView(cfg)})
}

func (s *Server) SetTopUpConfig(c *gin.Context) {
	customerID, ok := customerIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Enabled         bool   `json:"enabled"`
		ThresholdAmount int64  `json:"threshold_amount"`
		TargetAmount    int64  `json:"target_amount"`
		PaymentToken    string `json:"payment_token"`
		GatewayProvider string `json:"gateway_provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cfg, err := s.walletSvc.SetTopUpConfig(c.Request.Context(), walletdomain.TopUpConfigRequest{
		CustomerID:      customerID,
		Enabled:         req.Enabled,
		ThresholdAmount: req.ThresholdAmount,
		TargetAmount:    req.TargetAmount,
		PaymentToken:    req.PaymentToken,
		GatewayProvider: req.GatewayProvider,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTopUpConfigView(cfg)})
}
