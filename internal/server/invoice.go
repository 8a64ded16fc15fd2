package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

type lineInputRequest struct {
	Description string     `json:"description"`
	Quantity    int64      `json:"quantity"`
	UnitAmount  int64      `json:"unit_amount"`
	Taxable     *bool      `json:"taxable"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

func (r lineInputRequest) toDomain() invoicedomain.LineInput {
	quantity := r.Quantity
	if quantity == 0 {
		quantity = 1
	}
	taxable := true
	if r.Taxable != nil {
		taxable = *r.Taxable
	}
	return invoicedomain.LineInput{
		Description: strings.TrimSpace(r.Description),
		Quantity:    quantity,
		UnitAmount:  r.UnitAmount,
		Taxable:     taxable,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
	}
}

func idParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req struct {
		CustomerID        string             `json:"customer_id"`
		Currency          string             `json:"currency"`
		Country           string             `json:"country"`
		State             string             `json:"state"`
		VATNumber         string             `json:"vat_number"`
		CustomerTaxExempt bool               `json:"customer_tax_exempt"`
		CouponCode        string             `json:"coupon_code"`
		Items             []lineInputRequest `json:"items"`
		DueAt             *time.Time         `json:"due_at"`
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

	items := make([]invoicedomain.LineInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.toDomain())
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateRequest{
		CustomerID:        customerID,
		Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
		Country:           strings.TrimSpace(req.Country),
		State:             strings.TrimSpace(req.State),
		VATNumber:         strings.TrimSpace(req.VATNumber),
		CustomerTaxExempt: req.CustomerTaxExempt,
		CouponCode:        strings.TrimSpace(req.CouponCode),
		Items:             items,
		DueAt:             req.DueAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceView(invoice)})
}

func (s *Server) ListInvoices(c *gin.Context) {
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

	invoices, err := s.invoiceSvc.ListByCustomer(c.Request.Context(), customerID, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceViews(invoices)})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.invoiceSvc.GetItems(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  newInvoiceView(invoice),
		"items": newInvoiceItemViews(items),
	})
}

func (s *Server) AddInvoiceItem(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req struct {
		lineInputRequest
		Country           string `json:"country"`
		State             string `json:"state"`
		VATNumber         string `json:"vat_number"`
		CustomerTaxExempt bool   `json:"customer_tax_exempt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.AddItem(c.Request.Context(), id, req.toDomain(), invoicedomain.TaxProfile{
		Country:        strings.TrimSpace(req.Country),
		State:          strings.TrimSpace(req.State),
		VATNumber:      strings.TrimSpace(req.VATNumber),
		CustomerExempt: req.CustomerTaxExempt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceView(invoice)})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	invoice, err := s.invoiceSvc.Cancel(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceView(invoice)})
}
