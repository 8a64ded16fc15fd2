package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingcore/internal/catalog"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts domain sentinels attached via
// AbortWithError into JSON error responses with the right status.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

var validationSentinels = []error{
	walletdomain.ErrInvalidCustomer,
	walletdomain.ErrInvalidAmount,
	walletdomain.ErrInvalidTier,
	walletdomain.ErrInvalidTopUpConfig,
	invoicedomain.ErrInvalidCurrency,
	invoicedomain.ErrNoItems,
	invoicedomain.ErrInvalidItem,
	invoicedomain.ErrInvalidPayment,
	invoicedomain.ErrInvalidCustomer,
	coupondomain.ErrInvalidCode,
	coupondomain.ErrInvalidCustomer,
	coupondomain.ErrInvalidValue,
	coupondomain.ErrInvalidType,
	coupondomain.ErrInvalidSubtotal,
	subscriptiondomain.ErrInvalidProduct,
	subscriptiondomain.ErrInvalidCycle,
	subscriptiondomain.ErrInvalidCustomer,
	subscriptiondomain.ErrCurrencyMismatch,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
	paymentdomain.ErrInvalidCustomer,
	paymentdomain.ErrInvalidConfig,
	taxdomain.ErrInvalidCountry,
	taxdomain.ErrInvalidSubtotal,
	taxdomain.ErrInvalidRate,
	taxdomain.ErrInvalidName,
	taxdomain.ErrInvalidID,
}

var notFoundSentinels = []error{
	walletdomain.ErrAccountNotFound,
	invoicedomain.ErrInvoiceNotFound,
	coupondomain.ErrCouponNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	paymentdomain.ErrPaymentNotFound,
	paymentdomain.ErrProviderNotFound,
	taxdomain.ErrRuleNotFound,
	catalog.ErrProductNotFound,
	gorm.ErrRecordNotFound,
}

var conflictSentinels = []error{
	invoicedomain.ErrStateConflict,
	invoicedomain.ErrOverpayment,
	invoicedomain.ErrRefundExceedsPaid,
	subscriptiondomain.ErrStateConflict,
	paymentdomain.ErrAmountExceedsBalance,
	paymentdomain.ErrRefundExceedsPayment,
	paymentdomain.ErrPaymentNotRefundable,
	coupondomain.ErrUsageExhausted,
	coupondomain.ErrDuplicateCode,
	walletdomain.ErrConcurrentUpdate,
	walletdomain.ErrNegativeMainBalance,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErrs *ValidationErrors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErrs.Errors,
		}
	}

	// Coupon rejections carry an operator-facing reason string that is
	// surfaced verbatim.
	var couponErr *invoicedomain.CouponRejectedError
	if errors.As(err, &couponErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "coupon_rejected",
			Message: couponErr.Reason,
			Code:    couponErr.Code,
		}
	}

	var gatewayErr *paymentdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: gatewayErr.Message,
			Code:    gatewayErr.Code,
		}
	}

	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: sentinel.Error(),
			}
		}
	}

	if errors.Is(err, walletdomain.ErrInsufficientBalance) {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient wallet balance",
		}
	}

	for _, sentinel := range notFoundSentinels {
		if errors.Is(err, sentinel) {
			return http.StatusNotFound, errorPayload{
				Type:    "not_found",
				Message: sentinel.Error(),
			}
		}
	}

	for _, sentinel := range conflictSentinels {
		if errors.Is(err, sentinel) {
			return http.StatusConflict, errorPayload{
				Type:    "conflict",
				Message: sentinel.Error(),
			}
		}
	}

	if errors.Is(err, paymentdomain.ErrInvalidSignature) || errors.Is(err, paymentdomain.ErrInvalidPayload) || errors.Is(err, paymentdomain.ErrInvalidEvent) {
		return http.StatusBadRequest, errorPayload{
			Type:    "webhook_rejected",
			Message: err.Error(),
		}
	}

	if db.IsDuplicateKeyErr(err) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "duplicate",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
