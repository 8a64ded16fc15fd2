package adyen

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "adyen"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	hmacKey, _ := readString(cfg.Config, "hmac_key")
	hmacKey = strings.TrimSpace(hmacKey)
	apiKey, _ := readString(cfg.Config, "api_key")
	apiKey = strings.TrimSpace(apiKey)
	merchantAccount, _ := readString(cfg.Config, "merchant_account")
	merchantAccount = strings.TrimSpace(merchantAccount)
	if hmacKey == "" && apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}

	environment, _ := readString(cfg.Config, "environment")
	baseURL := "https://checkout-test.adyen.com/v70"
	if strings.ToUpper(strings.TrimSpace(environment)) == "LIVE" {
		if prefix, ok := readString(cfg.Config, "live_prefix"); ok && strings.TrimSpace(prefix) != "" {
			baseURL = fmt.Sprintf("https://%s-checkout-live.adyenpayments.com/checkout/v70", strings.TrimSpace(prefix))
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Adapter{
		apiKey:          apiKey,
		hmacKey:         hmacKey,
		merchantAccount: merchantAccount,
		baseURL:         baseURL,
		client:          &http.Client{Timeout: timeout},
	}, nil
}

type Adapter struct {
	apiKey          string
	hmacKey         string
	merchantAccount string
	baseURL         string
	client          *http.Client
}

type adyenAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type adyenPaymentRequest struct {
	MerchantAccount string            `json:"merchantAccount"`
	Amount          adyenAmount       `json:"amount"`
	Reference       string            `json:"reference"`
	PaymentMethod   map[string]string `json:"paymentMethod,omitempty"`
	AdditionalData  map[string]string `json:"additionalData,omitempty"`
}

type adyenPaymentResponse struct {
	PspReference      string         `json:"pspReference"`
	ResultCode        string         `json:"resultCode"`
	RefusalReason     string         `json:"refusalReason"`
	RefusalReasonCode string         `json:"refusalReasonCode"`
	Action            map[string]any `json:"action"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	if a.apiKey == "" || a.merchantAccount == "" {
		return nil, domain.ErrInvalidConfig
	}

	body := adyenPaymentRequest{
		MerchantAccount: a.merchantAccount,
		Amount:          adyenAmount{Currency: strings.ToUpper(req.Currency), Value: req.Amount},
		Reference:       req.Reference,
		AdditionalData: map[string]string{
			"metadata.invoice_id":  req.InvoiceID.String(),
			"metadata.customer_id": req.CustomerID.String(),
		},
	}
	if req.PaymentToken != "" {
		body.PaymentMethod = map[string]string{
			"type":                  "scheme",
			"storedPaymentMethodId": req.PaymentToken,
		}
	}

	var resp adyenPaymentResponse
	if err := a.call(ctx, "/payments", body, &resp); err != nil {
		return nil, err
	}

	switch resp.ResultCode {
	case "Authorised", "Received":
		return &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeSucceeded,
			ProviderPaymentID: resp.PspReference,
		}, nil
	case "RedirectShopper", "IdentifyShopper", "ChallengeShopper", "Pending":
		action := map[string]string{}
		for key, value := range resp.Action {
			if cast, ok := value.(string); ok {
				action[key] = cast
			}
		}
		return &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeRequiresAction,
			ProviderPaymentID: resp.PspReference,
			ActionData:        action,
		}, nil
	default:
		return &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeFailed,
			ProviderPaymentID: resp.PspReference,
			FailureCode:       resp.RefusalReasonCode,
			FailureMessage:    resp.RefusalReason,
		}, nil
	}
}

func (a *Adapter) CapturePayment(ctx context.Context, providerPaymentID string) (*domain.CreatePaymentResult, error) {
	body := map[string]any{
		"merchantAccount": a.merchantAccount,
	}
	var resp adyenPaymentResponse
	if err := a.call(ctx, "/payments/"+providerPaymentID+"/captures", body, &resp); err != nil {
		return nil, err
	}
	return &domain.CreatePaymentResult{
		Outcome:           domain.OutcomeSucceeded,
		ProviderPaymentID: providerPaymentID,
	}, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundPaymentRequest) (*domain.RefundPaymentResult, error) {
	body := map[string]any{
		"merchantAccount": a.merchantAccount,
		"amount":          adyenAmount{Currency: strings.ToUpper(req.Currency), Value: req.Amount},
		"reference":       req.Reason,
	}
	var resp adyenPaymentResponse
	if err := a.call(ctx, "/payments/"+req.ProviderPaymentID+"/refunds", body, &resp); err != nil {
		return nil, err
	}
	return &domain.RefundPaymentResult{
		ProviderRefundID: resp.PspReference,
		Succeeded:        true,
	}, nil
}

// GetPaymentStatus is webhook driven at Adyen; a payment stays pending
// until an AUTHORISATION notification settles it.
func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (domain.PaymentStatus, error) {
	return domain.PaymentStatusPending, nil
}

// VerifyWebhook checks the Adyen HMAC scheme: each notification item
// carries additionalData.hmacSignature over the escaped colon-joined
// canonical string; any invalid item rejects the whole delivery.
// Reference: https://docs.adyen.com/development-resources/webhooks/verify-hmac-signatures
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if a.hmacKey == "" {
		return domain.ErrInvalidConfig
	}

	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return domain.ErrInvalidPayload
	}
	if len(root.NotificationItems) == 0 {
		return domain.ErrInvalidPayload
	}

	for _, item := range root.NotificationItems {
		signature := item.NotificationRequestItem.AdditionalData["hmacSignature"]
		if signature == "" {
			return domain.ErrInvalidSignature
		}
		if err := a.verifyItemSignature(item.NotificationRequestItem, signature); err != nil {
			return err
		}
	}

	return nil
}

func (a *Adapter) verifyItemSignature(item adyenNotificationRequestItem, expectedSig string) error {
	// Canonical field order:
	// pspReference : originalReference : merchantAccountCode :
	// merchantReference : value : currency : eventCode : success
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}

	// Escape backslash and colon inside each field, then join with ":".
	var sb strings.Builder
	for i, part := range parts {
		replaced := strings.ReplaceAll(part, "\\", "\\\\")
		replaced = strings.ReplaceAll(replaced, ":", "\\:")
		sb.WriteString(replaced)
		if i < len(parts)-1 {
			sb.WriteString(":")
		}
	}

	// The shared key is hex encoded; the signature is base64 of the
	// HMAC-SHA256 digest.
	keyBytes, err := hex.DecodeString(a.hmacKey)
	if err != nil {
		return domain.ErrInvalidConfig
	}
	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(sb.String()))
	calculated := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(calculated), []byte(expectedSig)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// ParseWebhook returns the first notification item; deliveries are
// configured single-item on the Adyen side.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.PaymentEvent, error) {
	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if len(root.NotificationItems) == 0 {
		return nil, domain.ErrInvalidPayload
	}

	item := root.NotificationItems[0].NotificationRequestItem

	var eventType string
	switch item.EventCode {
	case "AUTHORISATION":
		if item.Success == "true" {
			eventType = domain.EventTypePaymentSucceeded
		} else {
			eventType = domain.EventTypePaymentFailed
		}
	case "REFUND":
		if item.Success != "true" {
			return nil, domain.ErrEventIgnored
		}
		eventType = domain.EventTypeRefunded
	case "CANCELLATION", "OFFER_CLOSED":
		eventType = domain.EventTypePaymentFailed
	default:
		return nil, domain.ErrEventIgnored
	}

	customerIDStr := item.AdditionalData["metadata.customer_id"]
	if customerIDStr == "" {
		customerIDStr = item.MerchantReference
	}
	customerID, err := snowflake.ParseString(customerIDStr)
	if err != nil {
		return nil, domain.ErrInvalidCustomer
	}

	var invoiceID *snowflake.ID
	if raw := item.AdditionalData["metadata.invoice_id"]; raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			invoiceID = &id
		}
	}

	// A psp reference is unique per transaction, not per delivery, so
	// the event code disambiguates replays of different event kinds.
	return &domain.PaymentEvent{
		Provider:          "adyen",
		ProviderEventID:   item.PspReference + "_" + item.EventCode,
		ProviderPaymentID: item.PspReference,
		Type:              eventType,
		CustomerID:        customerID,
		Amount:            item.Amount.Value,
		Currency:          strings.ToUpper(item.Amount.Currency),
		OccurredAt:        convertEventDate(item.EventDate),
		RawPayload:        payload,
		InvoiceID:         invoiceID,
	}, nil
}

func (a *Adapter) call(ctx context.Context, path string, body any, out any) error {
	if a.apiKey == "" {
		return domain.ErrInvalidConfig
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("x-API-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: "adyen", Code: "network_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &domain.GatewayError{
			Provider: "adyen",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  "request failed",
		}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func convertEventDate(dateStr string) time.Time {
	t, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}

type adyenNotificationRoot struct {
	NotificationItems []adyenNotificationItem `json:"notificationItems"`
}

type adyenNotificationItem struct {
	NotificationRequestItem adyenNotificationRequestItem `json:"NotificationRequestItem"`
}

type adyenNotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              adyenAmount       `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}
