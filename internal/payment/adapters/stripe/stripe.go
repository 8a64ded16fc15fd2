package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
)

const apiBase = "https://api.stripe.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	apiKey, _ := readString(cfg.Config, "api_key")
	apiKey = strings.TrimSpace(apiKey)
	secret, _ := readString(cfg.Config, "webhook_secret")
	secret = strings.TrimSpace(secret)
	if apiKey == "" && secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	return &Adapter{
		apiKey:        apiKey,
		webhookSecret: secret,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

type Adapter struct {
	apiKey        string
	webhookSecret string
	client        *http.Client
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("confirm", "true")
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	if req.PaymentToken != "" {
		values.Set("payment_method", req.PaymentToken)
	}
	values.Set("metadata[invoice_id]", req.InvoiceID.String())
	values.Set("metadata[customer_id]", req.CustomerID.String())

	intent, err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.Reference)
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func (a *Adapter) CapturePayment(ctx context.Context, providerPaymentID string) (*domain.CreatePaymentResult, error) {
	intent, err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents/"+providerPaymentID+"/capture", url.Values{}, "")
	if err != nil {
		return nil, err
	}
	return intentResult(intent), nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundPaymentRequest) (*domain.RefundPaymentResult, error) {
	values := url.Values{}
	values.Set("payment_intent", req.ProviderPaymentID)
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		values.Set("metadata[reason]", req.Reason)
	}

	var refund stripeRefund
	if err := a.call(ctx, http.MethodPost, "/v1/refunds", values, "", &refund); err != nil {
		return nil, err
	}
	return &domain.RefundPaymentResult{
		ProviderRefundID: refund.ID,
		Succeeded:        refund.Status == "succeeded" || refund.Status == "pending",
		FailureCode:      refund.FailureReason,
	}, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (domain.PaymentStatus, error) {
	intent, err := a.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+providerPaymentID, nil, "")
	if err != nil {
		return "", err
	}
	switch intent.Status {
	case "succeeded":
		return domain.PaymentStatusCompleted, nil
	case "canceled":
		return domain.PaymentStatusFailed, nil
	default:
		return domain.PaymentStatusPending, nil
	}
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidConfig
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*domain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return parseIntent(event, payload, domain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return parseIntent(event, payload, domain.EventTypePaymentFailed)
	case "charge.refunded":
		return parseCharge(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeIntent struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	ClientSecret   string         `json:"client_secret"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
	LastError      *stripeError   `json:"last_payment_error"`
	NextAction     map[string]any `json:"next_action"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeRefund struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

type stripeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stripeErrorResponse struct {
	Error stripeError `json:"error"`
}

func intentResult(intent stripeIntent) *domain.CreatePaymentResult {
	switch intent.Status {
	case "succeeded":
		return &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeSucceeded,
			ProviderPaymentID: intent.ID,
		}
	case "requires_action", "requires_confirmation":
		action := map[string]string{"client_secret": intent.ClientSecret}
		return &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeRequiresAction,
			ProviderPaymentID: intent.ID,
			ActionData:        action,
		}
	default:
		result := &domain.CreatePaymentResult{
			Outcome:           domain.OutcomeFailed,
			ProviderPaymentID: intent.ID,
			FailureCode:       intent.Status,
		}
		if intent.LastError != nil {
			result.FailureCode = intent.LastError.Code
			result.FailureMessage = intent.LastError.Message
		}
		return result
	}
}

func parseIntent(event stripeEvent, payload []byte, eventType string) (*domain.PaymentEvent, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	customerID, invoiceID, err := parseMetadataIDs(intent.Metadata)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		ProviderPaymentID: intent.ID,
		Type:              eventType,
		CustomerID:        customerID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:        timestamp(intent.Created, event.Created),
		RawPayload:        payload,
		InvoiceID:         invoiceID,
	}, nil
}

func parseCharge(event stripeEvent, payload []byte) (*domain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	amount := charge.Amount
	if charge.AmountRefunded > 0 {
		amount = charge.AmountRefunded
	}
	customerID, invoiceID, err := parseMetadataIDs(charge.Metadata)
	if err != nil {
		return nil, err
	}

	providerPaymentID := charge.PaymentIntent
	if providerPaymentID == "" {
		providerPaymentID = charge.ID
	}

	return &domain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		ProviderPaymentID: providerPaymentID,
		Type:              domain.EventTypeRefunded,
		CustomerID:        customerID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:        timestamp(charge.Created, event.Created),
		RawPayload:        payload,
		InvoiceID:         invoiceID,
	}, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (stripeIntent, error) {
	var intent stripeIntent
	err := a.call(ctx, method, path, values, idempotencyKey, &intent)
	return intent, err
}

func (a *Adapter) call(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if a.apiKey == "" {
		return domain.ErrInvalidConfig
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: "stripe", Code: "network_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil || stripeErr.Error.Message == "" {
			return &domain.GatewayError{Provider: "stripe", Code: strconv.Itoa(resp.StatusCode), Message: "request failed"}
		}
		return &domain.GatewayError{Provider: "stripe", Code: stripeErr.Error.Code, Message: stripeErr.Error.Message}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseMetadataIDs(metadata map[string]any) (snowflake.ID, *snowflake.ID, error) {
	customerRaw := readMetadataValue(metadata, "customer_id")
	if customerRaw == "" {
		return 0, nil, domain.ErrInvalidCustomer
	}
	customerID, err := snowflake.ParseString(customerRaw)
	if err != nil {
		return 0, nil, domain.ErrInvalidCustomer
	}

	invoiceRaw := readMetadataValue(metadata, "invoice_id")
	if invoiceRaw == "" {
		return customerID, nil, nil
	}
	invoiceID, err := snowflake.ParseString(invoiceRaw)
	if err != nil {
		return customerID, nil, nil
	}
	return customerID, &invoiceID, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
