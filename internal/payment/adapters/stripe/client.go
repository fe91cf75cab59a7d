package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
)

type stripeSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	apiKey  string
	apiBase string
	http    *http.Client
}

func newClient(apiKey string, apiBase string) *client {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &client{
		apiKey:  strings.TrimSpace(apiKey),
		apiBase: apiBase,
		http:    &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *client) createCheckoutSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	if req.PurchaseID == 0 || len(req.LineItems) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	purchaseID := req.PurchaseID.String()

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("success_url", req.SuccessURL)
	values.Set("cancel_url", req.CancelURL)
	values.Set("client_reference_id", purchaseID)
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		values.Set("customer_email", email)
	}
	values.Set("metadata[purchase_id]", purchaseID)
	values.Set("metadata[download_token]", req.DownloadToken)
	values.Set("payment_intent_data[metadata][purchase_id]", purchaseID)

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	for i, item := range req.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		values.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
		values.Set(prefix+"[price_data][currency]", currency)
		values.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitAmount, 10))
		values.Set(prefix+"[price_data][product_data][name]", item.Name)
		if desc := strings.TrimSpace(item.Description); desc != "" {
			values.Set(prefix+"[price_data][product_data][description]", desc)
		}
	}

	var session stripeSessionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, "purchase:"+purchaseID, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: stripe_response_invalid", paymentdomain.ErrGatewayFailure)
	}
	return &paymentdomain.Session{ID: session.ID, URL: session.URL}, nil
}

func (c *client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if c.apiKey == "" {
		return paymentdomain.ErrInvalidConfig
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return fmt.Errorf("%w: stripe_request_failed status=%d", paymentdomain.ErrGatewayFailure, resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayFailure, message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailure, err)
	}
	return nil
}
