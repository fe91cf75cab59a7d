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
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
)

const (
	defaultAPIBase   = "https://api.stripe.com"
	defaultTolerance = 5 * time.Minute
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	APIBase       string
	Tolerance     time.Duration
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
	client        *client
}

func New(cfg Config, clk clock.Clock) *Adapter {
	if clk == nil {
		clk = clock.System{}
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Adapter{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		clock:         clk,
		client:        newClient(cfg.SecretKey, cfg.APIBase),
	}
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	return a.client.createCheckoutSession(ctx, req)
}

// ParseEvent verifies the Stripe-Signature header before decoding anything.
func (a *Adapter) ParseEvent(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.Event, error) {
	if err := a.verify(payload, headers); err != nil {
		return nil, err
	}
	return parse(payload)
}

func (a *Adapter) verify(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.clock.Now().Sub(time.Unix(unix, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
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

	return paymentdomain.ErrInvalidSignature
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

type stripeCheckoutSession struct {
	ID            string          `json:"id"`
	PaymentStatus string          `json:"payment_status"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
	Created       int64           `json:"created"`
	Metadata      map[string]any  `json:"metadata"`
}

type stripePaymentIntent struct {
	ID       string         `json:"id"`
	Created  int64          `json:"created"`
	Metadata map[string]any `json:"metadata"`
}

func parse(payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.Event{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            strings.TrimSpace(event.Type),
		OccurredAt:      timestamp(0, event.Created),
		RawPayload:      payload,
	}

	switch out.Type {
	case "checkout.session.completed":
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		fillFromSession(out, event, session)
		// Delayed payment methods complete the session before funds arrive;
		// async_payment_succeeded carries the outcome for those.
		switch session.PaymentStatus {
		case "paid", "no_payment_required":
			out.Kind = purchasedomain.EventSessionCompleted
		}
	case "checkout.session.async_payment_succeeded":
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		fillFromSession(out, event, session)
		out.Kind = purchasedomain.EventSessionCompleted
	case "checkout.session.expired":
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		fillFromSession(out, event, session)
		out.Kind = purchasedomain.EventSessionExpired
	case "checkout.session.async_payment_failed":
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		fillFromSession(out, event, session)
		out.Kind = purchasedomain.EventPaymentFailed
	case "payment_intent.payment_failed":
		var intent stripePaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if strings.TrimSpace(intent.ID) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		out.PaymentIntentID = intent.ID
		out.PurchaseID = parseMetadataID(intent.Metadata, "purchase_id")
		out.OccurredAt = timestamp(intent.Created, event.Created)
		out.Kind = purchasedomain.EventPaymentFailed
	}

	return out, nil
}

func decodeSession(event stripeEvent) (stripeCheckoutSession, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return session, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return session, paymentdomain.ErrInvalidEvent
	}
	return session, nil
}

func fillFromSession(out *paymentdomain.Event, event stripeEvent, session stripeCheckoutSession) {
	out.SessionID = session.ID
	out.PaymentIntentID = readExpandableID(session.PaymentIntent)
	out.PurchaseID = parseMetadataID(session.Metadata, "purchase_id")
	out.OccurredAt = timestamp(session.Created, event.Created)
}

// readExpandableID accepts both the bare id and the expanded object form.
func readExpandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func parseStripeSignature(header string) (string, []string, error) {
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

func parseMetadataID(metadata map[string]any, key string) *snowflake.ID {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
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
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

var _ paymentdomain.Gateway = (*Adapter)(nil)
