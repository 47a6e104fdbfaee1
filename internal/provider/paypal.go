package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// PayPal implements the order/capture flow. Webhook authenticity is delegated
// to the provider's verify-webhook-signature API; there is no local HMAC.
type PayPal struct {
	cfg    config.PayPalConfig
	client *http.Client
	log    zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPal(cfg config.PayPalConfig, logger *zerolog.Logger) *PayPal {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "paypal").Logger()
	}
	return &PayPal{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (p *PayPal) Provider() string { return models.ProviderPayPal }

// Verify posts the transmission headers plus the configured webhook id to the
// provider and requires verification_status == SUCCESS.
func (p *PayPal) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	var event json.RawMessage = payload
	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     event,
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification_status=%s", ErrSignatureInvalid, out.VerificationStatus)
	}
	return nil
}

// ppEvent is the webhook wire shape for order and capture events.
type ppEvent struct {
	ID           string    `json:"id"`
	EventType    string    `json:"event_type"`
	CreateTime   time.Time `json:"create_time"`
	ResourceType string    `json:"resource_type"`
	Resource     struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// Normalize maps order and capture events. Only PAYMENT.CAPTURE.COMPLETED is
// authoritative for success; approval and completion of the order itself stay
// pending until funds are captured.
func (p *PayPal) Normalize(ctx context.Context, payload []byte) (*models.PaymentEvent, error) {
	var env ppEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode paypal event: %w", err)
	}

	event := &models.PaymentEvent{
		Provider:   models.ProviderPayPal,
		EventID:    env.ID,
		RawStatus:  env.Resource.Status,
		OccurredAt: env.CreateTime,
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if env.Resource.Amount.Value != "" {
		amount, err := strconv.ParseFloat(env.Resource.Amount.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse paypal amount %q: %w", env.Resource.Amount.Value, err)
		}
		event.Amount = amount
		event.Currency = env.Resource.Amount.CurrencyCode
	}

	switch env.EventType {
	case "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED":
		event.Outcome = models.OutcomePending
		event.ExternalID = env.Resource.ID
	case "PAYMENT.CAPTURE.COMPLETED":
		event.Outcome = models.OutcomeSucceeded
		event.ExternalID = env.Resource.SupplementaryData.RelatedIDs.OrderID
		event.CaptureID = env.Resource.ID
		if event.ExternalID == "" {
			event.ExternalID = env.Resource.ID
		}
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		event.Outcome = models.OutcomeFailed
		event.ExternalID = env.Resource.SupplementaryData.RelatedIDs.OrderID
		event.CaptureID = env.Resource.ID
		if event.ExternalID == "" {
			event.ExternalID = env.Resource.ID
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, env.EventType)
	}

	if env.Resource.CustomID != "" {
		rentalID, isDeposit := parseCustomID(env.Resource.CustomID)
		event.RentalID = rentalID
		event.IsDeposit = isDeposit
	}
	if event.EventID == "" {
		event.EventID = env.EventType + ":" + event.ExternalID
	}
	return event, nil
}

// parseCustomID splits the "rentalID|deposit" custom id the checkout flow
// attaches when the order is created.
func parseCustomID(custom string) (string, bool) {
	rentalID, marker, ok := strings.Cut(custom, "|")
	if !ok {
		return custom, false
	}
	return rentalID, strings.EqualFold(marker, "deposit")
}

// Order is a provider-side order as the engine sees it.
type Order struct {
	ID        string
	Status    string
	CaptureID string
}

type ppOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// GetOrder polls the provider-side state of an order.
func (p *PayPal) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out ppOrder
	if err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil, &out); err != nil {
		return nil, err
	}
	return orderFromWire(out), nil
}

// CaptureOrder executes the capture step of an approved order.
func (p *PayPal) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	var out ppOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return orderFromWire(out), nil
}

func orderFromWire(out ppOrder) *Order {
	order := &Order{ID: out.ID, Status: out.Status}
	for _, unit := range out.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			order.CaptureID = capture.ID
		}
	}
	return order
}

func (p *PayPal) call(ctx context.Context, method, path string, body, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		p.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("paypal request rejected")
		return fmt.Errorf("paypal %s failed: status %d: %s", path, resp.StatusCode, truncate(raw, 256))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode paypal response: %w", err)
		}
	}
	return nil
}

// token returns a cached client-credentials token, refreshing when it is
// within a minute of expiry.
func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry.Add(-time.Minute)) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	p.accessToken = out.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return p.accessToken, nil
}
