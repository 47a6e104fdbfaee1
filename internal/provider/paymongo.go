package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// SignatureHeader carries the PayMongo webhook signature:
// t=<ts>,te=<test-mode sig>,li=<live-mode sig>.
const SignatureHeader = "Paymongo-Signature"

// PayMongo handles both the payment-intent flow (cards, e-wallets with 3DS)
// and the source flow (redirect e-wallets that become chargeable).
type PayMongo struct {
	cfg           config.PayMongoConfig
	depositAmount float64
	live          bool
	client        *http.Client
	log           zerolog.Logger
}

func NewPayMongo(cfg config.PayMongoConfig, depositAmount float64, live bool, logger *zerolog.Logger) *PayMongo {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "paymongo").Logger()
	}
	return &PayMongo{
		cfg:           cfg,
		depositAmount: depositAmount,
		live:          live,
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           log,
	}
}

func (p *PayMongo) Provider() string { return models.ProviderPayMongo }

// Verify checks the HMAC-SHA256 of "{timestamp}.{body}" against the signature
// header, using the test or live component depending on the environment.
func (p *PayMongo) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	header := headers.Get(SignatureHeader)
	if header == "" {
		return fmt.Errorf("%w: missing %s header", ErrSignatureInvalid, SignatureHeader)
	}

	var ts, testSig, liveSig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "te":
			testSig = value
		case "li":
			liveSig = value
		}
	}
	if ts == "" {
		return fmt.Errorf("%w: missing timestamp", ErrSignatureInvalid)
	}

	expected := liveSig
	if !p.live {
		expected = testSig
	}
	if expected == "" {
		return fmt.Errorf("%w: missing signature component", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// pmEnvelope is the webhook wire shape. The payload nests the actual resource
// under data.attributes.data.
type pmEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type      string `json:"type"`
			CreatedAt int64  `json:"created_at"`
			Data      struct {
				ID         string `json:"id"`
				Attributes struct {
					Amount          int64          `json:"amount"`
					Currency        string         `json:"currency"`
					Status          string         `json:"status"`
					PaymentIntentID string         `json:"payment_intent_id"`
					Metadata        map[string]any `json:"metadata"`
					Source          struct {
						ID string `json:"id"`
					} `json:"source"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// Normalize maps payment.paid / payment.failed / source.chargeable envelopes.
func (p *PayMongo) Normalize(ctx context.Context, payload []byte) (*models.PaymentEvent, error) {
	var env pmEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode paymongo envelope: %w", err)
	}

	attrs := env.Data.Attributes
	resource := attrs.Data
	occurredAt := time.Unix(attrs.CreatedAt, 0)
	if attrs.CreatedAt == 0 {
		occurredAt = time.Now()
	}

	event := &models.PaymentEvent{
		Provider:   models.ProviderPayMongo,
		EventID:    env.Data.ID,
		Amount:     float64(resource.Attributes.Amount) / 100,
		Currency:   strings.ToUpper(resource.Attributes.Currency),
		RawStatus:  resource.Attributes.Status,
		OccurredAt: occurredAt,
	}
	if event.EventID == "" {
		event.EventID = attrs.Type + ":" + resource.ID
	}

	switch attrs.Type {
	case "payment.paid":
		event.Outcome = models.OutcomeSucceeded
		event.ExternalID = intentExternalID(resource.Attributes.PaymentIntentID, resource.Attributes.Source.ID, resource.ID)
	case "payment.failed":
		event.Outcome = models.OutcomeFailed
		event.ExternalID = intentExternalID(resource.Attributes.PaymentIntentID, resource.Attributes.Source.ID, resource.ID)
	case "source.chargeable":
		event.Provider = models.ProviderPayMongoSource
		event.Outcome = models.OutcomeChargeable
		event.ExternalID = resource.ID
		event.IsDeposit = p.classifyDeposit(resource.Attributes.Metadata, event.Amount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, attrs.Type)
	}

	if event.ExternalID == "" {
		return nil, fmt.Errorf("paymongo %s event carries no payment id", attrs.Type)
	}
	if v, ok := resource.Attributes.Metadata["rental_id"].(string); ok {
		event.RentalID = v
	}
	return event, nil
}

// classifyDeposit prefers the explicit is_deposit metadata key; absent that it
// falls back to comparing the amount against the configured deposit constant.
// The fallback misclassifies the moment the fee schedule changes, which is why
// callers are expected to set the metadata key.
func (p *PayMongo) classifyDeposit(metadata map[string]any, amount float64) bool {
	if v, ok := metadata["is_deposit"]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return strings.EqualFold(t, "true")
		}
	}
	return amount == p.depositAmount
}

func intentExternalID(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// Intent is the provider-side payment intent as the engine sees it.
type Intent struct {
	ID            string
	Status        string
	ClientKey     string
	Amount        float64
	Currency      string
	NextActionURL string
	LastError     string
}

type pmResource struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Amount     int64  `json:"amount"`
			Currency   string `json:"currency"`
			Status     string `json:"status"`
			ClientKey  string `json:"client_key"`
			NextAction struct {
				Redirect struct {
					URL string `json:"url"`
				} `json:"redirect"`
			} `json:"next_action"`
			LastPaymentError json.RawMessage `json:"last_payment_error"`
		} `json:"attributes"`
	} `json:"data"`
}

// centavos converts a peso amount to PayMongo's integer unit. Truncation
// would turn 299.99 into 29998 and break the exact-amount match on
// reconciliation.
func centavos(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreatePaymentIntent opens an intent for the given amount in pesos.
// Metadata must flatten to strings; PayMongo rejects nested values.
func (p *PayMongo) CreatePaymentIntent(ctx context.Context, amount float64, currency, description string, metadata map[string]string) (*Intent, error) {
	body := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"amount":                 centavos(amount),
				"currency":               currency,
				"description":            description,
				"payment_method_allowed": []string{"card", "gcash", "paymaya"},
				"capture_type":           "automatic",
				"metadata":               metadata,
			},
		},
	}
	return p.intentRequest(ctx, http.MethodPost, "/payment_intents", body)
}

// AttachPaymentMethod binds a client-created payment method to an intent,
// starting 3DS when the card requires it.
func (p *PayMongo) AttachPaymentMethod(ctx context.Context, intentID, paymentMethodID, clientKey, returnURL string) (*Intent, error) {
	attributes := map[string]any{
		"payment_method": paymentMethodID,
	}
	if clientKey != "" {
		attributes["client_key"] = clientKey
	}
	if returnURL != "" {
		attributes["return_url"] = returnURL
	}
	body := map[string]any{"data": map[string]any{"attributes": attributes}}
	return p.intentRequest(ctx, http.MethodPost, "/payment_intents/"+intentID+"/attach", body)
}

// RetrievePaymentIntent polls the provider-side state of an intent.
func (p *PayMongo) RetrievePaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	return p.intentRequest(ctx, http.MethodGet, "/payment_intents/"+intentID, nil)
}

// CreatePaymentFromSource charges a chargeable source. The sources flow has no
// capture step; this call is what actually moves the money.
func (p *PayMongo) CreatePaymentFromSource(ctx context.Context, sourceID string, amount float64, currency, description string) (*Intent, error) {
	body := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"amount":      centavos(amount),
				"currency":    currency,
				"description": description,
				"source": map[string]any{
					"id":   sourceID,
					"type": "source",
				},
			},
		},
	}
	return p.intentRequest(ctx, http.MethodPost, "/payments", body)
}

func (p *PayMongo) intentRequest(ctx context.Context, method, path string, body any) (*Intent, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(p.cfg.SecretKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		p.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("paymongo request rejected")
		return nil, fmt.Errorf("paymongo %s failed: status %d: %s", path, resp.StatusCode, truncate(raw, 256))
	}

	var res pmResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode paymongo response: %w", err)
	}

	return &Intent{
		ID:            res.Data.ID,
		Status:        res.Data.Attributes.Status,
		ClientKey:     res.Data.Attributes.ClientKey,
		Amount:        float64(res.Data.Attributes.Amount) / 100,
		Currency:      strings.ToUpper(res.Data.Attributes.Currency),
		NextActionURL: res.Data.Attributes.NextAction.Redirect.URL,
		LastError:     string(res.Data.Attributes.LastPaymentError),
	}, nil
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
