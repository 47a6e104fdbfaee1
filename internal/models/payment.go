package models

import (
	"strings"
	"time"
)

// PaymentRecord is one row of the payment ledger: a single provider-side
// artifact (payment intent, e-wallet source, or order). Many records may
// exist per rental over time; at most one non-terminal record per deposit
// flag at a time.
type PaymentRecord struct {
	ID         int64             `json:"id"`
	Provider   string            `json:"provider"`
	ExternalID string            `json:"external_id"` // provider's intent/source/order id
	RentalID   string            `json:"rental_id"`
	Amount     float64           `json:"amount"`
	Currency   string            `json:"currency"`
	IsDeposit  bool              `json:"is_deposit"`
	Status     string            `json:"status"` // provider status string, stored verbatim
	CaptureID  string            `json:"capture_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ProviderTS time.Time         `json:"provider_ts"` // timestamp of the last applied provider event
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Terminal reports whether the ledger row can no longer change. Statuses are
// provider-raw; PayPal reports them uppercase.
func (p *PaymentRecord) Terminal() bool {
	switch strings.ToLower(p.Status) {
	case "paid", "succeeded", "failed", "cancelled", "expired", "completed", "denied", "declined":
		return true
	}
	return false
}

// Outcome of a normalized payment event.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomePending    Outcome = "pending"
	OutcomeChargeable Outcome = "chargeable"
)

// PaymentEvent is the normalized form every provider adapter produces.
// Adapters are the only code allowed to know raw wire shapes.
type PaymentEvent struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`    // stable id for deduplication
	ExternalID string    `json:"external_id"` // intent/source/order id
	RentalID   string    `json:"rental_id,omitempty"`
	IsDeposit  bool      `json:"is_deposit"`
	Outcome    Outcome   `json:"outcome"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	RawStatus  string    `json:"raw_status"`
	CaptureID  string    `json:"capture_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WebhookEvent is the dedup record for one delivered provider event.
type WebhookEvent struct {
	ID             int64      `json:"id"`
	Provider       string     `json:"provider"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Payload        string     `json:"payload"`
	SignatureValid bool       `json:"signature_valid"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ProcessingErr  string     `json:"processing_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RetryTask is a durable unit of deferred work: a failed history append, a
// partial-failure event replay, or a sheet export.
type RetryTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	RentalID    string     `json:"rental_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"` // pending, retry, completed, failed
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
