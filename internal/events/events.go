package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventPaymentConfirmed    = "payment_confirmed"
	EventDepositPaid         = "deposit_paid"
	EventPaymentFailed       = "payment_failed"
	EventDatesBlocked        = "dates_blocked"
	EventPayoutCreated       = "payout_created"
	EventRentalAutoCancelled = "rental_auto_cancelled"
	EventPartialFailure      = "partial_failure"
)

// RentalEventPayload is the minimal rental snapshot for event consumers.
type RentalEventPayload struct {
	RentalID     string    `json:"rental_id"`
	VehicleID    int64     `json:"vehicle_id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	Amount       float64   `json:"amount,omitempty"`
	IsDeposit    bool      `json:"is_deposit,omitempty"`
	BlockedCount int       `json:"blocked_count,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Decode unmarshals a published payload back into p.
func (p *RentalEventPayload) Decode(raw []byte) error {
	return json.Unmarshal(raw, p)
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. Handlers run synchronously; the
// publisher decides the concurrency model.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a
// no-op so components can treat the bus as optional.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
