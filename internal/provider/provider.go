// Package provider holds the payment-provider adapters. Adapters are the only
// code allowed to know raw wire shapes; everything downstream of them works on
// normalized PaymentEvent values.
package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

var (
	// ErrSignatureInvalid rejects a webhook before any state is touched.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrUnhandledEvent means the envelope type is not one the engine acts on.
	ErrUnhandledEvent = errors.New("unhandled event type")

	// ErrUpstreamUnavailable wraps transient provider API failures.
	ErrUpstreamUnavailable = errors.New("provider api unavailable")
)

// Adapter converts provider-native webhook payloads into PaymentEvents.
// Verify must be called on the raw body before Normalize; adapters perform no
// side effects of their own.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Normalize(ctx context.Context, payload []byte) (*models.PaymentEvent, error)
}
