package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
)

// IntentClient is the slice of the card/e-wallet provider API the intent
// service needs.
type IntentClient interface {
	CreatePaymentIntent(ctx context.Context, amount float64, currency, description string, metadata map[string]string) (*provider.Intent, error)
	AttachPaymentMethod(ctx context.Context, intentID, paymentMethodID, clientKey, returnURL string) (*provider.Intent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*provider.Intent, error)
}

// OrderClient is the slice of the order-based provider API used for status
// polling.
type OrderClient interface {
	GetOrder(ctx context.Context, orderID string) (*provider.Order, error)
}

// Intents creates deposit intents and reconciles provider-side state on
// demand. Polling goes through the same guard and state machine as webhooks,
// so a poll can never apply a transition a webhook could not.
type Intents struct {
	store      domain.Store
	paymongo   IntentClient
	paypal     OrderClient
	guard      *Guard
	reconciler *Reconciler
	currency   string
	log        zerolog.Logger
}

func NewIntents(store domain.Store, paymongo IntentClient, paypal OrderClient, guard *Guard, reconciler *Reconciler, currency string, logger *zerolog.Logger) *Intents {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "intents").Logger()
	}
	return &Intents{
		store:      store,
		paymongo:   paymongo,
		paypal:     paypal,
		guard:      guard,
		reconciler: reconciler,
		currency:   currency,
		log:        log,
	}
}

// CreateDepositIntent opens a provider-side deposit intent for a rental and
// records it in the ledger. Guards run in order; the first violation wins.
func (s *Intents) CreateDepositIntent(ctx context.Context, rentalID, userID string) (*provider.Intent, error) {
	rental, err := s.store.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}

	if rental.UserID != "" && userID != "" && rental.UserID != userID {
		return nil, fmt.Errorf("%w: rental %s does not belong to caller", ErrPrecondition, rentalID)
	}
	if !rental.DepositRequired {
		return nil, fmt.Errorf("%w: rental %s does not require a deposit", ErrPrecondition, rentalID)
	}
	if rental.DepositPaid {
		return nil, fmt.Errorf("%w: deposit for rental %s is already paid", ErrPrecondition, rentalID)
	}
	if models.IsTerminalStatus(rental.Status) {
		return nil, fmt.Errorf("%w: rental %s is %s", ErrPrecondition, rentalID, rental.Status)
	}

	// at most one live deposit intent per rental
	existing, err := s.store.GetPaymentsByRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	for _, rec := range existing {
		if rec.IsDeposit && !rec.Terminal() {
			return nil, database.ErrActivePaymentExists
		}
	}

	metadata := map[string]string{
		"rental_id":  rentalID,
		"is_deposit": "true",
	}
	intent, err := s.paymongo.CreatePaymentIntent(ctx, rental.DepositAmount, s.currency,
		"Security deposit for rental "+rentalID, metadata)
	if err != nil {
		metrics.IncProviderAPIError(models.ProviderPayMongo)
		return nil, err
	}

	record := &models.PaymentRecord{
		Provider:   models.ProviderPayMongo,
		ExternalID: intent.ID,
		RentalID:   rentalID,
		Amount:     rental.DepositAmount,
		Currency:   s.currency,
		IsDeposit:  true,
		Status:     intent.Status,
		Metadata:   metadata,
	}
	if err := s.store.CreatePaymentRecord(ctx, record); err != nil {
		// intent exists provider-side but has no ledger row; the status
		// endpoint cannot see it until this is resolved
		s.log.Error().Err(err).
			Str("rental_id", rentalID).
			Str("intent_id", intent.ID).
			Msg("intent created but ledger insert failed")
		return nil, err
	}

	s.log.Info().
		Str("rental_id", rentalID).
		Str("intent_id", intent.ID).
		Float64("amount", rental.DepositAmount).
		Msg("deposit intent created")
	return intent, nil
}

// Attach binds a payment method to an intent. When the provider reports a
// final state synchronously the result is reconciled immediately instead of
// waiting for the webhook.
func (s *Intents) Attach(ctx context.Context, intentID, paymentMethodID, clientKey, returnURL string) (*provider.Intent, error) {
	record, err := s.store.GetPaymentByExternalID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.Terminal() {
		return nil, fmt.Errorf("%w: payment %s is already %s", ErrPrecondition, intentID, record.Status)
	}

	intent, err := s.paymongo.AttachPaymentMethod(ctx, intentID, paymentMethodID, clientKey, returnURL)
	if err != nil {
		metrics.IncProviderAPIError(record.Provider)
		return nil, err
	}

	if err := s.reconcilePolled(ctx, record, intent.Status, ""); err != nil {
		return intent, err
	}
	return intent, nil
}

// CheckStatus polls the provider for the current state of a payment and
// applies any transition the webhook path has not delivered yet. Returns the
// refreshed ledger record.
func (s *Intents) CheckStatus(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	record, err := s.store.GetPaymentByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	switch record.Provider {
	case models.ProviderPayMongo:
		intent, err := s.paymongo.RetrievePaymentIntent(ctx, externalID)
		if err != nil {
			metrics.IncProviderAPIError(record.Provider)
			return nil, err
		}
		if err := s.reconcilePolled(ctx, record, intent.Status, ""); err != nil {
			return nil, err
		}
	case models.ProviderPayPal:
		if s.paypal == nil {
			break
		}
		order, err := s.paypal.GetOrder(ctx, externalID)
		if err != nil {
			metrics.IncProviderAPIError(record.Provider)
			return nil, err
		}
		if err := s.reconcilePolled(ctx, record, order.Status, order.CaptureID); err != nil {
			return nil, err
		}
	default:
		// e-wallet sources have no pollable intent; webhooks are the only
		// source of truth for them
	}

	return s.store.GetPaymentByExternalID(ctx, externalID)
}

// reconcilePolled turns a polled provider status into a synthetic event and
// runs it through the guard and state machine. Repeated polls of the same
// status dedupe on the synthesized event id.
func (s *Intents) reconcilePolled(ctx context.Context, record *models.PaymentRecord, rawStatus, captureID string) error {
	outcome := polledOutcome(record.Provider, rawStatus, captureID)
	if outcome == models.OutcomePending || strings.EqualFold(record.Status, rawStatus) {
		return nil
	}

	event := &models.PaymentEvent{
		Provider:   record.Provider,
		EventID:    fmt.Sprintf("poll:%s:%s", record.ExternalID, strings.ToLower(rawStatus)),
		ExternalID: record.ExternalID,
		RentalID:   record.RentalID,
		IsDeposit:  record.IsDeposit,
		Outcome:    outcome,
		Amount:     record.Amount,
		Currency:   record.Currency,
		RawStatus:  rawStatus,
		CaptureID:  captureID,
		OccurredAt: time.Now(),
	}

	if err := s.guard.Admit(ctx, &models.WebhookEvent{
		Provider:       record.Provider,
		EventID:        event.EventID,
		EventType:      "poll",
		SignatureValid: true,
	}); err != nil {
		if !errors.Is(err, database.ErrDuplicateEvent) {
			return err
		}
		// a previous poll admitted this status but failed to apply it
		done, derr := s.guard.Completed(ctx, record.Provider, event.EventID)
		if derr != nil {
			return derr
		}
		if done {
			return nil
		}
	}

	err := s.reconciler.Apply(ctx, event)
	s.guard.MarkProcessed(ctx, record.Provider, event.EventID, err)
	if errors.Is(err, database.ErrStaleEvent) {
		return nil
	}
	return err
}

func polledOutcome(providerName, rawStatus, captureID string) models.Outcome {
	switch strings.ToLower(rawStatus) {
	case "succeeded", "paid":
		return models.OutcomeSucceeded
	case "failed", "cancelled", "expired", "denied", "declined", "voided":
		return models.OutcomeFailed
	case "completed":
		// a completed order without a capture moved no money yet
		if providerName == models.ProviderPayPal && captureID == "" {
			return models.OutcomePending
		}
		return models.OutcomeSucceeded
	default:
		return models.OutcomePending
	}
}
