package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/events"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
)

// SourceCharger charges an e-wallet source once it becomes chargeable. The
// sources flow has no client-side capture; this call moves the money.
type SourceCharger interface {
	CreatePaymentFromSource(ctx context.Context, sourceID string, amount float64, currency, description string) (*provider.Intent, error)
}

// Reconciler is the booking state machine. Every normalized payment event
// funnels through Apply, regardless of whether it arrived by webhook, poll,
// or retry replay.
type Reconciler struct {
	store    domain.Store
	charger  SourceCharger
	blocker  *Blocker
	bus      domain.EventPublisher
	tasks    domain.TaskEnqueuer
	notifier domain.Notifier
	log      zerolog.Logger
}

func NewReconciler(store domain.Store, charger SourceCharger, blocker *Blocker, bus domain.EventPublisher, tasks domain.TaskEnqueuer, notifier domain.Notifier, logger *zerolog.Logger) *Reconciler {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "reconciler").Logger()
	}
	return &Reconciler{
		store:    store,
		charger:  charger,
		blocker:  blocker,
		bus:      bus,
		tasks:    tasks,
		notifier: notifier,
		log:      log,
	}
}

// Apply runs one normalized event through the state machine. Callers must
// have admitted the event through the Guard first; Apply itself is safe to
// replay but will re-append some history entries when it is.
func (r *Reconciler) Apply(ctx context.Context, event *models.PaymentEvent) error {
	if event.Outcome == models.OutcomeChargeable {
		return r.applyChargeable(ctx, event)
	}

	record, err := r.store.GetPaymentByExternalID(ctx, event.ExternalID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return r.unknownPayment(ctx, event)
		}
		return r.partialFailure(ctx, event, fmt.Errorf("lookup payment %s: %w", event.ExternalID, err))
	}

	if err := r.store.UpdatePaymentStatus(ctx, event.ExternalID, event.RawStatus, event.CaptureID, event.OccurredAt); err != nil {
		if errors.Is(err, database.ErrStaleEvent) {
			r.log.Info().
				Str("external_id", event.ExternalID).
				Str("raw_status", event.RawStatus).
				Time("occurred_at", event.OccurredAt).
				Msg("dropping stale event")
			return err
		}
		return r.partialFailure(ctx, event, err)
	}

	switch event.Outcome {
	case models.OutcomeSucceeded:
		return r.applySuccess(ctx, record, event)
	case models.OutcomeFailed:
		return r.applyFailure(ctx, record, event)
	case models.OutcomePending:
		// ledger updated, nothing on the rental changes yet
		return nil
	default:
		return fmt.Errorf("unknown outcome %q for event %s", event.Outcome, event.EventID)
	}
}

// applyChargeable handles the e-wallet sources flow: the provider tells us
// the customer authorized the source, and we must create the actual payment.
// On charge success the event is re-applied as a success.
func (r *Reconciler) applyChargeable(ctx context.Context, event *models.PaymentEvent) error {
	record, err := r.store.GetPaymentByExternalID(ctx, event.ExternalID)
	if err != nil {
		if !errors.Is(err, database.ErrRecordNotFound) {
			return r.partialFailure(ctx, event, fmt.Errorf("lookup source %s: %w", event.ExternalID, err))
		}
		// client-created source, first time we hear about it
		if event.RentalID == "" {
			return r.unknownPayment(ctx, event)
		}
		record = &models.PaymentRecord{
			Provider:   models.ProviderPayMongoSource,
			ExternalID: event.ExternalID,
			RentalID:   event.RentalID,
			Amount:     event.Amount,
			Currency:   event.Currency,
			IsDeposit:  event.IsDeposit,
			Status:     event.RawStatus,
		}
		if err := r.store.CreatePaymentRecord(ctx, record); err != nil {
			return fmt.Errorf("record source %s: %w", event.ExternalID, err)
		}
	} else {
		if record.Terminal() {
			// already charged on a previous delivery
			return nil
		}
		// the ledger must show the source as chargeable before money moves
		if err := r.store.UpdatePaymentStatus(ctx, event.ExternalID, event.RawStatus, "", event.OccurredAt); err != nil && !errors.Is(err, database.ErrStaleEvent) {
			return r.partialFailure(ctx, event, err)
		}
		record.Status = event.RawStatus
	}

	if r.charger == nil {
		return fmt.Errorf("no source charger configured for %s", event.ExternalID)
	}
	payment, err := r.charger.CreatePaymentFromSource(ctx, event.ExternalID, record.Amount, record.Currency, "Rental "+record.RentalID)
	if err != nil {
		metrics.IncProviderAPIError(record.Provider)
		return fmt.Errorf("charge source %s: %w", event.ExternalID, err)
	}

	charged := *event
	charged.Outcome = models.OutcomeSucceeded
	charged.RawStatus = payment.Status
	if charged.RawStatus == "" {
		charged.RawStatus = "paid"
	}
	if err := r.store.UpdatePaymentStatus(ctx, event.ExternalID, charged.RawStatus, "", charged.OccurredAt); err != nil && !errors.Is(err, database.ErrStaleEvent) {
		// money moved when the charge call returned
		return r.partialFailure(ctx, &charged, err)
	}
	return r.applySuccess(ctx, record, &charged)
}

func (r *Reconciler) applySuccess(ctx context.Context, record *models.PaymentRecord, event *models.PaymentEvent) error {
	rental, err := r.store.GetRental(ctx, record.RentalID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return r.unknownPayment(ctx, event)
		}
		return r.partialFailure(ctx, event, err)
	}

	if models.IsTerminalStatus(rental.Status) {
		// ledger already records the money; the booking stays dead
		r.alert(ctx, "payment for terminal rental",
			fmt.Sprintf("rental %s is %s but %s reported %s paid, manual refund may be needed",
				rental.ID, rental.Status, record.Provider, record.ExternalID))
		r.recordHistory(ctx, &models.HistoryEntry{
			RentalID:  rental.ID,
			EventType: models.HistoryStatusChanged,
			Status:    rental.Status,
			Notes:     fmt.Sprintf("payment %s succeeded after rental reached %s", record.ExternalID, rental.Status),
		})
		metrics.IncTransition("ignored_terminal", paymentKind(record.IsDeposit))
		return nil
	}

	if record.IsDeposit {
		if !rental.DepositPaid {
			if err := r.store.MarkDepositPaid(ctx, rental.ID, true); err != nil {
				return r.partialFailure(ctx, event, err)
			}
			r.recordHistory(ctx, &models.HistoryEntry{
				RentalID:  rental.ID,
				EventType: models.HistoryDepositPaid,
				Status:    rental.Status,
				Notes:     fmt.Sprintf("deposit of %.2f %s via %s", record.Amount, record.Currency, record.Provider),
			})
			r.publish(events.EventDepositPaid, record, rental)
		}
	} else {
		if rental.PaymentStatus != models.PaymentPaid {
			if err := r.store.MarkPaymentPaid(ctx, rental.ID, event.OccurredAt); err != nil {
				return r.partialFailure(ctx, event, err)
			}
		}
	}

	confirmed, err := r.store.ConfirmRental(ctx, rental.ID)
	if err != nil {
		return r.partialFailure(ctx, event, err)
	}
	if confirmed {
		r.recordHistory(ctx, &models.HistoryEntry{
			RentalID:  rental.ID,
			EventType: models.HistoryPaymentConfirmed,
			Status:    models.StatusConfirmed,
			Notes:     fmt.Sprintf("confirmed by %s %s", record.Provider, record.ExternalID),
		})
		r.publish(events.EventPaymentConfirmed, record, rental)
		metrics.IncTransition("confirmed", paymentKind(record.IsDeposit))
	}

	// idempotent: replays add zero days
	added, err := r.blocker.Block(ctx, rental, "rental:"+rental.ID)
	if err != nil {
		return r.partialFailure(ctx, event, err)
	}
	if added > 0 {
		r.recordHistory(ctx, &models.HistoryEntry{
			RentalID:  rental.ID,
			EventType: models.HistoryDatesBlocked,
			Status:    models.StatusConfirmed,
			Notes:     fmt.Sprintf("%d dates blocked for vehicle %d", added, rental.VehicleID),
		})
	}
	return nil
}

// applyFailure records the failed attempt. The rental status is never
// touched; a failed payment leaves the booking pending so the customer can
// try again.
func (r *Reconciler) applyFailure(ctx context.Context, record *models.PaymentRecord, event *models.PaymentEvent) error {
	rental, err := r.store.GetRental(ctx, record.RentalID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return r.unknownPayment(ctx, event)
		}
		return r.partialFailure(ctx, event, fmt.Errorf("lookup rental %s: %w", record.RentalID, err))
	}

	if record.IsDeposit {
		if err := r.store.MarkDepositPaid(ctx, rental.ID, false); err != nil {
			return r.partialFailure(ctx, event, fmt.Errorf("clear deposit flag for %s: %w", rental.ID, err))
		}
	} else {
		if err := r.store.MarkPaymentFailed(ctx, rental.ID); err != nil {
			return r.partialFailure(ctx, event, fmt.Errorf("mark payment failed for %s: %w", rental.ID, err))
		}
	}

	r.recordHistory(ctx, &models.HistoryEntry{
		RentalID:  rental.ID,
		EventType: models.HistoryPaymentFailed,
		Status:    rental.Status,
		Notes:     fmt.Sprintf("%s %s reported %s", record.Provider, record.ExternalID, event.RawStatus),
	})
	r.publish(events.EventPaymentFailed, record, rental)
	metrics.IncTransition("failed", paymentKind(record.IsDeposit))
	return nil
}

// partialFailure handles any store failure after the event was admitted.
// The event is queued for replay, an operator is paged, and the error
// propagates so the provider retries the delivery as well. The rental is
// never marked failed here.
func (r *Reconciler) partialFailure(ctx context.Context, event *models.PaymentEvent, cause error) error {
	metrics.IncPartialFailure()
	r.log.Error().Err(cause).
		Str("provider", event.Provider).
		Str("event_id", event.EventID).
		Str("external_id", event.ExternalID).
		Msg("partial failure, queueing replay")

	if r.tasks != nil {
		if qerr := r.tasks.EnqueueEventReplay(ctx, event); qerr != nil {
			r.log.Error().Err(qerr).Str("event_id", event.EventID).Msg("failed to queue event replay")
		}
	}
	r.alert(ctx, "partial reconciliation failure",
		fmt.Sprintf("event %s (%s %s): %v", event.EventID, event.Provider, event.ExternalID, cause))
	if r.bus != nil {
		_ = r.bus.PublishJSON(events.EventPartialFailure, events.RentalEventPayload{
			RentalID:   event.RentalID,
			Provider:   event.Provider,
			ExternalID: event.ExternalID,
			Detail:     cause.Error(),
			OccurredAt: time.Now(),
		})
	}
	return fmt.Errorf("%w: %v", ErrPartialFailure, cause)
}

func (r *Reconciler) unknownPayment(ctx context.Context, event *models.PaymentEvent) error {
	r.alert(ctx, "unknown payment reference",
		fmt.Sprintf("%s event %s references %s which has no ledger record", event.Provider, event.EventID, event.ExternalID))
	return fmt.Errorf("%w: %s %s", ErrUnknownPayment, event.Provider, event.ExternalID)
}

// recordHistory appends an audit entry. A failed append never fails the
// transition; it is handed to the retry worker instead.
func (r *Reconciler) recordHistory(ctx context.Context, entry *models.HistoryEntry) {
	if err := r.store.AppendHistory(ctx, entry); err != nil {
		r.log.Warn().Err(err).
			Str("rental_id", entry.RentalID).
			Str("event_type", entry.EventType).
			Msg("history append failed, queueing retry")
		if r.tasks != nil {
			if qerr := r.tasks.EnqueueHistory(ctx, entry); qerr != nil {
				r.log.Error().Err(qerr).Str("rental_id", entry.RentalID).Msg("failed to queue history retry")
			}
		}
	}
}

func (r *Reconciler) publish(eventType string, record *models.PaymentRecord, rental *models.Rental) {
	if r.bus == nil {
		return
	}
	_ = r.bus.PublishJSON(eventType, events.RentalEventPayload{
		RentalID:   rental.ID,
		VehicleID:  rental.VehicleID,
		Provider:   record.Provider,
		ExternalID: record.ExternalID,
		Status:     rental.Status,
		Amount:     record.Amount,
		IsDeposit:  record.IsDeposit,
		OccurredAt: time.Now(),
	})
}

func (r *Reconciler) alert(ctx context.Context, subject, detail string) {
	if r.notifier != nil {
		r.notifier.Alert(ctx, subject, detail)
	}
}

func paymentKind(isDeposit bool) string {
	if isDeposit {
		return "deposit"
	}
	return "full"
}
