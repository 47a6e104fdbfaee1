package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/events"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// AutoCanceller sweeps pending rentals whose payment never arrived. Runs on
// a cron schedule. A payment landing after the sweep updates only the ledger;
// the terminal-state guard keeps the cancelled rental down.
type AutoCanceller struct {
	store domain.Store
	bus   domain.EventPublisher
	after time.Duration
	log   zerolog.Logger
}

func NewAutoCanceller(store domain.Store, bus domain.EventPublisher, after time.Duration, logger *zerolog.Logger) *AutoCanceller {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "auto_cancel").Logger()
	}
	return &AutoCanceller{store: store, bus: bus, after: after, log: log}
}

// Sweep cancels every stale pending rental and returns how many were
// cancelled. Individual failures are logged and skipped so one bad row does
// not block the rest.
func (a *AutoCanceller) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-a.after)
	rentals, err := a.store.GetStalePendingRentals(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale rentals: %w", err)
	}

	cancelled := 0
	for _, rental := range rentals {
		done, err := a.store.AutoCancelRental(ctx, rental.ID)
		if err != nil {
			a.log.Error().Err(err).Str("rental_id", rental.ID).Msg("auto-cancel failed")
			continue
		}
		if !done {
			// a payment confirmed the rental after the listing
			a.log.Info().Str("rental_id", rental.ID).Msg("rental no longer pending, skipping auto-cancel")
			continue
		}
		cancelled++

		if err := a.store.AppendHistory(ctx, &models.HistoryEntry{
			RentalID:  rental.ID,
			EventType: models.HistoryAutoCancelled,
			Status:    models.StatusAutoCancelled,
			Notes:     fmt.Sprintf("no payment received within %s", a.after),
		}); err != nil {
			a.log.Warn().Err(err).Str("rental_id", rental.ID).Msg("failed to append auto-cancel history")
		}
		if a.bus != nil {
			_ = a.bus.PublishJSON(events.EventRentalAutoCancelled, events.RentalEventPayload{
				RentalID:   rental.ID,
				VehicleID:  rental.VehicleID,
				Status:     models.StatusAutoCancelled,
				OccurredAt: time.Now(),
			})
		}
	}

	if cancelled > 0 {
		a.log.Info().Int("cancelled", cancelled).Msg("auto-cancel sweep finished")
	}
	return cancelled, nil
}
