package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/events"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// Blocker takes a confirmed rental's date range out of inventory. Blocking is
// a set-difference insert, so calling it again for the same rental adds
// nothing.
type Blocker struct {
	store domain.Store
	bus   domain.EventPublisher
	log   zerolog.Logger
}

func NewBlocker(store domain.Store, bus domain.EventPublisher, logger *zerolog.Logger) *Blocker {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "inventory_blocker").Logger()
	}
	return &Blocker{store: store, bus: bus, log: log}
}

// Block blocks every day of the rental's range inclusive and returns how many
// days were newly blocked.
func (b *Blocker) Block(ctx context.Context, rental *models.Rental, reason string) (int, error) {
	added, err := b.store.BlockDates(ctx, rental.VehicleID, rental.StartDate, rental.EndDate, reason)
	if err != nil {
		return 0, err
	}
	if added == 0 {
		return 0, nil
	}

	metrics.AddBlockedDates(added)
	b.log.Info().
		Str("rental_id", rental.ID).
		Int64("vehicle_id", rental.VehicleID).
		Int("days", added).
		Msg("blocked rental dates")

	if b.bus != nil {
		_ = b.bus.PublishJSON(events.EventDatesBlocked, events.RentalEventPayload{
			RentalID:     rental.ID,
			VehicleID:    rental.VehicleID,
			BlockedCount: added,
			OccurredAt:   time.Now(),
		})
	}
	return added, nil
}
