package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/events"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// PayoutManager creates deposit payout obligations for no-show or cancelled
// rentals. Preconditions are checked in a fixed order and the first violation
// is reported; the already-processed check is enforced again inside the
// payout transaction so two admins cannot double-pay.
type PayoutManager struct {
	store domain.Store
	bus   domain.EventPublisher
	log   zerolog.Logger
}

func NewPayoutManager(store domain.Store, bus domain.EventPublisher, logger *zerolog.Logger) *PayoutManager {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "payout_manager").Logger()
	}
	return &PayoutManager{store: store, bus: bus, log: log}
}

// Initiate validates the payout preconditions in order and records the
// payout. The returned error wraps ErrPrecondition for any business rule
// violation.
func (m *PayoutManager) Initiate(ctx context.Context, rentalID, reason, actorID string) (*models.Payout, error) {
	rental, err := m.store.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}

	if !rental.DepositRequired || !rental.DepositPaid {
		return nil, fmt.Errorf("%w: rental %s has no collected deposit", ErrPrecondition, rentalID)
	}
	if rental.Status != models.StatusNoShow && rental.Status != models.StatusCancelled {
		return nil, fmt.Errorf("%w: rental %s status %q is not eligible for payout", ErrPrecondition, rentalID, rental.Status)
	}
	shop := m.store.GetShop(rental.ShopID)
	if shop == nil || shop.PayoutAccount == "" {
		return nil, fmt.Errorf("%w: shop %d has no payout details on file", ErrPrecondition, rental.ShopID)
	}

	payout := &models.Payout{
		ID:          uuid.NewString(),
		RentalID:    rentalID,
		ShopID:      rental.ShopID,
		Amount:      rental.DepositAmount,
		Status:      models.PayoutPending,
		Reason:      reason,
		ProcessedBy: actorID,
	}
	// deposit_processed is flipped inside this transaction; a second call
	// comes back as ErrAlreadyProcessed
	if err := m.store.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	metrics.IncPayout()
	m.log.Info().
		Str("rental_id", rentalID).
		Str("payout_id", payout.ID).
		Float64("amount", payout.Amount).
		Str("actor", actorID).
		Msg("payout created")

	if err := m.store.AppendHistory(ctx, &models.HistoryEntry{
		RentalID:  rentalID,
		EventType: models.HistoryPayoutCreated,
		Status:    rental.Status,
		Notes:     fmt.Sprintf("payout %s of %.2f to shop %d (%s)", payout.ID, payout.Amount, rental.ShopID, reason),
		ActorID:   actorID,
	}); err != nil {
		m.log.Warn().Err(err).Str("rental_id", rentalID).Msg("failed to append payout history")
	}

	if m.bus != nil {
		_ = m.bus.PublishJSON(events.EventPayoutCreated, events.RentalEventPayload{
			RentalID:   rentalID,
			Amount:     payout.Amount,
			Detail:     reason,
			OccurredAt: time.Now(),
		})
	}
	return payout, nil
}
