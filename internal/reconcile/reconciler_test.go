package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
)

func setupTestStore(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetVehicles([]*models.Vehicle{
		{ID: 1, Name: "Honda Click 125i", ShopID: 1, IsActive: true},
	})
	db.SetShops([]*models.Shop{
		{ID: 1, Name: "Cloud 9 Rentals", OwnerName: "Marites", PayoutMethod: "gcash", PayoutAccount: "+639170000001"},
	})
	return db
}

// faultStore lets a test fail exactly one write path.
type faultStore struct {
	*database.DB
	confirmErr error
	blockErr   error
	depositErr error
	historyErr error
	updateErr  error
}

func (s *faultStore) UpdatePaymentStatus(ctx context.Context, externalID, status, captureID string, eventTS time.Time) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.DB.UpdatePaymentStatus(ctx, externalID, status, captureID, eventTS)
}

func (s *faultStore) ConfirmRental(ctx context.Context, rentalID string) (bool, error) {
	if s.confirmErr != nil {
		return false, s.confirmErr
	}
	return s.DB.ConfirmRental(ctx, rentalID)
}

func (s *faultStore) BlockDates(ctx context.Context, vehicleID int64, start, end time.Time, reason string) (int, error) {
	if s.blockErr != nil {
		return 0, s.blockErr
	}
	return s.DB.BlockDates(ctx, vehicleID, start, end, reason)
}

func (s *faultStore) MarkDepositPaid(ctx context.Context, rentalID string, paid bool) error {
	if s.depositErr != nil {
		return s.depositErr
	}
	return s.DB.MarkDepositPaid(ctx, rentalID, paid)
}

func (s *faultStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if s.historyErr != nil {
		return s.historyErr
	}
	return s.DB.AppendHistory(ctx, entry)
}

type fakeTasks struct {
	histories []*models.HistoryEntry
	replays   []*models.PaymentEvent
}

func (f *fakeTasks) EnqueueHistory(ctx context.Context, entry *models.HistoryEntry) error {
	f.histories = append(f.histories, entry)
	return nil
}

func (f *fakeTasks) EnqueueEventReplay(ctx context.Context, event *models.PaymentEvent) error {
	f.replays = append(f.replays, event)
	return nil
}

type fakeNotifier struct {
	subjects []string
}

func (f *fakeNotifier) Alert(ctx context.Context, subject, detail string) {
	f.subjects = append(f.subjects, subject)
}

type fakeCharger struct {
	calls  int
	status string
	err    error
}

func (f *fakeCharger) CreatePaymentFromSource(ctx context.Context, sourceID string, amount float64, currency, description string) (*provider.Intent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Intent{ID: "pay_" + sourceID, Status: f.status, Amount: amount, Currency: currency}, nil
}

type fixture struct {
	db         *database.DB
	store      *faultStore
	tasks      *fakeTasks
	notifier   *fakeNotifier
	charger    *fakeCharger
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestStore(t)
	logger := zerolog.Nop()
	store := &faultStore{DB: db}
	tasks := &fakeTasks{}
	notifier := &fakeNotifier{}
	charger := &fakeCharger{status: "paid"}
	blocker := NewBlocker(store, nil, &logger)
	return &fixture{
		db:         db,
		store:      store,
		tasks:      tasks,
		notifier:   notifier,
		charger:    charger,
		reconciler: NewReconciler(store, charger, blocker, nil, tasks, notifier, &logger),
	}
}

func (f *fixture) seedRental(t *testing.T, id string) *models.Rental {
	t.Helper()
	rental := &models.Rental{
		ID:              id,
		VehicleID:       1,
		ShopID:          1,
		UserID:          "user-1",
		StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		TotalPrice:      1500,
		DepositRequired: true,
		DepositAmount:   300,
	}
	require.NoError(t, f.db.CreateRental(context.Background(), rental))
	return rental
}

func (f *fixture) seedPayment(t *testing.T, rentalID, externalID string, isDeposit bool) *models.PaymentRecord {
	t.Helper()
	record := &models.PaymentRecord{
		Provider:   models.ProviderPayMongo,
		ExternalID: externalID,
		RentalID:   rentalID,
		Amount:     300,
		Currency:   "PHP",
		IsDeposit:  isDeposit,
		Status:     "awaiting_payment_method",
	}
	require.NoError(t, f.db.CreatePaymentRecord(context.Background(), record))
	return record
}

func successEvent(externalID string, ts time.Time) *models.PaymentEvent {
	return &models.PaymentEvent{
		Provider:   models.ProviderPayMongo,
		EventID:    "evt_" + externalID,
		ExternalID: externalID,
		Outcome:    models.OutcomeSucceeded,
		Amount:     300,
		Currency:   "PHP",
		RawStatus:  "paid",
		OccurredAt: ts,
	}
}

func TestApply_DepositSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", time.Now())))

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)

	dates, err := f.db.GetBlockedDates(ctx, 1, rental.StartDate, rental.EndDate)
	require.NoError(t, err)
	assert.Len(t, dates, 3)

	history, err := f.db.GetHistory(ctx, "R1")
	require.NoError(t, err)
	types := historyTypes(history)
	assert.Contains(t, types, models.HistoryDepositPaid)
	assert.Contains(t, types, models.HistoryPaymentConfirmed)
	assert.Contains(t, types, models.HistoryDatesBlocked)
}

func TestApply_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	ts := time.Now().Truncate(time.Second)
	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", ts)))
	before, err := f.db.GetHistory(ctx, "R1")
	require.NoError(t, err)

	// a replayed delivery converges without new side effects
	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", ts)))

	dates, err := f.db.GetBlockedDates(ctx, 1,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, dates, 3)

	after, err := f.db.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestApply_FullPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "ord_1", false)

	require.NoError(t, f.reconciler.Apply(ctx, successEvent("ord_1", time.Now())))

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.Equal(t, models.PaymentPaid, rental.PaymentStatus)
	assert.False(t, rental.DepositPaid)
}

func TestApply_FailedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	event := successEvent("pi_1", time.Now())
	event.Outcome = models.OutcomeFailed
	event.RawStatus = "failed"
	require.NoError(t, f.reconciler.Apply(ctx, event))

	// a failed payment leaves the booking pending for another attempt
	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rental.Status)
	assert.False(t, rental.DepositPaid)

	history, err := f.db.GetHistory(ctx, "R1")
	require.NoError(t, err)
	assert.Contains(t, historyTypes(history), models.HistoryPaymentFailed)
}

func TestApply_StaleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", now)))

	late := successEvent("pi_1", now.Add(-time.Hour))
	late.Outcome = models.OutcomeFailed
	late.RawStatus = "failed"
	err := f.reconciler.Apply(ctx, late)
	assert.ErrorIs(t, err, database.ErrStaleEvent)

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)
}

func TestApply_UnknownPayment(t *testing.T) {
	f := newFixture(t)

	err := f.reconciler.Apply(context.Background(), successEvent("pi_missing", time.Now()))
	assert.ErrorIs(t, err, ErrUnknownPayment)
	assert.Contains(t, f.notifier.subjects, "unknown payment reference")
}

func TestApply_TerminalRental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)
	require.NoError(t, f.db.UpdateRentalStatus(ctx, "R1", models.StatusCancelled))

	// money arrived after the booking died: ledger records it, booking stays down
	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", time.Now())))

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, rental.Status)
	assert.Contains(t, f.notifier.subjects, "payment for terminal rental")

	record, err := f.db.GetPaymentByExternalID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", record.Status)
}

func TestApply_PartialFailureThenReplayConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	f.store.blockErr = assert.AnError
	ts := time.Now().Truncate(time.Second)
	err := f.reconciler.Apply(ctx, successEvent("pi_1", ts))
	require.ErrorIs(t, err, ErrPartialFailure)
	require.Len(t, f.tasks.replays, 1)
	assert.Contains(t, f.notifier.subjects, "partial reconciliation failure")

	// the rental confirmed before the block failed
	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)

	// the queued replay finishes the job once the fault clears
	f.store.blockErr = nil
	require.NoError(t, f.reconciler.Apply(ctx, f.tasks.replays[0]))

	dates, err := f.db.GetBlockedDates(ctx, 1, rental.StartDate, rental.EndDate)
	require.NoError(t, err)
	assert.Len(t, dates, 3)
}

func TestApply_HistoryFailureQueuesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)

	f.store.historyErr = assert.AnError
	require.NoError(t, f.reconciler.Apply(ctx, successEvent("pi_1", time.Now())))

	// the transition survived; the audit entries went to the retry queue
	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.NotEmpty(t, f.tasks.histories)
}

func TestApply_LedgerWriteFailureQueuesReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1", true)
	f.store.updateErr = assert.AnError

	err := f.reconciler.Apply(ctx, successEvent("pi_1", time.Now()))
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.Len(t, f.tasks.replays, 1)
	assert.Contains(t, f.notifier.subjects, "partial reconciliation failure")

	// the queued replay converges once the store recovers
	f.store.updateErr = nil
	require.NoError(t, f.reconciler.Apply(ctx, f.tasks.replays[0]))

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)
}

func TestApply_Chargeable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")

	event := &models.PaymentEvent{
		Provider:   models.ProviderPayMongoSource,
		EventID:    "evt_src_1",
		ExternalID: "src_1",
		RentalID:   "R1",
		IsDeposit:  true,
		Outcome:    models.OutcomeChargeable,
		Amount:     300,
		Currency:   "PHP",
		RawStatus:  "chargeable",
		OccurredAt: time.Now(),
	}
	require.NoError(t, f.reconciler.Apply(ctx, event))
	assert.Equal(t, 1, f.charger.calls)

	record, err := f.db.GetPaymentByExternalID(ctx, "src_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", record.Status)

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)

	// a redelivered chargeable event never charges twice
	require.NoError(t, f.reconciler.Apply(ctx, event))
	assert.Equal(t, 1, f.charger.calls)
}

func TestApply_ChargeFailureLeavesLedgerChargeable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRental(t, "R1")
	require.NoError(t, f.db.CreatePaymentRecord(ctx, &models.PaymentRecord{
		Provider:   models.ProviderPayMongoSource,
		ExternalID: "src_1",
		RentalID:   "R1",
		Amount:     300,
		Currency:   "PHP",
		IsDeposit:  true,
		Status:     "pending",
	}))
	f.charger.err = assert.AnError

	event := &models.PaymentEvent{
		Provider:   models.ProviderPayMongoSource,
		EventID:    "evt_src_1",
		ExternalID: "src_1",
		RentalID:   "R1",
		IsDeposit:  true,
		Outcome:    models.OutcomeChargeable,
		Amount:     300,
		Currency:   "PHP",
		RawStatus:  "chargeable",
		OccurredAt: time.Now(),
	}
	require.Error(t, f.reconciler.Apply(ctx, event))

	// the ledger reflects the provider-side state even though no money moved
	record, err := f.db.GetPaymentByExternalID(ctx, "src_1")
	require.NoError(t, err)
	assert.Equal(t, "chargeable", record.Status)

	rental, err := f.db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rental.Status)
}

func TestApply_ChargeableWithoutRental(t *testing.T) {
	f := newFixture(t)

	event := &models.PaymentEvent{
		Provider:   models.ProviderPayMongoSource,
		EventID:    "evt_src_1",
		ExternalID: "src_1",
		Outcome:    models.OutcomeChargeable,
		Amount:     300,
		Currency:   "PHP",
		RawStatus:  "chargeable",
		OccurredAt: time.Now(),
	}
	err := f.reconciler.Apply(context.Background(), event)
	assert.ErrorIs(t, err, ErrUnknownPayment)
	assert.Zero(t, f.charger.calls)
}

func historyTypes(entries []*models.HistoryEntry) []string {
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	return types
}
