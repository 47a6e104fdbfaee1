package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

func TestCreatePayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	rental := newTestRental("R1")
	require.NoError(t, db.CreateRental(ctx, rental))
	require.NoError(t, db.MarkDepositPaid(ctx, "R1", true))

	payout := &models.Payout{
		RentalID:    "R1",
		ShopID:      1,
		Amount:      300,
		Reason:      "no_show",
		ProcessedBy: "admin-1",
	}
	require.NoError(t, db.CreatePayout(ctx, payout))
	assert.NotEmpty(t, payout.ID)
	assert.Equal(t, models.PayoutPending, payout.Status)

	got, err := db.GetPayoutByRental(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, payout.ID, got.ID)
	assert.Equal(t, 300.0, got.Amount)
	assert.Nil(t, got.ProcessedAt)

	updated, err := db.GetRental(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, updated.DepositProcessed)
}

func TestCreatePayout_AlreadyProcessed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.CreateRental(ctx, newTestRental("R1")))
	require.NoError(t, db.CreatePayout(ctx, &models.Payout{RentalID: "R1", ShopID: 1, Amount: 300}))

	err := db.CreatePayout(ctx, &models.Payout{RentalID: "R1", ShopID: 1, Amount: 300})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	// the failed second attempt leaves a single payout row
	payouts, err := db.ListPayouts(ctx)
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestGetPayoutByRental_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetPayoutByRental(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
