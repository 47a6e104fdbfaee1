package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockDates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	added, err := db.BlockDates(ctx, 1, start, end, "rental confirmed")
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	dates, err := db.GetBlockedDates(ctx, 1, start, end)
	require.NoError(t, err)
	require.Len(t, dates, 3)
	assert.Equal(t, "2024-06-01", dates[0].Date.Format("2006-01-02"))
	assert.Equal(t, "rental confirmed", dates[0].Reason)
}

func TestBlockDates_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	added, err := db.BlockDates(ctx, 1, start, end, "rental confirmed")
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	// replaying the same range never duplicates days
	added, err = db.BlockDates(ctx, 1, start, end, "rental confirmed")
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	// an overlapping range only adds the new tail
	added, err = db.BlockDates(ctx, 1, start, end.AddDate(0, 0, 2), "extension")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
}

func TestBlockDates_SeparateVehicles(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	added, err := db.BlockDates(ctx, 1, day, day, "rental confirmed")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = db.BlockDates(ctx, 2, day, day, "rental confirmed")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestBlockDates_InvalidRange(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.BlockDates(context.Background(), 1, start, end, "bad")
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestBlockDates_UnknownVehicle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.BlockDates(context.Background(), 999, day, day, "bad")
	assert.ErrorIs(t, err, ErrUnknownVehicle)
}
