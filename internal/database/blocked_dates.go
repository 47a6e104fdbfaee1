package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// BlockDates marks every calendar day in [start, end] unavailable for the
// vehicle. Already-blocked days are skipped, never duplicated; an empty delta
// is a successful no-op. Returns the number of newly blocked days.
func (db *DB) BlockDates(ctx context.Context, vehicleID int64, start, end time.Time, reason string) (int, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if start.After(end) {
		return 0, ErrInvalidDateRange
	}
	if db.GetVehicle(vehicleID) == nil {
		return 0, ErrUnknownVehicle
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// INSERT OR IGNORE rides on the unique (vehicle_id, date) index, so a
	// concurrent blocker for the same range is harmless.
	query := `INSERT OR IGNORE INTO blocked_dates (vehicle_id, date, reason, created_at) VALUES (?, ?, ?, ?)`
	now := time.Now()
	blocked := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		result, err := tx.ExecContext(ctx, query, vehicleID, day.Format("2006-01-02"), reason, now)
		if err != nil {
			return 0, fmt.Errorf("failed to block date %s: %w", day.Format("2006-01-02"), err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		blocked += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit blocked dates: %w", err)
	}
	return blocked, nil
}

// GetBlockedDates returns the blocked days of a vehicle within [start, end].
func (db *DB) GetBlockedDates(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.BlockedDate, error) {
	query := `SELECT id, vehicle_id, date(date), reason, created_at FROM blocked_dates
              WHERE vehicle_id = ? AND date(date) >= ? AND date(date) <= ? ORDER BY date ASC`
	rows, err := db.QueryContext(ctx, query, vehicleID,
		truncateDay(start).Format("2006-01-02"), truncateDay(end).Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get blocked dates: %w", err)
	}
	defer rows.Close()

	var dates []*models.BlockedDate
	for rows.Next() {
		d := &models.BlockedDate{}
		var dateStr string
		if err := rows.Scan(&d.ID, &d.VehicleID, &dateStr, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocked date: %w", err)
		}
		if d.Date, err = time.Parse("2006-01-02", dateStr); err != nil {
			return nil, fmt.Errorf("failed to parse blocked date %s: %w", dateStr, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
