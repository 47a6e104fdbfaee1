package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

const rentalColumns = `id, vehicle_id, shop_id, user_id, start_date, end_date, total_price,
                 deposit_required, deposit_amount, deposit_paid, deposit_processed,
                 payment_status, status, payment_date, created_at, updated_at`

func (db *DB) CreateRental(ctx context.Context, rental *models.Rental) error {
	query := `INSERT INTO rentals (
				id, vehicle_id, shop_id, user_id, start_date, end_date, total_price,
				deposit_required, deposit_amount, payment_status, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if rental.Status == "" {
		rental.Status = models.StatusPending
	}
	if rental.PaymentStatus == "" {
		rental.PaymentStatus = models.PaymentPending
	}
	_, err := db.ExecContext(ctx, query,
		rental.ID,
		rental.VehicleID,
		rental.ShopID,
		nullString(rental.UserID),
		rental.StartDate.Format("2006-01-02"),
		rental.EndDate.Format("2006-01-02"),
		rental.TotalPrice,
		rental.DepositRequired,
		rental.DepositAmount,
		rental.PaymentStatus,
		rental.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create rental: %w", err)
	}
	rental.CreatedAt = now
	rental.UpdatedAt = now
	return nil
}

func (db *DB) GetRental(ctx context.Context, id string) (*models.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = ?`
	rental, err := scanRental(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get rental: %w", err)
	}
	return rental, nil
}

// MarkDepositPaid flips the deposit flag and confirms the rental unless it is
// already in a terminal state. The status change is guarded in SQL so two
// racing deliveries cannot both observe pending.
func (db *DB) MarkDepositPaid(ctx context.Context, rentalID string, paid bool) error {
	query := `UPDATE rentals SET deposit_paid = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, paid, time.Now(), rentalID)
	if err != nil {
		return fmt.Errorf("failed to update deposit flag: %w", err)
	}
	return requireRow(result)
}

// MarkPaymentPaid sets payment_status=paid and stamps the payment date.
func (db *DB) MarkPaymentPaid(ctx context.Context, rentalID string, paidAt time.Time) error {
	query := `UPDATE rentals SET payment_status = ?, payment_date = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, models.PaymentPaid, paidAt, time.Now(), rentalID)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}
	return requireRow(result)
}

// MarkPaymentFailed sets payment_status=failed. Rental status is untouched;
// failure alone never cancels a booking.
func (db *DB) MarkPaymentFailed(ctx context.Context, rentalID string) error {
	query := `UPDATE rentals SET payment_status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, models.PaymentFailed, time.Now(), rentalID)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return requireRow(result)
}

// ConfirmRental moves a rental to confirmed only when its current status is
// non-terminal. Returns the number of rows changed: 0 means the rental was
// already terminal (or confirmed) and the caller must not treat that as an
// error.
func (db *DB) ConfirmRental(ctx context.Context, rentalID string) (bool, error) {
	query := `UPDATE rentals SET status = ?, updated_at = ?
              WHERE id = ? AND status NOT IN (?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		models.StatusConfirmed, time.Now(), rentalID,
		models.StatusConfirmed, models.StatusCompleted, models.StatusCancelled,
		models.StatusRejected, models.StatusAutoCancelled, models.StatusNoShow,
	)
	if err != nil {
		return false, fmt.Errorf("failed to confirm rental: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (db *DB) UpdateRentalStatus(ctx context.Context, rentalID, status string) error {
	query := `UPDATE rentals SET status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), rentalID)
	if err != nil {
		return fmt.Errorf("failed to update rental status: %w", err)
	}
	return requireRow(result)
}

// AutoCancelRental moves a rental to auto-cancelled only while it is still
// pending. Returns false when a payment confirmed the rental between the
// sweep's listing and this update.
func (db *DB) AutoCancelRental(ctx context.Context, rentalID string) (bool, error) {
	query := `UPDATE rentals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query,
		models.StatusAutoCancelled, time.Now(), rentalID, models.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to auto-cancel rental: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkDepositProcessed is performed inside the payout transaction; see
// payouts.go.

// GetStalePendingRentals returns pending, unpaid rentals created before the
// cutoff. Used by the auto-cancel sweep.
func (db *DB) GetStalePendingRentals(ctx context.Context, cutoff time.Time) ([]*models.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals
              WHERE status = ? AND payment_status = ? AND deposit_paid = 0 AND created_at < ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, models.PaymentPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale rentals: %w", err)
	}
	defer rows.Close()

	var rentals []*models.Rental
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rental: %w", err)
		}
		rentals = append(rentals, rental)
	}
	return rentals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRental(row rowScanner) (*models.Rental, error) {
	var rental models.Rental
	var userID sql.NullString
	var paymentDate sql.NullTime
	var startStr, endStr string
	err := row.Scan(
		&rental.ID, &rental.VehicleID, &rental.ShopID, &userID,
		&startStr, &endStr, &rental.TotalPrice,
		&rental.DepositRequired, &rental.DepositAmount, &rental.DepositPaid, &rental.DepositProcessed,
		&rental.PaymentStatus, &rental.Status, &paymentDate, &rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rental.UserID = userID.String
	if paymentDate.Valid {
		rental.PaymentDate = &paymentDate.Time
	}
	if rental.StartDate, err = parseDay(startStr); err != nil {
		return nil, fmt.Errorf("failed to parse start date %s: %w", startStr, err)
	}
	if rental.EndDate, err = parseDay(endStr); err != nil {
		return nil, fmt.Errorf("failed to parse end date %s: %w", endStr, err)
	}
	return &rental, nil
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05Z07:00", raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
