package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// CreatePayout inserts the payout row and flips deposit_processed on the
// rental in one transaction, so a second payout attempt for the same deposit
// observes the flag and fails. The unique index on rental_id is the backstop
// against two admins racing.
func (db *DB) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if payout.ID == "" {
		payout.ID = uuid.New().String()
	}
	if payout.Status == "" {
		payout.Status = models.PayoutPending
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Flip deposit_processed only if it is still unset.
	markQuery := `UPDATE rentals SET deposit_processed = 1, updated_at = ? WHERE id = ? AND deposit_processed = 0`
	result, err := tx.ExecContext(ctx, markQuery, time.Now(), payout.RentalID)
	if err != nil {
		return fmt.Errorf("failed to mark deposit processed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAlreadyProcessed
	}

	now := time.Now()
	insertQuery := `INSERT INTO payouts (id, rental_id, shop_id, amount, status, reason, processed_by, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertQuery,
		payout.ID,
		payout.RentalID,
		payout.ShopID,
		payout.Amount,
		payout.Status,
		payout.Reason,
		payout.ProcessedBy,
		now,
	); err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout: %w", err)
	}
	payout.CreatedAt = now
	return nil
}

func (db *DB) GetPayoutByRental(ctx context.Context, rentalID string) (*models.Payout, error) {
	query := `SELECT id, rental_id, shop_id, amount, status, COALESCE(reason, ''), COALESCE(processed_by, ''), created_at, processed_at
              FROM payouts WHERE rental_id = ?`
	payout, err := scanPayout(db.QueryRowContext(ctx, query, rentalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return payout, nil
}

func (db *DB) ListPayouts(ctx context.Context) ([]*models.Payout, error) {
	query := `SELECT id, rental_id, shop_id, amount, status, COALESCE(reason, ''), COALESCE(processed_by, ''), created_at, processed_at
              FROM payouts ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

func scanPayout(row rowScanner) (*models.Payout, error) {
	var payout models.Payout
	var processedAt sql.NullTime
	err := row.Scan(
		&payout.ID, &payout.RentalID, &payout.ShopID, &payout.Amount,
		&payout.Status, &payout.Reason, &payout.ProcessedBy,
		&payout.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		payout.ProcessedAt = &processedAt.Time
	}
	return &payout, nil
}
