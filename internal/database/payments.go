package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

const paymentColumns = `id, provider, external_id, rental_id, amount, currency, is_deposit,
                 status, capture_id, metadata, provider_ts, created_at, updated_at`

// CreatePaymentRecord inserts one ledger row for a provider-side artifact.
// At most one non-terminal row may exist per (rental, is_deposit); retries
// after a terminal failure create a fresh row. The pre-check gives the
// common case a clean error; ux_payment_records_active backstops concurrent
// inserts that both pass it.
func (db *DB) CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) error {
	active, err := db.getActivePayment(ctx, record.RentalID, record.IsDeposit)
	if err != nil {
		return err
	}
	if active != nil {
		return ErrActivePaymentExists
	}

	metadata, err := flattenMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `INSERT INTO payment_records (
				provider, external_id, rental_id, amount, currency, is_deposit,
				status, capture_id, metadata, provider_ts, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		record.Provider,
		record.ExternalID,
		record.RentalID,
		record.Amount,
		record.Currency,
		record.IsDeposit,
		record.Status,
		nullString(record.CaptureID),
		metadata,
		nullTime(record.ProviderTS),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "payment_records.rental_id") {
			return ErrActivePaymentExists
		}
		return fmt.Errorf("failed to create payment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

func (db *DB) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE external_id = ?`
	record, err := scanPayment(db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	return record, nil
}

func (db *DB) GetPaymentsByRental(ctx context.Context, rentalID string) ([]*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE rental_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment records: %w", err)
	}
	defer rows.Close()

	var records []*models.PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (db *DB) ListPaymentRecords(ctx context.Context) ([]*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []*models.PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpdatePaymentStatus writes the provider status unconditionally when the
// event is newer than the stored one. Events older than provider_ts return
// ErrStaleEvent so out-of-order delivery cannot roll the ledger backwards.
func (db *DB) UpdatePaymentStatus(ctx context.Context, externalID, status, captureID string, eventTS time.Time) error {
	query := `UPDATE payment_records
              SET status = ?, capture_id = COALESCE(?, capture_id), provider_ts = ?, updated_at = ?
              WHERE external_id = ? AND (provider_ts IS NULL OR provider_ts <= ?)`
	result, err := db.ExecContext(ctx, query,
		status, nullString(captureID), eventTS, time.Now(), externalID, eventTS)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the row is missing or a newer event already landed.
		if _, err := db.GetPaymentByExternalID(ctx, externalID); err != nil {
			return err
		}
		return ErrStaleEvent
	}
	return nil
}

func (db *DB) getActivePayment(ctx context.Context, rentalID string, isDeposit bool) (*models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records
              WHERE rental_id = ? AND is_deposit = ?
              AND LOWER(status) NOT IN ('paid', 'succeeded', 'failed', 'cancelled', 'expired', 'completed', 'denied', 'declined')`
	record, err := scanPayment(db.QueryRowContext(ctx, query, rentalID, isDeposit))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active payment: %w", err)
	}
	return record, nil
}

func scanPayment(row rowScanner) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	var captureID, metadata sql.NullString
	var providerTS sql.NullTime
	err := row.Scan(
		&record.ID, &record.Provider, &record.ExternalID, &record.RentalID,
		&record.Amount, &record.Currency, &record.IsDeposit,
		&record.Status, &captureID, &metadata, &providerTS,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.CaptureID = captureID.String
	if providerTS.Valid {
		record.ProviderTS = providerTS.Time
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &record, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// flattenMetadata stores metadata as a JSON object of strings. Providers that
// only accept string key/value metadata round-trip through the same shape.
func flattenMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	for k, v := range metadata {
		if strings.TrimSpace(k) == "" {
			delete(metadata, k)
			continue
		}
		metadata[k] = strings.TrimSpace(v)
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
