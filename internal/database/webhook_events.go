package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// InsertWebhookEvent records one delivered provider event. A second delivery
// of the same (provider, event_id) hits the unique index and returns
// ErrDuplicateEvent; callers acknowledge duplicates with success.
func (db *DB) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	query := `INSERT INTO webhook_events (provider, event_id, event_type, payload, signature_valid, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Payload,
		event.SignatureValid,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	event.ID = id
	event.CreatedAt = now
	return nil
}

// MarkWebhookProcessed stamps the outcome of processing an admitted event.
func (db *DB) MarkWebhookProcessed(ctx context.Context, provider, eventID, processingErr string) error {
	query := `UPDATE webhook_events SET processed_at = ?, processing_error = ? WHERE provider = ? AND event_id = ?`
	_, err := db.ExecContext(ctx, query, time.Now(), processingErr, provider, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	return nil
}

// GetWebhookEvent loads one admitted event with its processing outcome.
func (db *DB) GetWebhookEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	query := `SELECT id, provider, event_id, event_type, payload, signature_valid,
                     processed_at, processing_error, created_at
              FROM webhook_events WHERE provider = ? AND event_id = ?`
	event := &models.WebhookEvent{}
	var processedAt sql.NullTime
	var processingErr sql.NullString
	err := db.QueryRowContext(ctx, query, provider, eventID).Scan(
		&event.ID,
		&event.Provider,
		&event.EventID,
		&event.EventType,
		&event.Payload,
		&event.SignatureValid,
		&processedAt,
		&processingErr,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	event.ProcessingErr = processingErr.String
	return event, nil
}

// HasProcessedEvent reports whether an event id was already admitted.
func (db *DB) HasProcessedEvent(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT COUNT(*) FROM webhook_events WHERE provider = ? AND event_id = ?`
	var count int
	if err := db.QueryRowContext(ctx, query, provider, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations as
	// "UNIQUE constraint failed: <table>.<column>".
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
