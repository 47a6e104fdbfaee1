package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// AppendHistory inserts one audit record. Insert-only; nothing in the engine
// updates or deletes booking_history rows.
func (db *DB) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	query := `INSERT INTO booking_history (id, rental_id, event_type, status, notes, actor_id, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.RentalID,
		entry.EventType,
		entry.Status,
		entry.Notes,
		nullString(entry.ActorID),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	entry.CreatedAt = now
	return nil
}

func (db *DB) GetHistory(ctx context.Context, rentalID string) ([]*models.HistoryEntry, error) {
	query := `SELECT id, rental_id, event_type, status, notes, COALESCE(actor_id, ''), created_at
              FROM booking_history WHERE rental_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.RentalID, &e.EventType, &e.Status, &e.Notes, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
