package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

func (db *DB) CreateRetryTask(ctx context.Context, task *models.RetryTask) error {
	query := `INSERT INTO retry_queue (task_type, rental_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.RentalID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetPendingRetryTasks(ctx context.Context, limit int) ([]models.RetryTask, error) {
	query := `SELECT id, task_type, COALESCE(rental_id, ''), payload, status, retry_count, COALESCE(last_error, ''), created_at, processed_at, next_retry_at
              FROM retry_queue
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending retry tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.RetryTask
	for rows.Next() {
		var t models.RetryTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.RentalID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateRetryTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch status {
	case "retry":
		query = `UPDATE retry_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case "completed", "failed":
		query = `UPDATE retry_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, &now, id}
	default:
		query = `UPDATE retry_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update retry task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedRetryTasks(ctx context.Context) ([]models.RetryTask, error) {
	query := `SELECT id, task_type, COALESCE(rental_id, ''), payload, status, retry_count, COALESCE(last_error, ''), created_at, processed_at, next_retry_at
              FROM retry_queue WHERE status = 'failed' ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed retry tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.RetryTask
	for rows.Next() {
		var t models.RetryTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.RentalID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
