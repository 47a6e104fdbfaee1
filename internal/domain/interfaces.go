package domain

import (
	"context"
	"time"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// Store is the persistence surface the reconciliation engine runs against.
// *database.DB satisfies it; tests substitute fault-injecting wrappers.
type Store interface {
	CreateRental(ctx context.Context, rental *models.Rental) error
	GetRental(ctx context.Context, id string) (*models.Rental, error)
	MarkDepositPaid(ctx context.Context, rentalID string, paid bool) error
	MarkPaymentPaid(ctx context.Context, rentalID string, paidAt time.Time) error
	MarkPaymentFailed(ctx context.Context, rentalID string) error
	ConfirmRental(ctx context.Context, rentalID string) (bool, error)
	AutoCancelRental(ctx context.Context, rentalID string) (bool, error)
	GetStalePendingRentals(ctx context.Context, cutoff time.Time) ([]*models.Rental, error)

	CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) error
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error)
	GetPaymentsByRental(ctx context.Context, rentalID string) ([]*models.PaymentRecord, error)
	ListPaymentRecords(ctx context.Context) ([]*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, externalID, status, captureID string, eventTS time.Time) error

	BlockDates(ctx context.Context, vehicleID int64, start, end time.Time, reason string) (int, error)
	GetBlockedDates(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.BlockedDate, error)

	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistory(ctx context.Context, rentalID string) ([]*models.HistoryEntry, error)

	CreatePayout(ctx context.Context, payout *models.Payout) error
	GetPayoutByRental(ctx context.Context, rentalID string) (*models.Payout, error)
	ListPayouts(ctx context.Context) ([]*models.Payout, error)

	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, provider, eventID, processingError string) error
	HasProcessedEvent(ctx context.Context, provider, eventID string) (bool, error)
	GetWebhookEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error)

	CreateRetryTask(ctx context.Context, task *models.RetryTask) error
	GetPendingRetryTasks(ctx context.Context, limit int) ([]models.RetryTask, error)
	UpdateRetryTaskStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error
	GetFailedRetryTasks(ctx context.Context) ([]models.RetryTask, error)

	GetVehicle(id int64) *models.Vehicle
	GetShop(id int64) *models.Shop
}

// TaskEnqueuer hands work that must survive a failed webhook delivery to the
// retry worker.
type TaskEnqueuer interface {
	EnqueueHistory(ctx context.Context, entry *models.HistoryEntry) error
	EnqueueEventReplay(ctx context.Context, event *models.PaymentEvent) error
}

// Notifier delivers operator alerts. Implementations must be safe to call
// with a nil receiver so wiring stays optional.
type Notifier interface {
	Alert(ctx context.Context, subject, detail string)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
