package models

// Rental lifecycle statuses. The reconciliation engine only ever moves a
// rental forward; cancellation is a status, never a deletion.
const (
	StatusPending       = "pending"
	StatusConfirmed     = "confirmed"
	StatusCancelled     = "cancelled"
	StatusCompleted     = "completed"
	StatusRejected      = "rejected"
	StatusAutoCancelled = "auto-cancelled"
	StatusNoShow        = "no_show"
)

// Payment statuses on the rental itself.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// Payment providers.
const (
	ProviderPayMongo       = "paymongo"
	ProviderPayMongoSource = "paymongo_source"
	ProviderPayPal         = "paypal"
)

// Payout statuses.
const (
	PayoutPending   = "pending"
	PayoutCompleted = "completed"
	PayoutFailed    = "failed"
)

// History event types recorded in the audit trail.
const (
	HistoryPaymentConfirmed = "payment_confirmed"
	HistoryDepositPaid      = "deposit_paid"
	HistoryPaymentFailed    = "payment_failed"
	HistoryDatesBlocked     = "dates_blocked"
	HistoryPayoutCreated    = "payout_created"
	HistoryAutoCancelled    = "auto_cancelled"
	HistoryStatusChanged    = "status_changed"
)

const (
	// DefaultRedisTTL lifetime of a webhook dedup key in redis.
	DefaultRedisTTL = 24 * 60 * 60 // 24h in seconds

	// WorkerQueueSize size of the in-memory retry queue fallback.
	WorkerQueueSize = 1000

	// RateLimitRequests requests per window for ops API clients.
	RateLimitRequests = 20

	// RateLimitWindow window for the ops API rate limit, seconds.
	RateLimitWindow = 60
)

// IsTerminalStatus reports whether a rental may no longer be confirmed.
// A late success event must update the ledger but never resurrect one of these.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusAutoCancelled, StatusNoShow:
		return true
	}
	return false
}
