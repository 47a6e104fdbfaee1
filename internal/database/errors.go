package database

import "errors"

var (
	// ErrRecordNotFound means an event referenced a payment or rental that was
	// never created locally. Acknowledged to providers, alerting-worthy here.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateEvent means the provider event id was already admitted.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrStaleEvent means the event is older than the state already recorded.
	ErrStaleEvent = errors.New("stale event")

	// ErrInvalidDateRange means start date is after end date.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrAlreadyProcessed means a payout was already created for the deposit.
	ErrAlreadyProcessed = errors.New("deposit already processed")

	// ErrActivePaymentExists means a non-terminal ledger row already covers
	// this rental and deposit flag.
	ErrActivePaymentExists = errors.New("active payment record already exists")

	// ErrUnknownVehicle means the vehicle id is not in the catalog.
	ErrUnknownVehicle = errors.New("unknown vehicle")
)
