package reconcile

import "errors"

var (
	// ErrUnknownPayment means an event referenced an intent/source/order the
	// ledger has no record of. The delivery is acked and an operator alerted;
	// retrying will not create the missing row.
	ErrUnknownPayment = errors.New("no ledger record for event")

	// ErrPartialFailure means the provider-side operation succeeded but a
	// local write failed. The rental must never look failed because of it;
	// a replay task is queued and the delivery is rejected so the provider
	// retries too.
	ErrPartialFailure = errors.New("provider succeeded but local write failed")

	// ErrPrecondition is returned by guarded operations (deposit intents,
	// payouts) when the first violated precondition is found.
	ErrPrecondition = errors.New("precondition violation")
)
