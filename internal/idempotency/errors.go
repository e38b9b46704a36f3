package idempotency

import "errors"

var (
	// ErrInFlight means another execution owns the key and did not publish a
	// result within the caller's wait budget. The caller should retry later;
	// it must not execute the operation itself.
	ErrInFlight = errors.New("operation in flight, retry later")

	// ErrLockNotAcquired is returned by Locker.Acquire when the key is held.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrEmptyKey is returned when a caller passes a blank key.
	ErrEmptyKey = errors.New("idempotency key is empty")
)
