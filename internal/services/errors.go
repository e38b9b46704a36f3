// Package services holds the reconciliation business logic: applying
// provider outcomes to the ledger, sweeping stale payouts, handling verified
// webhooks, and initiating withdrawals.
//
// This file centralizes service-level error values so that handlers can map
// them to HTTP status codes consistently.
package services

import "errors"

// Ledger consistency outcomes. These are reported inside ApplyResult rather
// than returned as failures.
var (
	// ErrTransactionNotFound means a provider event referenced no known
	// ledger record. The event may be orphaned or may have arrived before
	// the record was committed.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyTerminal means the referenced record has already settled and
	// the outcome conflicts with it.
	ErrAlreadyTerminal = errors.New("transaction already settled")
)

// Contention and input errors.
var (
	// ErrEventInFlight is returned when another worker holds the event lock.
	// The caller should retry later.
	ErrEventInFlight = errors.New("event is being processed elsewhere")

	// ErrEmptyEventID is returned when an outcome arrives without a provider id.
	ErrEmptyEventID = errors.New("external event id is empty")

	// ErrInvalidAmount is returned for non-positive withdrawal amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidWithdrawal is returned when required payout fields are missing.
	ErrInvalidWithdrawal = errors.New("withdrawal request is incomplete")
)
