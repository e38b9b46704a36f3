// Package store provides the shared lock/result key-value store used by the
// idempotency core, the gateway token cache, and the ledger reconciler.
//
// Every backend implements SetIfAbsent as a single atomic operation at the
// storage level (mutex-guarded map, SQL upsert, Redis SET NX). Callers must
// never emulate it with Get followed by Set.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidTTL is returned when a write is attempted with ttl <= 0.
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Store is the narrow key-value contract the core relies on. Implementations
// must be safe for concurrent use by many goroutines and processes.
type Store interface {
	// SetIfAbsent stores value under key with ttl only when key is absent (or
	// expired). It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the live value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set unconditionally stores value under key with ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value. It
	// reports whether a deletion happened.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
