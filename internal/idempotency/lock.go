package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-payout-reconciler/internal/store"
)

// releaseTimeout bounds the cleanup round trip performed after the caller's
// context may already be cancelled.
const releaseTimeout = 5 * time.Second

// Locker hands out exclusive, TTL-bounded locks on top of a shared Store.
// Each lock carries a random owner token so only its holder can release it.
type Locker struct {
	store  store.Store
	prefix string
}

// NewLocker builds a Locker whose keys are namespaced with prefix.
func NewLocker(s store.Store, prefix string) *Locker {
	return &Locker{store: s, prefix: prefix}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	store    store.Store
	key      string
	token    string
	released atomic.Bool
}

// Acquire takes the lock for key in a single SetIfAbsent round trip. It
// returns ErrLockNotAcquired when another owner holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.store.SetIfAbsent(ctx, full, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", full, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{store: l.store, key: full, token: token}, nil
}

// Held reports whether key is currently locked by anyone.
func (l *Locker) Held(ctx context.Context, key string) (bool, error) {
	_, err := l.store.Get(ctx, l.prefix+key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Key returns the namespaced store key backing the lock.
func (lk *Lock) Key() string { return lk.key }

// Release drops the lock if this holder still owns it. It runs detached from
// ctx cancellation so cleanup happens even when the request was aborted.
func (lk *Lock) Release(ctx context.Context) error {
	if !lk.released.CompareAndSwap(false, true) {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := lk.store.CompareAndDelete(rctx, lk.key, lk.token); err != nil {
		return fmt.Errorf("release lock %q: %w", lk.key, err)
	}
	return nil
}
