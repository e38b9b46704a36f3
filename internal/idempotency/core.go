// Package idempotency provides at-most-once execution for keyed operations
// across processes that share a store.Store.
//
// RunExclusive checks for a cached result, otherwise takes an exclusive lock
// marker, runs the operation, caches its successful result, and releases the
// lock. Callers that lose the race poll for the owner's result until their
// timeout and then receive ErrInFlight; they never run the operation
// themselves.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-payout-reconciler/internal/store"
)

const (
	lockPrefix   = "idem:lock:"
	resultPrefix = "idem:result:"
)

// Params bounds one RunExclusive call. Zero fields fall back to the Core
// defaults.
type Params struct {
	// LockTTL bounds how long a crashed or slow owner can hold the key.
	LockTTL time.Duration
	// ResultTTL bounds how long a successful result is replayed.
	ResultTTL time.Duration
	// Timeout bounds how long a non-owner waits for the owner's result.
	Timeout time.Duration
	// PollInterval is the fixed delay between result checks while waiting.
	PollInterval time.Duration
}

func (p Params) withDefaults(d Params) Params {
	if p.LockTTL <= 0 {
		p.LockTTL = d.LockTTL
	}
	if p.ResultTTL <= 0 {
		p.ResultTTL = d.ResultTTL
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	return p
}

// DefaultParams are used when neither the caller nor WithDefaults set a value.
var DefaultParams = Params{
	LockTTL:      30 * time.Second,
	ResultTTL:    24 * time.Hour,
	Timeout:      5 * time.Second,
	PollInterval: 100 * time.Millisecond,
}

// Result is the outcome of RunExclusive.
type Result struct {
	// Value is the serialized result produced by the owning execution.
	Value []byte
	// Replayed is true when Value came from the cache rather than from
	// running the operation in this call.
	Replayed bool
}

// Operation produces the serialized result to cache for replay.
type Operation func(ctx context.Context) ([]byte, error)

// Core implements RunExclusive over a shared store.
type Core struct {
	store    store.Store
	locker   *Locker
	clk      clock.Clock
	defaults Params
	log      zerolog.Logger
}

// Option configures a Core.
type Option func(*Core)

// WithClock injects the clock used by the wait loop.
func WithClock(clk clock.Clock) Option { return func(c *Core) { c.clk = clk } }

// WithDefaults overrides DefaultParams for calls that leave fields zero.
func WithDefaults(p Params) Option {
	return func(c *Core) { c.defaults = p.withDefaults(DefaultParams) }
}

// WithLogger sets the logger used for cleanup failures.
func WithLogger(l zerolog.Logger) Option { return func(c *Core) { c.log = l } }

// New builds a Core on top of s.
func New(s store.Store, opts ...Option) *Core {
	c := &Core{
		store:    s,
		locker:   NewLocker(s, lockPrefix),
		clk:      clock.New(),
		defaults: DefaultParams,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunExclusive executes op at most once per key while a result is cached.
//
// Failures of op are returned as-is and are not cached, so a later caller
// with the same key may try again. The lock marker is released on every exit
// path of the owner, including panics in op.
func (c *Core) RunExclusive(ctx context.Context, key string, p Params, op Operation) (res Result, err error) {
	if strings.TrimSpace(key) == "" {
		return Result{}, ErrEmptyKey
	}
	p = p.withDefaults(c.defaults)
	resultKey := resultPrefix + key

	defer func() { observeRun(res, err) }()

	if v, ok, err := c.cached(ctx, resultKey); err != nil || ok {
		return Result{Value: v, Replayed: ok}, err
	}

	lock, err := c.locker.Acquire(ctx, key, p.LockTTL)
	if errors.Is(err, ErrLockNotAcquired) {
		return c.await(ctx, key, resultKey, p)
	}
	if err != nil {
		return Result{}, err
	}

	keepLock := false
	defer func() {
		if keepLock {
			return
		}
		if rerr := lock.Release(ctx); rerr != nil {
			c.log.Warn().Err(rerr).Str("key", key).Msg("idempotency lock release failed")
		}
	}()

	// A previous owner may have published and released between our cache
	// check and the acquisition.
	if v, ok, err := c.cached(ctx, resultKey); err != nil || ok {
		return Result{Value: v, Replayed: ok}, err
	}

	val, err := op(ctx)
	if err != nil {
		return Result{}, err
	}

	if serr := c.store.Set(context.WithoutCancel(ctx), resultKey, string(val), p.ResultTTL); serr != nil {
		// The side effect happened but cannot be replayed. Leaving the lock
		// to expire makes duplicates wait and back off instead of re-running.
		keepLock = true
		c.log.Error().Err(serr).Str("key", key).Msg("idempotency result not cached; lock left to expire")
	}
	return Result{Value: val}, nil
}

// Replayable reports whether a result for key is cached and would be replayed.
func (c *Core) Replayable(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.cached(ctx, resultPrefix+key)
	return ok, err
}

// cached reads the result marker. ok is false when it is absent.
func (c *Core) cached(ctx context.Context, resultKey string) ([]byte, bool, error) {
	v, err := c.store.Get(ctx, resultKey)
	switch {
	case err == nil:
		return []byte(v), true, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("read idempotency result: %w", err)
	}
}

// await polls for the owner's result at a fixed interval until the deadline
// computed on entry. It returns early with ErrInFlight when the owner has
// released the lock without publishing a result (its operation failed).
func (c *Core) await(ctx context.Context, key, resultKey string, p Params) (Result, error) {
	deadline := c.clk.Now().Add(p.Timeout)
	for {
		if v, ok, err := c.cached(ctx, resultKey); err != nil || ok {
			return Result{Value: v, Replayed: ok}, err
		}

		held, err := c.locker.Held(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("read idempotency lock: %w", err)
		}
		if !held {
			if v, ok, err := c.cached(ctx, resultKey); err != nil || ok {
				return Result{Value: v, Replayed: ok}, err
			}
			return Result{}, fmt.Errorf("%w: %s", ErrInFlight, key)
		}

		remaining := deadline.Sub(c.clk.Now())
		if remaining <= 0 {
			return Result{}, fmt.Errorf("%w: %s", ErrInFlight, key)
		}
		wait := p.PollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-c.clk.After(wait):
		}
	}
}
