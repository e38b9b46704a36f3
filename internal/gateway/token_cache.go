package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-payout-reconciler/internal/idempotency"
	"github.com/tbourn/go-payout-reconciler/internal/store"
)

const (
	accessTokenKey  = "gateway:access_token"
	refreshTokenKey = "gateway:refresh_token"
	refreshLockKey  = "gateway:token_refresh_lock"
)

// Authenticator performs the two auth grants. *Client implements it.
type Authenticator interface {
	PasswordGrant(ctx context.Context) (*TokenResponse, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// TokenCacheConfig tunes token lifetimes and contention behavior.
type TokenCacheConfig struct {
	// Margin is subtracted from the provider's expires_in.
	Margin time.Duration
	// Floor is the access-token TTL used when expires_in <= Margin.
	Floor time.Duration
	// RefreshTTL is how long a refresh token is kept.
	RefreshTTL time.Duration
	// LockTTL bounds a crashed refresher's hold on the refresh lock.
	LockTTL time.Duration
	// RetryWait is the pause before retrying when the lock is held.
	RetryWait time.Duration
	// MaxAttempts caps lock retries; afterwards ErrTokenBusy is returned.
	MaxAttempts int
	// FetchTimeout bounds a coalesced fetch, which outlives any single
	// caller's context.
	FetchTimeout time.Duration
}

func (c TokenCacheConfig) withDefaults() TokenCacheConfig {
	if c.Margin <= 0 {
		c.Margin = 60 * time.Second
	}
	if c.Floor <= 0 {
		c.Floor = 30 * time.Second
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 72 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 250 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// TokenCache caches the provider's access and refresh tokens in the shared
// store. At most one refresh or login runs across all workers at a time:
// same-process callers are coalesced by singleflight and processes are
// serialized by a distributed refresh lock.
type TokenCache struct {
	store  store.Store
	locker *idempotency.Locker
	auth   Authenticator
	clk    clock.Clock
	cfg    TokenCacheConfig
	log    zerolog.Logger
	group  singleflight.Group
}

// NewTokenCache builds a TokenCache. A nil clock means wall time.
func NewTokenCache(s store.Store, auth Authenticator, cfg TokenCacheConfig, clk clock.Clock) *TokenCache {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenCache{
		store:  s,
		locker: idempotency.NewLocker(s, ""),
		auth:   auth,
		clk:    clk,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "token_cache").Logger(),
	}
}

// GetAccessToken returns a valid bearer token, refreshing it when the cache
// is empty. A caller whose ctx ends stops waiting; the shared fetch keeps
// running for the others.
func (t *TokenCache) GetAccessToken(ctx context.Context) (string, error) {
	ch := t.group.DoChan(accessTokenKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.FetchTimeout)
		defer cancel()
		return t.getAccessToken(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached access token so the next call fetches a new
// one. The refresh token is kept.
func (t *TokenCache) Invalidate(ctx context.Context) error {
	return t.store.Delete(ctx, accessTokenKey)
}

func (t *TokenCache) getAccessToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		tok, ok, err := t.cachedAccess(ctx)
		if err != nil || ok {
			return tok, err
		}

		lock, err := t.locker.Acquire(ctx, refreshLockKey, t.cfg.LockTTL)
		if errors.Is(err, idempotency.ErrLockNotAcquired) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-t.clk.After(t.cfg.RetryWait):
			}
			continue
		}
		if err != nil {
			return "", err
		}

		tok, err = t.refill(ctx)
		if rerr := lock.Release(ctx); rerr != nil {
			t.log.Warn().Err(rerr).Msg("refresh lock release failed")
		}
		return tok, err
	}
	return "", ErrTokenBusy
}

func (t *TokenCache) cachedAccess(ctx context.Context) (string, bool, error) {
	tok, err := t.store.Get(ctx, accessTokenKey)
	switch {
	case err == nil && tok != "":
		return tok, true, nil
	case err == nil, errors.Is(err, store.ErrNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("read access token: %w", err)
	}
}

// refill runs with the refresh lock held.
func (t *TokenCache) refill(ctx context.Context) (string, error) {
	// Another worker may have refilled while we waited for the lock.
	if tok, ok, err := t.cachedAccess(ctx); err != nil || ok {
		return tok, err
	}

	var resp *TokenResponse
	if rt, err := t.store.Get(ctx, refreshTokenKey); err == nil && strings.TrimSpace(rt) != "" {
		resp, err = t.auth.RefreshGrant(ctx, rt)
		observeGrant("refresh_token", err)
		if err != nil {
			t.log.Warn().Err(err).Msg("refresh grant failed; falling back to password grant")
			resp = nil
		}
	}

	if resp == nil {
		var err error
		resp, err = t.auth.PasswordGrant(ctx)
		observeGrant("password", err)
		if err != nil {
			t.log.Error().Err(err).Msg("password grant failed")
			return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
	}
	if resp == nil || strings.TrimSpace(resp.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthenticationFailed)
	}

	if err := t.store.Set(ctx, accessTokenKey, resp.AccessToken, t.accessTTL(resp.ExpiresIn)); err != nil {
		return "", fmt.Errorf("cache access token: %w", err)
	}
	if resp.RefreshToken != "" {
		if err := t.store.Set(ctx, refreshTokenKey, resp.RefreshToken, t.cfg.RefreshTTL); err != nil {
			// The access token is usable; the next refill just logs in again.
			t.log.Warn().Err(err).Msg("cache refresh token failed")
		}
	}
	return resp.AccessToken, nil
}

// accessTTL derives the cache lifetime from the declared expiry.
func (t *TokenCache) accessTTL(expiresIn int) time.Duration {
	declared := time.Duration(expiresIn) * time.Second
	if declared <= t.cfg.Margin {
		return t.cfg.Floor
	}
	return declared - t.cfg.Margin
}
