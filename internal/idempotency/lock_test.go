package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-payout-reconciler/internal/store"
)

func TestLocker_AcquireRelease(t *testing.T) {
	l := NewLocker(store.NewMemory(nil), "t:")
	ctx := context.Background()

	lk, err := l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "t:a", lk.Key())

	_, err = l.Acquire(ctx, "a", time.Minute)
	require.ErrorIs(t, err, ErrLockNotAcquired)

	held, err := l.Held(ctx, "a")
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, lk.Release(ctx))
	require.NoError(t, lk.Release(ctx), "double release is a no-op")

	held, err = l.Held(ctx, "a")
	require.NoError(t, err)
	require.False(t, held)
}

func TestLocker_StaleOwnerCannotReleaseSuccessor(t *testing.T) {
	clk := clock.NewMock()
	l := NewLocker(store.NewMemory(clk), "")
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	clk.Add(2 * time.Second)

	fresh, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	held, err := l.Held(ctx, "job")
	require.NoError(t, err)
	require.True(t, held, "successor's lock must survive the stale release")

	require.NoError(t, fresh.Release(ctx))
}

func TestLocker_ReleaseAfterCancelledContext(t *testing.T) {
	l := NewLocker(store.NewMemory(nil), "")
	ctx, cancel := context.WithCancel(context.Background())
	lk, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	cancel()

	require.NoError(t, lk.Release(ctx))
	held, err := l.Held(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, held)
}
