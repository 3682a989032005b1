package lease

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

func newTestLeaser(locks domain.LockManager) *Leaser {
	return New(locks, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLeaser_ExclusivePerSymbol(t *testing.T) {
	ctx := context.Background()
	l := newTestLeaser(NewLocalLocks())

	var innerErr, otherErr error
	err := l.Do(ctx, "ETH", func(ctx context.Context) error {
		innerErr = l.Do(ctx, "ETH", func(context.Context) error { return nil })
		otherErr = l.Do(ctx, "BTC", func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, domain.ErrLockHeld)
	assert.NoError(t, otherErr)

	ran := false
	require.NoError(t, l.Do(ctx, "ETH", func(context.Context) error { ran = true; return nil }))
	assert.True(t, ran, "lease is released after fn returns")
}

func TestLeaser_PropagatesFnError(t *testing.T) {
	boom := errors.New("boom")
	l := newTestLeaser(NewLocalLocks())
	assert.ErrorIs(t, l.Do(context.Background(), "ETH", func(context.Context) error { return boom }), boom)
}

func TestLocalLocks_ExpiredLockCanBeTaken(t *testing.T) {
	locks := NewLocalLocks()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locks.now = func() time.Time { return now }

	unlockA, err := locks.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	unlockB, err := locks.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	// The stale holder must not release the new holder's lock.
	unlockA()
	_, err = locks.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlockB()
	_, err = locks.Acquire(context.Background(), "k", time.Second)
	assert.NoError(t, err)
}
