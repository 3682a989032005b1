package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

type countingLimiter struct {
	allowed int
	err     error
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.allowed <= 0 {
		return false, nil
	}
	l.allowed--
	return true, nil
}

type echoPlacer struct{ calls int }

func (p *echoPlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	p.calls++
	return domain.Fill{FilledSize: req.Size, AvgPrice: req.LimitPrice}, nil
}

func TestThrottled(t *testing.T) {
	next := &echoPlacer{}
	th := NewThrottled(next, &countingLimiter{allowed: 1}, "orders", 1, time.Second)
	req := domain.OrderRequest{Symbol: "ETH", Size: 1, LimitPrice: 10}

	fill, err := th.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fill.FilledSize)

	_, err = th.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrTransientVenue)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, next.calls)

	_, err = NewThrottled(next, &countingLimiter{err: errors.New("redis down")}, "orders", 1, time.Second).
		PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrTransientVenue)

	_, found, err := th.LookupFill(context.Background(), "x")
	assert.NoError(t, err)
	assert.False(t, found)
}
