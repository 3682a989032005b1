package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

func TestPositionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()

	_, err := s.Get(ctx, "ETH")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos := domain.Position{Symbol: "ETH", SpotSize: 1, PerpSize: 1, EntryPrice: 2000, State: domain.PositionOpen}
	require.NoError(t, s.Upsert(ctx, pos))

	pos.State = domain.PositionClosingPending
	require.NoError(t, s.Upsert(ctx, pos))

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.PositionClosingPending, open[0].State)

	pos.State = domain.PositionClosed
	pos.SpotSize, pos.PerpSize = 0, 0
	require.NoError(t, s.Upsert(ctx, pos))

	open, err = s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := s.Get(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.State)
}

func TestPositionStore_RejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()

	err := s.Upsert(ctx, domain.Position{Symbol: "BTC", State: domain.PositionClosingPending})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	require.NoError(t, s.Upsert(ctx, domain.Position{Symbol: "BTC", SpotSize: 1, PerpSize: 1, State: domain.PositionOpen}))
	err = s.Upsert(ctx, domain.Position{Symbol: "BTC", State: domain.PositionClosed})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	got, err := s.Get(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, got.State, "rejected write must not change the row")
}

func TestAuditStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "a", nil))
	require.NoError(t, s.Log(ctx, "b", map[string]any{"k": 1}))
	require.NoError(t, s.Log(ctx, "c", nil))

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Event)

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Event)
	assert.Equal(t, 1, page[0].Detail["k"])
}
