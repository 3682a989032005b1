package sim

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/ledger"
)

type staticMarket map[string]domain.MarketState

func (m staticMarket) Snapshot(symbol string) (domain.MarketState, bool) {
	s, ok := m[symbol]
	return s, ok
}

func newSim(t *testing.T) (*Simulator, *ledger.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	market := staticMarket{"ETH": {
		Symbol:  "ETH",
		SpotBid: 99, SpotAsk: 100, SpotMid: 99.5,
		PerpBid: 100, PerpAsk: 101, PerpMid: 100.5,
	}}
	l := ledger.New(ledger.Config{InitialBalance: 10_000, MaintenanceRatio: 0.05}, market, logger)
	return New(Config{PriceImpact: 0.001, FeeRate: 0.00025}, market, l, logger), l
}

func TestSpotBuyFillsAtAskPlusImpact(t *testing.T) {
	s, l := newSim(t)

	f, err := s.PlaceOrder(context.Background(), domain.OrderRequest{
		ClientOrderID: "0x01", Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy,
		Size: 2, LimitPrice: 100.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.FilledSize)
	assert.InDelta(t, 100.1, f.AvgPrice, 1e-9)
	assert.InDelta(t, 2*100.1*0.00025, f.Fee, 1e-12)
	assert.Equal(t, "sim-1", f.VenueOrderID)

	h, ok := l.Holding("ETH", domain.LegSpot)
	require.True(t, ok)
	assert.Equal(t, 2.0, h.Size)
	assert.InDelta(t, 10_000-f.Fee, l.Cash(), 1e-9)
}

func TestLimitNotCrossedFillsNothing(t *testing.T) {
	s, l := newSim(t)

	f, err := s.PlaceOrder(context.Background(), domain.OrderRequest{
		ClientOrderID: "0x02", Symbol: "ETH", Leg: domain.LegPerp, Side: domain.OrderSideSell,
		Size: 1, LimitPrice: 100.5,
	})
	require.NoError(t, err)
	assert.False(t, f.Filled())
	_, ok := l.Holding("ETH", domain.LegPerp)
	assert.False(t, ok)
}

func TestSpotSellCappedAtHolding(t *testing.T) {
	s, _ := newSim(t)
	ctx := context.Background()

	_, err := s.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "0x03", Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 1,
	})
	require.NoError(t, err)

	f, err := s.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "0x04", Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideSell, Size: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.FilledSize)
}

func TestReduceOnlyCannotFlipShort(t *testing.T) {
	s, l := newSim(t)
	ctx := context.Background()

	_, err := s.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "0x05", Symbol: "ETH", Leg: domain.LegPerp, Side: domain.OrderSideSell, Size: 3,
	})
	require.NoError(t, err)

	f, err := s.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "0x06", Symbol: "ETH", Leg: domain.LegPerp, Side: domain.OrderSideBuy, Size: 10, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, f.FilledSize)
	_, ok := l.Holding("ETH", domain.LegPerp)
	assert.False(t, ok)

	f, err = s.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "0x07", Symbol: "ETH", Leg: domain.LegPerp, Side: domain.OrderSideBuy, Size: 1, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.False(t, f.Filled())
}

func TestResubmittedOrderIsNotFilledTwice(t *testing.T) {
	s, l := newSim(t)
	ctx := context.Background()
	req := domain.OrderRequest{
		ClientOrderID: "0x08", Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 1,
	}

	first, err := s.PlaceOrder(ctx, req)
	require.NoError(t, err)
	second, err := s.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	h, _ := l.Holding("ETH", domain.LegSpot)
	assert.Equal(t, 1.0, h.Size)

	found, ok, err := s.LookupFill(ctx, "0x08")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, found)

	_, ok, err = s.LookupFill(ctx, "0xff")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownSymbolRejected(t *testing.T) {
	s, _ := newSim(t)
	_, err := s.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "DOGE", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 1})
	assert.ErrorIs(t, err, domain.ErrRejectedOrder)
}

func TestAssetsUniformRules(t *testing.T) {
	book := Assets([]string{"ETH", "BTC"}, 3, 1)
	require.Len(t, book, 2)
	meta, ok := book.Meta("BTC")
	require.True(t, ok)
	assert.Equal(t, "BTC", meta.PerpName)
	assert.InDelta(t, 0.001, meta.MinTradable(), 1e-12)
}
