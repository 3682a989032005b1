package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

type staticMarket map[string]domain.MarketState

func (m staticMarket) Snapshot(symbol string) (domain.MarketState, bool) {
	s, ok := m[symbol]
	return s, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fill(symbol string, leg domain.Leg, side domain.OrderSide, size, price, fee float64) domain.Fill {
	return domain.Fill{Symbol: symbol, Leg: leg, Side: side, FilledSize: size, AvgPrice: price, Fee: fee}
}

func TestRoundTripRealizesPnL(t *testing.T) {
	l := New(Config{InitialBalance: 1000, MaintenanceRatio: 0.05}, staticMarket{}, testLogger())

	l.ApplyFill(fill("ETH", domain.LegSpot, domain.OrderSideBuy, 10, 10, 0.25))
	assert.InDelta(t, 999.75, l.Cash(), 1e-9)

	l.ApplyFill(fill("ETH", domain.LegSpot, domain.OrderSideSell, 10, 11, 0.2755))
	assert.InDelta(t, 1009.4745, l.Cash(), 1e-9)

	_, ok := l.Holding("ETH", domain.LegSpot)
	assert.False(t, ok, "holding closed exactly")

	s := l.Summary()
	assert.InDelta(t, 10.0, s.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.5255, s.FeesPaid, 1e-9)
}

func TestExtendingComputesWeightedEntry(t *testing.T) {
	l := New(Config{InitialBalance: 1000, MaintenanceRatio: 0.05}, staticMarket{}, testLogger())

	l.ApplyFill(fill("BTC", domain.LegPerp, domain.OrderSideSell, 1, 100, 0))
	l.ApplyFill(fill("BTC", domain.LegPerp, domain.OrderSideSell, 3, 104, 0))

	h, ok := l.Holding("BTC", domain.LegPerp)
	require.True(t, ok)
	assert.Equal(t, -4.0, h.Size)
	assert.InDelta(t, 103.0, h.EntryPrice, 1e-9)
	assert.Equal(t, 1000.0, l.Cash())
}

func TestPartialReduceAndFlip(t *testing.T) {
	l := New(Config{InitialBalance: 0, MaintenanceRatio: 0.05}, staticMarket{}, testLogger())

	// short 4 @ 100, buy back 1 @ 90: short gains 10
	l.ApplyFill(fill("SOL", domain.LegPerp, domain.OrderSideSell, 4, 100, 0))
	l.ApplyFill(fill("SOL", domain.LegPerp, domain.OrderSideBuy, 1, 90, 0))
	assert.InDelta(t, 10.0, l.Cash(), 1e-9)

	h, _ := l.Holding("SOL", domain.LegPerp)
	assert.Equal(t, -3.0, h.Size)
	assert.Equal(t, 100.0, h.EntryPrice)

	// buy 5 @ 110: closes 3 at a loss of 30, leaves long 2 entered at 110
	l.ApplyFill(fill("SOL", domain.LegPerp, domain.OrderSideBuy, 5, 110, 0))
	assert.InDelta(t, -20.0, l.Cash(), 1e-9)
	h, _ = l.Holding("SOL", domain.LegPerp)
	assert.Equal(t, 2.0, h.Size)
	assert.Equal(t, 110.0, h.EntryPrice)
}

func TestAccountStateUsesCurrentMarks(t *testing.T) {
	market := staticMarket{"ETH": {Symbol: "ETH", SpotMid: 12, PerpMid: 12}}
	l := New(Config{InitialBalance: 1000, MaintenanceRatio: 0.05}, market, testLogger())

	l.ApplyFill(fill("ETH", domain.LegSpot, domain.OrderSideBuy, 10, 10, 0))
	l.ApplyFill(fill("ETH", domain.LegPerp, domain.OrderSideSell, 10, 10, 0))

	acct, err := l.AccountState(context.Background())
	require.NoError(t, err)
	// spot +20, perp -20
	assert.InDelta(t, 1000.0, acct.AccountValue, 1e-9)
	// (10*12 + 10*12) * 0.05
	assert.InDelta(t, 12.0, acct.MarginUsed, 1e-9)

	market["ETH"] = domain.MarketState{Symbol: "ETH", SpotMid: 15, PerpMid: 14}
	acct, _ = l.AccountState(context.Background())
	assert.InDelta(t, 1000.0+50-40, acct.AccountValue, 1e-9)
}

func TestHourlySettlementOncePerBoundary(t *testing.T) {
	market := staticMarket{"ETH": {Symbol: "ETH", PerpMid: 100, FundingRate: 0.0001}}
	l := New(Config{InitialBalance: 1000, MaintenanceRatio: 0.05}, market, testLogger())
	l.ApplyFill(fill("ETH", domain.LegPerp, domain.OrderSideSell, 10, 100, 0))
	l.ApplyFill(fill("ETH", domain.LegSpot, domain.OrderSideBuy, 10, 100, 0))

	base := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	paid, n := l.SettleFunding(base)
	assert.Zero(t, paid)
	assert.Zero(t, n)

	// guardian cycles every minute from 10:06 to 11:59 cross one boundary
	for i := 1; i <= 114; i++ {
		l.SettleFunding(base.Add(time.Duration(i) * time.Minute))
	}
	s := l.Summary()
	assert.Equal(t, 1, s.Settlements)
	// -(-10) * 100 * 0.0001
	assert.InDelta(t, 0.1, s.FundingReceived, 1e-12)
	assert.InDelta(t, 1000.1, l.Cash(), 1e-9)

	_, n = l.SettleFunding(base.Add(55 * time.Minute))
	assert.Zero(t, n, "11:00 was already settled")

	// 11:00 -> 14:15 crosses three boundaries
	paid, n = l.SettleFunding(base.Add(4*time.Hour + 10*time.Minute))
	assert.Equal(t, 3, n)
	assert.InDelta(t, 0.3, paid, 1e-12)
}

func TestSettlementSkipsSpotHoldings(t *testing.T) {
	market := staticMarket{"ETH": {Symbol: "ETH", SpotMid: 100, PerpMid: 100, FundingRate: 0.01}}
	l := New(Config{InitialBalance: 500}, market, testLogger())
	l.ApplyFill(fill("ETH", domain.LegSpot, domain.OrderSideBuy, 1, 100, 0))

	start := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	l.SettleFunding(start)
	paid, n := l.SettleFunding(start.Add(time.Hour))
	assert.Equal(t, 1, n)
	assert.Zero(t, paid)
}
