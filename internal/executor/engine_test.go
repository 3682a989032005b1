package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/store/memory"
)

type placeResult struct {
	filled float64
	px     float64
	err    error
}

// scriptedPlacer answers orders per leg/side from a queue; an empty queue
// fills the full size at the limit price.
type scriptedPlacer struct {
	mu      sync.Mutex
	scripts map[string][]placeResult
	calls   []domain.OrderRequest
}

func newScriptedPlacer() *scriptedPlacer {
	return &scriptedPlacer{scripts: make(map[string][]placeResult)}
}

func legKey(leg domain.Leg, side domain.OrderSide) string {
	return string(leg) + "/" + string(side)
}

func (p *scriptedPlacer) on(leg domain.Leg, side domain.OrderSide, results ...placeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[legKey(leg, side)] = append(p.scripts[legKey(leg, side)], results...)
}

func (p *scriptedPlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	k := legKey(req.Leg, req.Side)
	res := placeResult{filled: req.Size, px: req.LimitPrice}
	if q := p.scripts[k]; len(q) > 0 {
		res = q[0]
		p.scripts[k] = q[1:]
	}
	if res.err != nil {
		return domain.Fill{}, res.err
	}
	if res.px == 0 {
		res.px = req.LimitPrice
	}
	return domain.Fill{ClientOrderID: req.ClientOrderID, FilledSize: res.filled, AvgPrice: res.px}, nil
}

func (p *scriptedPlacer) callsFor(leg domain.Leg, side domain.OrderSide) []domain.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.OrderRequest
	for _, c := range p.calls {
		if c.Leg == leg && c.Side == side {
			out = append(out, c)
		}
	}
	return out
}

type staticMarket map[string]domain.MarketState

func (m staticMarket) Snapshot(symbol string) (domain.MarketState, bool) {
	s, ok := m[symbol]
	return s, ok
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type testRig struct {
	engine  *Engine
	placer  *scriptedPlacer
	store   *memory.PositionStore
	alerter *recordingAlerter
	sleeps  []time.Duration
}

func newRig(t *testing.T, placer OrderPlacer) *testRig {
	t.Helper()
	rig := &testRig{
		store:   memory.NewPositionStore(),
		alerter: &recordingAlerter{},
	}
	if sp, ok := placer.(*scriptedPlacer); ok {
		rig.placer = sp
	}
	market := staticMarket{"ETH": {
		Symbol: "ETH", SpotBid: 99.9, SpotAsk: 100, SpotMid: 99.95,
		PerpBid: 100.1, PerpAsk: 100.2, PerpMid: 100.15,
	}}
	assets := domain.AssetBook{"ETH": {Symbol: "ETH", SizeDecimals: 2, PriceDecimals: 2}}
	rig.engine = NewEngine(Config{
		SlippageTolerance: 0.005,
		MaxRetries:        3,
		BaseBackoff:       2 * time.Second,
		MaxBackoff:        30 * time.Second,
	}, placer, rig.store, market, assets,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithAlerter(rig.alerter),
		WithSleep(func(_ context.Context, d time.Duration) error {
			rig.sleeps = append(rig.sleeps, d)
			return nil
		}),
	)
	return rig
}

func ethTarget() domain.TargetSymbol {
	return domain.TargetSymbol{Symbol: "ETH", FundingRate: 0.0001, SpotBid: 99.9, SpotAsk: 100, PerpBid: 100.1, PerpAsk: 100.2}
}

func TestExecuteEntry_BothLegsFill(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 100, px: 100.5})
	p.on(domain.LegPerp, domain.OrderSideSell, placeResult{filled: 100, px: 99.5})
	rig := newRig(t, p)

	pos := rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000)
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.SpotSize)
	assert.Equal(t, 100.0, pos.PerpSize)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.Equal(t, domain.PositionOpen, pos.State)

	spot := p.callsFor(domain.LegSpot, domain.OrderSideBuy)
	require.Len(t, spot, 1)
	assert.Equal(t, 100.0, spot[0].Size)
	assert.InDelta(t, 100.5, spot[0].LimitPrice, 1e-9)
	assert.Equal(t, domain.TimeInForceIOC, spot[0].TimeInForce)

	perp := p.callsFor(domain.LegPerp, domain.OrderSideSell)
	require.Len(t, perp, 1)
	assert.Equal(t, 100.0, perp[0].Size, "perp is sized to the spot fill")
	assert.InDelta(t, 99.6, perp[0].LimitPrice, 1e-9)

	stored, err := rig.store.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, *pos, stored)
}

func TestExecuteEntry_PerpSizedToActualSpotFill(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 37.5})
	rig := newRig(t, p)

	pos := rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000)
	require.NotNil(t, pos)
	perp := p.callsFor(domain.LegPerp, domain.OrderSideSell)
	require.Len(t, perp, 1)
	assert.Equal(t, 37.5, perp[0].Size)
	assert.Equal(t, 37.5, pos.SpotSize)
	assert.Equal(t, 37.5, pos.PerpSize)
}

func TestExecuteEntry_FullRollback(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 100})
	p.on(domain.LegPerp, domain.OrderSideSell, placeResult{filled: 0})
	p.on(domain.LegSpot, domain.OrderSideSell, placeResult{filled: 100})
	rig := newRig(t, p)

	pos := rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000)
	assert.Nil(t, pos)

	_, err := rig.store.Get(context.Background(), "ETH")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	comp := p.callsFor(domain.LegSpot, domain.OrderSideSell)
	require.Len(t, comp, 1)
	assert.Equal(t, 100.0, comp[0].Size)
	assert.InDelta(t, 99.4, comp[0].LimitPrice, 1e-9, "sell at bid less slippage")
}

func TestExecuteEntry_PartialRollbackPersistsResidue(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 100, px: 100})
	p.on(domain.LegPerp, domain.OrderSideSell, placeResult{filled: 0})
	p.on(domain.LegSpot, domain.OrderSideSell, placeResult{filled: 40})
	rig := newRig(t, p)

	pos := rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000)
	require.NotNil(t, pos)

	stored, err := rig.store.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 60.0, stored.SpotSize)
	assert.Equal(t, 0.0, stored.PerpSize)
	assert.Equal(t, domain.PositionOpen, stored.State)
	assert.Contains(t, rig.alerter.events, "leg_risk")
}

func TestExecuteEntry_PartialPerpIsNetted(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 100})
	p.on(domain.LegPerp, domain.OrderSideSell, placeResult{filled: 80})
	rig := newRig(t, p)

	pos := rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000)
	require.NotNil(t, pos)
	assert.Equal(t, 80.0, pos.SpotSize)
	assert.Equal(t, 80.0, pos.PerpSize)

	trim := p.callsFor(domain.LegSpot, domain.OrderSideSell)
	require.Len(t, trim, 1)
	assert.Equal(t, 20.0, trim[0].Size)
	assert.Empty(t, rig.alerter.events)
}

func TestExecuteEntry_QuantityTooSmall(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)

	assert.Nil(t, rig.engine.ExecuteEntry(context.Background(), ethTarget(), 0.5))
	assert.Empty(t, p.calls)
}

func TestExecuteEntry_SpotUnfilledAborts(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{filled: 0})
	rig := newRig(t, p)

	assert.Nil(t, rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000))
	assert.Len(t, p.calls, 1)
}

func TestExecuteEntry_RefusesWhenPositionExists(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	require.NoError(t, rig.store.Upsert(context.Background(), domain.Position{
		Symbol: "ETH", SpotSize: 1, PerpSize: 1, State: domain.PositionOpen,
	}))

	assert.Nil(t, rig.engine.ExecuteEntry(context.Background(), ethTarget(), 10_000))
	assert.Empty(t, p.calls)
}

func TestExecuteEntry_ReopensClosedSymbol(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	ctx := context.Background()
	require.NoError(t, rig.store.Upsert(ctx, domain.Position{Symbol: "ETH", SpotSize: 1, PerpSize: 1, State: domain.PositionOpen}))
	require.NoError(t, rig.store.Upsert(ctx, domain.Position{Symbol: "ETH", State: domain.PositionClosingPending}))
	require.NoError(t, rig.store.Upsert(ctx, domain.Position{Symbol: "ETH", AccumulatedFunding: 12, State: domain.PositionClosed}))

	pos := rig.engine.ExecuteEntry(ctx, ethTarget(), 1_000)
	require.NotNil(t, pos)
	assert.Equal(t, 0.0, pos.AccumulatedFunding)
}

func TestSubmit_RetriesTransientWithBackoff(t *testing.T) {
	transient := fmt.Errorf("venue: timeout: %w", domain.ErrTransientVenue)
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy, placeResult{err: transient}, placeResult{err: transient}, placeResult{filled: 10})
	rig := newRig(t, p)

	fill := rig.engine.submit(context.Background(), domain.OrderRequest{
		Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 10, LimitPrice: 100,
	})
	assert.Equal(t, 10.0, fill.FilledSize)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rig.sleeps)

	calls := p.callsFor(domain.LegSpot, domain.OrderSideBuy)
	require.Len(t, calls, 3)
	assert.Equal(t, calls[0].ClientOrderID, calls[2].ClientOrderID, "client order id is stable across retries")
}

func TestSubmit_RejectionIsZeroFillWithoutRetry(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegPerp, domain.OrderSideSell, placeResult{err: fmt.Errorf("venue: %w", domain.ErrRejectedOrder)})
	rig := newRig(t, p)

	fill := rig.engine.submit(context.Background(), domain.OrderRequest{
		Symbol: "ETH", Leg: domain.LegPerp, Side: domain.OrderSideSell, Size: 10, LimitPrice: 100,
	})
	assert.False(t, fill.Filled())
	assert.Len(t, p.calls, 1)
	assert.Empty(t, rig.sleeps)
}

func TestSubmit_ExhaustedRetriesIsZeroFill(t *testing.T) {
	transient := fmt.Errorf("venue: %w", domain.ErrTransientVenue)
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideBuy,
		placeResult{err: transient}, placeResult{err: transient}, placeResult{err: transient})
	rig := newRig(t, p)

	fill := rig.engine.submit(context.Background(), domain.OrderRequest{
		Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 10, LimitPrice: 100,
	})
	assert.False(t, fill.Filled())
	assert.Len(t, p.calls, 3)
	assert.Len(t, rig.sleeps, 2)
}

// reconcilingPlacer executes the first order but reports a transient error,
// the way a timed-out request that reached the venue looks to the client.
type reconcilingPlacer struct {
	*scriptedPlacer
	executed map[string]domain.Fill
}

func (p *reconcilingPlacer) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	fill, _ := p.scriptedPlacer.PlaceOrder(ctx, req)
	if len(p.executed) == 0 {
		p.executed[req.ClientOrderID] = fill
		return domain.Fill{}, fmt.Errorf("venue: read timeout: %w", domain.ErrTransientVenue)
	}
	return fill, nil
}

func (p *reconcilingPlacer) LookupFill(_ context.Context, cloid string) (domain.Fill, bool, error) {
	f, ok := p.executed[cloid]
	return f, ok, nil
}

func TestSubmit_ReconcilesBeforeResubmitting(t *testing.T) {
	p := &reconcilingPlacer{scriptedPlacer: newScriptedPlacer(), executed: map[string]domain.Fill{}}
	rig := newRig(t, p)

	fill := rig.engine.submit(context.Background(), domain.OrderRequest{
		Symbol: "ETH", Leg: domain.LegSpot, Side: domain.OrderSideBuy, Size: 10, LimitPrice: 100,
	})
	assert.Equal(t, 10.0, fill.FilledSize)
	assert.Len(t, p.calls, 1, "no duplicate order after reconciliation")
}

func TestBackoff_Capped(t *testing.T) {
	rig := newRig(t, newScriptedPlacer())
	assert.Equal(t, 2*time.Second, rig.engine.backoff(1))
	assert.Equal(t, 8*time.Second, rig.engine.backoff(3))
	assert.Equal(t, 30*time.Second, rig.engine.backoff(10))
}

func seedOpen(t *testing.T, rig *testRig, spot, perp float64) *domain.Position {
	t.Helper()
	pos := domain.Position{Symbol: "ETH", SpotSize: spot, PerpSize: perp, EntryPrice: 100, State: domain.PositionOpen}
	require.NoError(t, rig.store.Upsert(context.Background(), pos))
	return &pos
}

func TestExecuteExit_ClosedIsNoop(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)

	assert.True(t, rig.engine.ExecuteExit(context.Background(), &domain.Position{Symbol: "ETH", State: domain.PositionClosed}))
	assert.Empty(t, p.calls)
}

func TestExecuteExit_FlattensBothLegs(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 5, 5)

	require.True(t, rig.engine.ExecuteExit(context.Background(), pos))
	assert.Equal(t, domain.PositionClosed, pos.State)

	perp := p.callsFor(domain.LegPerp, domain.OrderSideBuy)
	require.Len(t, perp, 1)
	assert.True(t, perp[0].ReduceOnly)
	assert.Equal(t, 5.0, perp[0].Size)
	assert.InDelta(t, 100.7, perp[0].LimitPrice, 1e-9)

	stored, err := rig.store.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, stored.State)
	assert.True(t, stored.IsFlat())
}

func TestExecuteExit_PartialRevertsToOpen(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegPerp, domain.OrderSideBuy, placeResult{filled: 2})
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 5, 5)

	assert.False(t, rig.engine.ExecuteExit(context.Background(), pos))

	stored, err := rig.store.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, stored.State)
	assert.Equal(t, 0.0, stored.SpotSize)
	assert.Equal(t, 3.0, stored.PerpSize)
}

func TestExecuteExit_OneLegFailureDoesNotCancelOther(t *testing.T) {
	p := newScriptedPlacer()
	p.on(domain.LegSpot, domain.OrderSideSell, placeResult{err: fmt.Errorf("venue: %w", domain.ErrRejectedOrder)})
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 5, 5)

	assert.False(t, rig.engine.ExecuteExit(context.Background(), pos))
	assert.Equal(t, 5.0, pos.SpotSize)
	assert.Equal(t, 0.0, pos.PerpSize)
	assert.Len(t, p.callsFor(domain.LegPerp, domain.OrderSideBuy), 1)
}

func TestExecuteExit_SkipsEmptyLeg(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 60, 0)

	require.True(t, rig.engine.ExecuteExit(context.Background(), pos))
	assert.Empty(t, p.callsFor(domain.LegPerp, domain.OrderSideBuy))
}

func TestReduce_ShrinksBothLegs(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 100, 100)

	require.True(t, rig.engine.Reduce(context.Background(), pos, 21, "deleverage"))
	assert.Equal(t, 79.0, pos.SpotSize)
	assert.Equal(t, 79.0, pos.PerpSize)
	assert.Equal(t, domain.PositionOpen, pos.State)
}

func TestCorrectImbalance_SellsExcessSpot(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 60, 0)

	require.True(t, rig.engine.CorrectImbalance(context.Background(), pos))
	assert.True(t, pos.IsFlat())
	assert.Empty(t, p.callsFor(domain.LegPerp, domain.OrderSideBuy))
	sells := p.callsFor(domain.LegSpot, domain.OrderSideSell)
	require.Len(t, sells, 1)
	assert.Equal(t, 60.0, sells[0].Size)
}

func TestCorrectImbalance_BuysBackExcessPerp(t *testing.T) {
	p := newScriptedPlacer()
	rig := newRig(t, p)
	pos := seedOpen(t, rig, 3, 5)

	require.True(t, rig.engine.CorrectImbalance(context.Background(), pos))
	assert.Equal(t, 3.0, pos.PerpSize)
	assert.Equal(t, 3.0, pos.SpotSize)
}
