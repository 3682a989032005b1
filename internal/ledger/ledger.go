// Package ledger implements the virtual account used when no live venue
// account exists. It tracks cash, per (symbol, leg) holdings with a
// volume-weighted entry price, realized PnL, fees and hourly funding, and
// answers the same account query a live venue does.
package ledger

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// sizeEpsilon absorbs float residue when a reduction closes a holding.
const sizeEpsilon = 1e-9

// Config holds the ledger's starting balance and margin model.
type Config struct {
	InitialBalance   float64
	MaintenanceRatio float64
}

// Holding is the signed exposure for one (symbol, leg) pair. Positive size
// is long.
type Holding struct {
	Symbol     string     `json:"symbol"`
	Leg        domain.Leg `json:"leg"`
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
}

type holdingKey struct {
	symbol string
	leg    domain.Leg
}

// Summary is a point-in-time view of the ledger for reports and the API.
type Summary struct {
	Cash            float64   `json:"cash"`
	AccountValue    float64   `json:"account_value"`
	MarginUsed      float64   `json:"margin_used"`
	FeesPaid        float64   `json:"fees_paid"`
	FundingReceived float64   `json:"funding_received"`
	RealizedPnL     float64   `json:"realized_pnl"`
	Settlements     int       `json:"settlements"`
	Holdings        []Holding `json:"holdings"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	cash        float64
	maintenance float64
	holdings    map[holdingKey]*Holding
	lastSettled time.Time

	feesPaid        float64
	fundingReceived float64
	realizedPnL     float64
	settlements     int

	market domain.MarketReader
	clock  func() time.Time
	logger *slog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, e.g. with a replay clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates a Ledger that marks holdings against market.
func New(cfg Config, market domain.MarketReader, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		cash:        cfg.InitialBalance,
		maintenance: cfg.MaintenanceRatio,
		holdings:    make(map[holdingKey]*Holding),
		market:      market,
		clock:       time.Now,
		logger:      logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}
	metrics.LedgerCash.Set(l.cash)
	return l
}

// ApplyFill books a venue fill: the fee always comes out of cash, and the
// signed size change either extends or reduces the (symbol, leg) holding.
func (l *Ledger) ApplyFill(f domain.Fill) {
	if f.FilledSize <= 0 {
		return
	}
	delta := f.FilledSize
	if f.Side == domain.OrderSideSell {
		delta = -delta
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash -= f.Fee
	l.feesPaid += f.Fee

	key := holdingKey{symbol: f.Symbol, leg: f.Leg}
	h, ok := l.holdings[key]
	if !ok {
		h = &Holding{Symbol: f.Symbol, Leg: f.Leg}
		l.holdings[key] = h
	}

	old := h.Size
	next := old + delta

	switch {
	case old == 0 || sameSign(old, delta):
		// Extending: size-weighted average entry.
		h.EntryPrice = (math.Abs(old)*h.EntryPrice + math.Abs(delta)*f.AvgPrice) / (math.Abs(old) + math.Abs(delta))
		h.Size = next
	default:
		closed := math.Min(math.Abs(old), math.Abs(delta))
		pnl := (f.AvgPrice - h.EntryPrice) * closed * sign(old)
		l.cash += pnl
		l.realizedPnL += pnl

		switch {
		case math.Abs(next) < sizeEpsilon:
			delete(l.holdings, key)
		case !sameSign(old, next):
			// Flipped through zero: the remainder was opened at this fill.
			h.Size = next
			h.EntryPrice = f.AvgPrice
		default:
			h.Size = next
		}
	}

	metrics.LedgerCash.Set(l.cash)
}

// SettleFunding applies hourly funding for every perp holding once per wall
// clock hour boundary crossed since the previous settlement. The first call
// only records the current hour. It returns the total cash change and how
// many boundaries were settled.
func (l *Ledger) SettleFunding(now time.Time) (float64, int) {
	hour := now.UTC().Truncate(time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSettled.IsZero() {
		l.lastSettled = hour
		return 0, 0
	}
	if !hour.After(l.lastSettled) {
		return 0, 0
	}
	crossed := int(hour.Sub(l.lastSettled) / time.Hour)
	l.lastSettled = hour

	var payment float64
	for _, h := range l.holdings {
		if h.Leg != domain.LegPerp {
			continue
		}
		snap, ok := l.market.Snapshot(h.Symbol)
		if !ok {
			continue
		}
		mark := l.markLocked(h, snap)
		payment += -h.Size * mark * snap.FundingRate
	}

	total := payment * float64(crossed)
	l.cash += total
	l.fundingReceived += total
	l.settlements += crossed

	metrics.LedgerCash.Set(l.cash)
	metrics.FundingSettlements.Add(float64(crossed))
	l.logger.Info("funding settled",
		slog.Time("hour", hour),
		slog.Int("boundaries", crossed),
		slog.Float64("payment", total),
		slog.Float64("cash", l.cash),
	)
	return total, crossed
}

// AccountState implements domain.AccountReader. Values are recomputed from
// current marks on every call.
func (l *Ledger) AccountState(_ context.Context) (domain.AccountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, used := l.valueLocked()
	return domain.AccountState{
		AccountValue: value,
		MarginUsed:   used,
		AsOf:         l.clock(),
	}, nil
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Holding returns the current holding for a (symbol, leg) pair.
func (l *Ledger) Holding(symbol string, leg domain.Leg) (Holding, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holdings[holdingKey{symbol: symbol, leg: leg}]
	if !ok {
		return Holding{}, false
	}
	return *h, true
}

// Summary snapshots balances and holdings.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	value, used := l.valueLocked()
	holdings := make([]Holding, 0, len(l.holdings))
	for _, h := range l.holdings {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].Symbol != holdings[j].Symbol {
			return holdings[i].Symbol < holdings[j].Symbol
		}
		return holdings[i].Leg < holdings[j].Leg
	})

	return Summary{
		Cash:            l.cash,
		AccountValue:    value,
		MarginUsed:      used,
		FeesPaid:        l.feesPaid,
		FundingReceived: l.fundingReceived,
		RealizedPnL:     l.realizedPnL,
		Settlements:     l.settlements,
		Holdings:        holdings,
	}
}

// Run settles funding on every tick until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) error {
	l.logger.InfoContext(ctx, "ledger settlement loop started", slog.Duration("interval", interval))
	l.SettleFunding(l.clock())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.SettleFunding(l.clock())
		}
	}
}

func (l *Ledger) valueLocked() (value, used float64) {
	value = l.cash
	for _, h := range l.holdings {
		var mark float64
		if snap, ok := l.market.Snapshot(h.Symbol); ok {
			mark = l.markLocked(h, snap)
		} else {
			mark = h.EntryPrice
		}
		value += h.Size * (mark - h.EntryPrice)
		used += math.Abs(h.Size) * mark * l.maintenance
	}
	return value, used
}

// markLocked falls back to the entry price when the book has no mid yet.
func (l *Ledger) markLocked(h *Holding, snap domain.MarketState) float64 {
	if mark := snap.Mark(h.Leg); mark > 0 {
		return mark
	}
	return h.EntryPrice
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Compile-time interface check.
var _ domain.AccountReader = (*Ledger)(nil)
