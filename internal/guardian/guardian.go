// Package guardian runs the periodic control loop over open positions:
// funding and basis exit triggers, leg imbalance correction, margin
// deleverage and funding accrual.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// Executor is the subset of the execution engine the guardian drives.
type Executor interface {
	ExecuteExit(ctx context.Context, pos *domain.Position) bool
	Reduce(ctx context.Context, pos *domain.Position, size float64, reason string) bool
	CorrectImbalance(ctx context.Context, pos *domain.Position) bool
}

// Leaser serialises work per symbol.
type Leaser interface {
	Do(ctx context.Context, symbol string, fn func(ctx context.Context) error) error
}

// Alerter sends operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config tunes the guardian.
type Config struct {
	Interval               time.Duration
	Policy                 ExitPolicy
	BackwardationThreshold float64
	Deleverage             DeleverageParams
	StuckAlertThreshold    int
}

// Option customises a Guardian.
type Option func(*Guardian)

// WithAlerter routes stuck-position alerts to a.
func WithAlerter(a Alerter) Option {
	return func(g *Guardian) { g.alerter = a }
}

// WithClock overrides time.Now. Replay mode drives the guardian on the
// virtual clock of the historical rows.
func WithClock(now func() time.Time) Option {
	return func(g *Guardian) { g.now = now }
}

// Guardian monitors every non-CLOSED position.
type Guardian struct {
	cfg       Config
	positions domain.PositionStore
	market    domain.MarketReader
	account   domain.AccountReader
	assets    domain.AssetReader
	exec      Executor
	leaser    Leaser
	alerter   Alerter
	now       func() time.Time

	mu          sync.Mutex
	lastAccrual map[string]time.Time
	stuck       map[string]int

	logger *slog.Logger
}

// New creates a Guardian.
func New(
	cfg Config,
	positions domain.PositionStore,
	market domain.MarketReader,
	account domain.AccountReader,
	assets domain.AssetReader,
	exec Executor,
	leaser Leaser,
	logger *slog.Logger,
	opts ...Option,
) *Guardian {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Policy == nil {
		cfg.Policy = ConsecutiveNegative{N: 3}
	}
	g := &Guardian{
		cfg:         cfg,
		positions:   positions,
		market:      market,
		account:     account,
		assets:      assets,
		exec:        exec,
		leaser:      leaser,
		now:         func() time.Time { return time.Now().UTC() },
		lastAccrual: make(map[string]time.Time),
		stuck:       make(map[string]int),
		logger:      logger.With(slog.String("component", "guardian")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run recovers interrupted positions, then evaluates all open positions on
// every tick until ctx is cancelled. A cycle that has started always runs
// to completion.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.Recover(ctx); err != nil {
		g.logger.ErrorContext(ctx, "guardian recovery failed", slog.String("error", err.Error()))
	}
	g.logger.InfoContext(ctx, "guardian started",
		slog.Duration("interval", g.cfg.Interval),
		slog.String("exit_policy", g.cfg.Policy.Name()),
	)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.CheckAll(context.WithoutCancel(ctx)); err != nil {
				g.logger.ErrorContext(ctx, "guardian cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Recover returns positions left in CLOSING_PENDING or REBALANCING by a
// crash to OPEN so the next cycle re-evaluates them.
func (g *Guardian) Recover(ctx context.Context) error {
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("guardian: recover: %w", err)
	}
	for _, pos := range open {
		if pos.State == domain.PositionOpen {
			continue
		}
		prev := pos.State
		pos.State = domain.PositionOpen
		pos.UpdatedAt = g.now()
		if err := g.positions.Upsert(ctx, pos); err != nil {
			g.logger.ErrorContext(ctx, "recover position failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		g.logger.WarnContext(ctx, "recovered interrupted position",
			slog.String("symbol", pos.Symbol),
			slog.String("from", string(prev)),
			slog.Float64("spot", pos.SpotSize),
			slog.Float64("perp", pos.PerpSize),
		)
	}
	return nil
}

// CheckAll runs one guardian cycle. Failures on one symbol are logged and do
// not stop the others.
func (g *Guardian) CheckAll(ctx context.Context) error {
	metrics.GuardianCycles.Inc()
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("guardian: list open: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(open)))

	for _, pos := range open {
		symbol := pos.Symbol
		err := g.leaser.Do(ctx, symbol, func(ctx context.Context) error {
			return g.check(ctx, symbol)
		})
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			g.logger.DebugContext(ctx, "position busy, skipping this cycle", slog.String("symbol", symbol))
		case err != nil:
			g.logger.ErrorContext(ctx, "position check failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// check evaluates one position under its lease. The row is re-read so a
// change made by another holder since ListOpen is observed.
func (g *Guardian) check(ctx context.Context, symbol string) error {
	pos, err := g.positions.Get(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("guardian: get %s: %w", symbol, err)
	}
	if pos.State == domain.PositionClosed {
		g.forget(symbol)
		return nil
	}
	log := g.logger.With(slog.String("symbol", symbol))
	elapsed := g.sinceLastCheck(symbol)

	if pos.State == domain.PositionClosingPending || pos.IsFlat() {
		g.exit(ctx, &pos, "resume_close", log)
		return nil
	}

	snap, haveMarket := g.market.Snapshot(symbol)
	if haveMarket {
		if g.cfg.Policy.ShouldExit(snap) {
			g.exit(ctx, &pos, "funding_"+g.cfg.Policy.Name(), log)
			return nil
		}
		if Backwardated(snap, g.cfg.BackwardationThreshold) {
			log.Info("backwardation exceeds threshold", slog.Float64("basis", snap.Basis()))
			g.exit(ctx, &pos, "backwardation", log)
			return nil
		}
	} else {
		log.Warn("no market snapshot, exit signals skipped")
	}

	if g.imbalanced(pos) {
		log.Warn("leg imbalance detected",
			slog.Float64("spot", pos.SpotSize),
			slog.Float64("perp", pos.PerpSize),
		)
		g.exec.CorrectImbalance(ctx, &pos)
		if pos.IsFlat() {
			g.exit(ctx, &pos, "flattened", log)
			return nil
		}
	}

	if haveMarket {
		g.deleverage(ctx, &pos, snap, log)
		g.accrueFunding(ctx, &pos, snap, elapsed, log)
	}
	return nil
}

func (g *Guardian) imbalanced(pos domain.Position) bool {
	imb := math.Abs(pos.Imbalance())
	if imb == 0 {
		return false
	}
	if meta, ok := g.assets.Meta(pos.Symbol); ok {
		return imb >= meta.MinTradable()
	}
	return true
}

// exit drives the position to CLOSED, counting consecutive failures.
func (g *Guardian) exit(ctx context.Context, pos *domain.Position, reason string, log *slog.Logger) {
	metrics.ExitTriggers.WithLabelValues(reason).Inc()
	log.Info("exit triggered", slog.String("reason", reason))

	if g.exec.ExecuteExit(ctx, pos) {
		g.forget(pos.Symbol)
		return
	}

	g.mu.Lock()
	g.stuck[pos.Symbol]++
	n := g.stuck[pos.Symbol]
	g.mu.Unlock()

	limit := g.cfg.StuckAlertThreshold
	log.Warn("exit failed, will retry next cycle", slog.Int("attempts", n))
	if limit > 0 && n > limit && (n-limit-1)%limit == 0 {
		metrics.StuckAlerts.Inc()
		log.Error("position stuck",
			slog.String("error", domain.ErrStuckPosition.Error()),
			slog.Int("attempts", n),
		)
		if g.alerter != nil {
			msg := fmt.Sprintf("%s failed to close %d times (spot=%g perp=%g)", pos.Symbol, n, pos.SpotSize, pos.PerpSize)
			if err := g.alerter.Notify(ctx, "stuck_position", "Position stuck", msg); err != nil {
				log.Warn("stuck alert failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (g *Guardian) deleverage(ctx context.Context, pos *domain.Position, snap domain.MarketState, log *slog.Logger) {
	acct, err := g.account.AccountState(ctx)
	if err != nil {
		log.Warn("account state unavailable", slog.String("error", err.Error()))
		return
	}
	usage := acct.MarginUsage()
	metrics.MarginUsage.Set(usage)

	size := DeleverageSize(acct, g.cfg.Deleverage, snap.PerpMid, pos.PerpSize)
	if size <= 0 {
		return
	}
	log.Warn("margin usage above threshold, deleveraging",
		slog.Float64("usage", usage),
		slog.Float64("threshold", g.cfg.Deleverage.Threshold),
		slog.Float64("reduce", size),
	)
	if g.exec.Reduce(ctx, pos, size, "deleverage") {
		metrics.Deleverages.Inc()
	}
}

// sinceLastCheck advances the symbol's accrual clock and returns the time
// since the previous evaluation, or one interval on the first. Cycles that
// return before accrual still move the clock.
func (g *Guardian) sinceLastCheck(symbol string) time.Duration {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	last, seen := g.lastAccrual[symbol]
	g.lastAccrual[symbol] = now
	if !seen {
		return g.cfg.Interval
	}
	return now.Sub(last)
}

// accrueFunding adds rate x elapsed hours x perp notional while the rate is
// positive. It is an estimate, not venue-settled payments.
func (g *Guardian) accrueFunding(ctx context.Context, pos *domain.Position, snap domain.MarketState, elapsed time.Duration, log *slog.Logger) {
	if snap.FundingRate <= 0 || elapsed <= 0 || snap.PerpMid <= 0 {
		return
	}
	accrued := snap.FundingRate * elapsed.Hours() * pos.PerpNotional(snap.PerpMid)
	if accrued == 0 {
		return
	}
	pos.AccumulatedFunding += accrued
	pos.UpdatedAt = g.now()
	if err := g.positions.Upsert(ctx, *pos); err != nil {
		log.Warn("funding accrual write failed", slog.String("error", err.Error()))
		return
	}
	log.Debug("funding accrued",
		slog.Float64("accrued", accrued),
		slog.Float64("total", pos.AccumulatedFunding),
	)
}

func (g *Guardian) forget(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stuck, symbol)
	delete(g.lastAccrual, symbol)
}

// StuckAttempts reports consecutive failed exits for symbol.
func (g *Guardian) StuckAttempts(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stuck[symbol]
}
