// Package executor places both legs of a delta-neutral position and keeps the
// persisted Position consistent with what actually filled.
package executor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// OrderPlacer submits a single IOC order. Live and simulated venues both
// implement it. Errors wrapping domain.ErrTransientVenue are retried; any
// other error is treated as a rejection.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// FillReconciler is optionally implemented by an OrderPlacer that can report
// whether an order with the given client order ID already executed. The
// engine consults it before resubmitting after a transient failure.
type FillReconciler interface {
	LookupFill(ctx context.Context, clientOrderID string) (domain.Fill, bool, error)
}

// EventSink receives position lifecycle events. domain.SignalBus satisfies it.
type EventSink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Alerter sends operator alerts. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AuditLogger records an append-only audit trail.
type AuditLogger interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Config tunes order pricing and the retry policy.
type Config struct {
	SlippageTolerance float64
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithEventSink publishes position events to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithAlerter routes leg-risk and failure alerts to a.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

// WithAudit records every executed action to audit.
func WithAudit(audit AuditLogger) Option {
	return func(e *Engine) { e.audit = audit }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep overrides the backoff sleep. Tests use it to avoid waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// Engine is the execution engine. All methods are safe for concurrent use
// on different symbols; callers serialise work per symbol with a lease.
type Engine struct {
	cfg       Config
	placer    OrderPlacer
	positions domain.PositionStore
	market    domain.MarketReader
	assets    domain.AssetReader

	events  EventSink
	alerter Alerter
	audit   AuditLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	logger *slog.Logger
}

// NewEngine creates an Engine. market supplies reference prices for the
// compensating and closing orders; assets supplies rounding rules.
func NewEngine(
	cfg Config,
	placer OrderPlacer,
	positions domain.PositionStore,
	market domain.MarketReader,
	assets domain.AssetReader,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	e := &Engine{
		cfg:       cfg,
		placer:    placer,
		positions: positions,
		market:    market,
		assets:    assets,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		newID:     newClientOrderID,
		logger:    logger.With(slog.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newClientOrderID returns a 128-bit hex id, the format Hyperliquid accepts
// as a cloid.
func newClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// limitPrice applies the slippage tolerance to a reference price in the
// direction that makes the order marketable.
func (e *Engine) limitPrice(meta domain.AssetMeta, side domain.OrderSide, ref float64) float64 {
	if side == domain.OrderSideBuy {
		return meta.RoundPrice(ref * (1 + e.cfg.SlippageTolerance))
	}
	return meta.RoundPrice(ref * (1 - e.cfg.SlippageTolerance))
}

// refPrice picks the touch price a closing or compensating order should
// cross, falling back to the given prices in order when the book is empty.
func (e *Engine) refPrice(symbol string, leg domain.Leg, side domain.OrderSide, fallbacks ...float64) float64 {
	if snap, ok := e.market.Snapshot(symbol); ok {
		var px float64
		switch {
		case leg == domain.LegSpot && side == domain.OrderSideBuy:
			px = snap.SpotAsk
		case leg == domain.LegSpot:
			px = snap.SpotBid
		case side == domain.OrderSideBuy:
			px = snap.PerpAsk
		default:
			px = snap.PerpBid
		}
		if px > 0 {
			return px
		}
		if mid := snap.Mark(leg); mid > 0 {
			return mid
		}
	}
	return firstPositive(fallbacks...)
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// persist writes pos, retrying transient store errors with the order backoff.
func (e *Engine) persist(ctx context.Context, pos *domain.Position) error {
	pos.UpdatedAt = e.now()
	var err error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err = e.positions.Upsert(ctx, *pos); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrIllegalTransition) {
			return err
		}
		e.logger.Warn("position write failed",
			slog.String("symbol", pos.Symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < e.cfg.MaxRetries {
			_ = e.sleep(ctx, e.backoff(attempt))
		}
	}
	return err
}

func (e *Engine) emit(ctx context.Context, typ domain.PositionEventType, pos domain.Position, reason string) {
	if e.audit != nil {
		detail := map[string]any{
			"symbol":      pos.Symbol,
			"spot_size":   pos.SpotSize,
			"perp_size":   pos.PerpSize,
			"entry_price": pos.EntryPrice,
			"state":       string(pos.State),
		}
		if reason != "" {
			detail["reason"] = reason
		}
		if err := e.audit.Log(ctx, string(typ), detail); err != nil {
			e.logger.Warn("audit log failed", slog.String("event", string(typ)), slog.String("error", err.Error()))
		}
	}
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(domain.NewPositionEvent(typ, pos, reason, e.now()))
	if err != nil {
		return
	}
	if err := e.events.Publish(ctx, domain.PositionEventsChannel, payload); err != nil {
		e.logger.Debug("publish position event failed", slog.String("error", err.Error()))
	}
	if err := e.events.StreamAppend(ctx, domain.PositionEventsChannel, payload); err != nil {
		e.logger.Debug("append position event failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) alert(ctx context.Context, event, title, message string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
