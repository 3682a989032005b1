package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// ExecuteExit flattens both legs concurrently. It returns true only when the
// position ends CLOSED; on any shortfall the remaining sizes are persisted
// with state OPEN so the guardian retries on its next cycle.
func (e *Engine) ExecuteExit(ctx context.Context, pos *domain.Position) bool {
	if pos == nil || pos.State == domain.PositionClosed {
		return true
	}
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With(slog.String("symbol", pos.Symbol))

	meta, ok := e.assets.Meta(pos.Symbol)
	if !ok {
		log.Error("exit skipped: unknown asset")
		metrics.Exits.WithLabelValues("failed").Inc()
		return false
	}

	if pos.State != domain.PositionClosingPending {
		prev := pos.State
		pos.State = domain.PositionClosingPending
		if err := e.persist(ctx, pos); err != nil {
			pos.State = prev
			log.Error("exit skipped: cannot mark closing", slog.String("error", err.Error()))
			metrics.Exits.WithLabelValues("failed").Inc()
			return false
		}
	}

	spotReq := domain.OrderRequest{
		Symbol:     pos.Symbol,
		Leg:        domain.LegSpot,
		Side:       domain.OrderSideSell,
		Size:       pos.SpotSize,
		LimitPrice: e.limitPrice(meta, domain.OrderSideSell, e.refPrice(pos.Symbol, domain.LegSpot, domain.OrderSideSell, pos.EntryPrice)),
	}
	perpReq := domain.OrderRequest{
		Symbol:     pos.Symbol,
		Leg:        domain.LegPerp,
		Side:       domain.OrderSideBuy,
		Size:       pos.PerpSize,
		LimitPrice: e.limitPrice(meta, domain.OrderSideBuy, e.refPrice(pos.Symbol, domain.LegPerp, domain.OrderSideBuy, pos.EntryPrice)),
		ReduceOnly: true,
	}
	spotFill, perpFill := e.submitPair(ctx, spotReq, perpReq)

	pos.SpotSize = meta.SubSize(pos.SpotSize, spotFill.FilledSize)
	pos.PerpSize = meta.SubSize(pos.PerpSize, perpFill.FilledSize)

	if pos.IsFlat() {
		pos.State = domain.PositionClosed
		if err := e.persist(ctx, pos); err != nil {
			log.Error("closed position could not be persisted", slog.String("error", err.Error()))
		}
		metrics.Exits.WithLabelValues("closed").Inc()
		e.emit(ctx, domain.PositionEventClosed, *pos, "")
		log.Info("position closed", slog.Float64("funding", pos.AccumulatedFunding))
		return true
	}

	pos.State = domain.PositionOpen
	if err := e.persist(ctx, pos); err != nil {
		log.Error("partial exit could not be persisted", slog.String("error", err.Error()))
	}
	metrics.Exits.WithLabelValues("partial").Inc()
	e.emit(ctx, domain.PositionEventExitFailed, *pos, "partial_fill")
	log.Warn("exit incomplete, will retry",
		slog.Float64("spot_left", pos.SpotSize),
		slog.Float64("perp_left", pos.PerpSize),
	)
	return false
}

// Reduce shrinks both legs by size, passing through REBALANCING. It returns
// true when any quantity was reduced.
func (e *Engine) Reduce(ctx context.Context, pos *domain.Position, size float64, reason string) bool {
	if pos == nil {
		return false
	}
	meta, ok := e.assets.Meta(pos.Symbol)
	if !ok {
		return false
	}
	spotQty := meta.TruncateSize(math.Min(size, pos.SpotSize))
	perpQty := meta.TruncateSize(math.Min(size, pos.PerpSize))
	return e.rebalance(ctx, meta, pos, spotQty, perpQty, reason)
}

// CorrectImbalance trades the over-sized leg down to match the other one.
func (e *Engine) CorrectImbalance(ctx context.Context, pos *domain.Position) bool {
	if pos == nil {
		return false
	}
	meta, ok := e.assets.Meta(pos.Symbol)
	if !ok {
		return false
	}
	var spotQty, perpQty float64
	switch imb := pos.Imbalance(); {
	case imb > 0:
		spotQty = meta.SubSize(pos.SpotSize, pos.PerpSize)
	case imb < 0:
		perpQty = meta.SubSize(pos.PerpSize, pos.SpotSize)
	default:
		return false
	}
	return e.rebalance(ctx, meta, pos, spotQty, perpQty, "imbalance")
}

func (e *Engine) rebalance(ctx context.Context, meta domain.AssetMeta, pos *domain.Position, spotQty, perpQty float64, reason string) bool {
	if spotQty <= 0 && perpQty <= 0 {
		return false
	}
	if pos.State != domain.PositionOpen && pos.State != domain.PositionRebalancing {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With(slog.String("symbol", pos.Symbol), slog.String("reason", reason))

	pos.State = domain.PositionRebalancing
	if err := e.persist(ctx, pos); err != nil {
		pos.State = domain.PositionOpen
		log.Error("rebalance skipped: cannot mark rebalancing", slog.String("error", err.Error()))
		return false
	}

	spotReq := domain.OrderRequest{
		Symbol:     pos.Symbol,
		Leg:        domain.LegSpot,
		Side:       domain.OrderSideSell,
		Size:       spotQty,
		LimitPrice: e.limitPrice(meta, domain.OrderSideSell, e.refPrice(pos.Symbol, domain.LegSpot, domain.OrderSideSell, pos.EntryPrice)),
	}
	perpReq := domain.OrderRequest{
		Symbol:     pos.Symbol,
		Leg:        domain.LegPerp,
		Side:       domain.OrderSideBuy,
		Size:       perpQty,
		LimitPrice: e.limitPrice(meta, domain.OrderSideBuy, e.refPrice(pos.Symbol, domain.LegPerp, domain.OrderSideBuy, pos.EntryPrice)),
		ReduceOnly: true,
	}
	spotFill, perpFill := e.submitPair(ctx, spotReq, perpReq)

	pos.SpotSize = meta.SubSize(pos.SpotSize, spotFill.FilledSize)
	pos.PerpSize = meta.SubSize(pos.PerpSize, perpFill.FilledSize)
	pos.State = domain.PositionOpen
	if err := e.persist(ctx, pos); err != nil {
		log.Error("rebalanced position could not be persisted", slog.String("error", err.Error()))
	}

	reduced := spotFill.Filled() || perpFill.Filled()
	if reduced {
		e.emit(ctx, domain.PositionEventReduced, *pos, reason)
		log.Info("position reduced",
			slog.Float64("spot_sold", spotFill.FilledSize),
			slog.Float64("perp_bought", perpFill.FilledSize),
			slog.Float64("spot", pos.SpotSize),
			slog.Float64("perp", pos.PerpSize),
		)
	} else {
		log.Warn("rebalance orders did not fill")
	}
	if pos.Imbalance() != 0 {
		e.alert(ctx, "leg_risk", "Position imbalanced",
			fmt.Sprintf("%s spot=%g perp=%g after %s", pos.Symbol, pos.SpotSize, pos.PerpSize, reason))
	}
	return reduced
}
