package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// ExecuteEntry opens a hedged position on target: buy spot, then sell the
// perp for exactly the spot quantity that filled. It returns the persisted
// position, or nil when no exposure remains.
//
// A perp leg that fills nothing is rolled back with a compensating spot
// sell. A perp leg that fills partially is netted by selling the excess
// spot. Any residue after those corrections is persisted as an OPEN,
// imbalanced position and alerted on, never dropped.
func (e *Engine) ExecuteEntry(ctx context.Context, target domain.TargetSymbol, budget float64) *domain.Position {
	log := e.logger.With(slog.String("symbol", target.Symbol))
	if ctx.Err() != nil {
		return nil
	}
	// Orders already in flight must be awaited and recorded even on shutdown.
	ctx = context.WithoutCancel(ctx)

	meta, ok := e.assets.Meta(target.Symbol)
	if !ok {
		log.Warn("entry skipped: unknown asset")
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	}

	existing, err := e.positions.Get(ctx, target.Symbol)
	switch {
	case err == nil && !existing.IsTerminal():
		log.Warn("entry skipped: position already exists", slog.String("state", string(existing.State)))
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		log.Error("entry skipped: position lookup failed", slog.String("error", err.Error()))
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	}

	spotAsk := target.SpotAsk
	if spotAsk <= 0 {
		spotAsk = e.refPrice(target.Symbol, domain.LegSpot, domain.OrderSideBuy)
	}
	if spotAsk <= 0 {
		log.Warn("entry skipped: no spot ask")
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	}

	qty := meta.TruncateSize(budget / spotAsk)
	if qty < meta.MinTradable() {
		log.Info("entry skipped",
			slog.String("reason", domain.ErrQuantityTooSmall.Error()),
			slog.Float64("budget", budget),
			slog.Float64("qty", qty),
			slog.Float64("min", meta.MinTradable()),
		)
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	}

	spotFill := e.submit(ctx, domain.OrderRequest{
		Symbol:     target.Symbol,
		Leg:        domain.LegSpot,
		Side:       domain.OrderSideBuy,
		Size:       qty,
		LimitPrice: e.limitPrice(meta, domain.OrderSideBuy, spotAsk),
	})
	if !spotFill.Filled() {
		log.Info("entry aborted: spot leg did not fill")
		metrics.Entries.WithLabelValues("aborted").Inc()
		return nil
	}

	perpBid := target.PerpBid
	if perpBid <= 0 {
		perpBid = e.refPrice(target.Symbol, domain.LegPerp, domain.OrderSideSell, spotFill.AvgPrice)
	}
	perpFill := e.submit(ctx, domain.OrderRequest{
		Symbol:     target.Symbol,
		Leg:        domain.LegPerp,
		Side:       domain.OrderSideSell,
		Size:       spotFill.FilledSize,
		LimitPrice: e.limitPrice(meta, domain.OrderSideSell, perpBid),
	})
	if !perpFill.Filled() {
		return e.rollbackSpot(ctx, meta, target, spotFill, log)
	}

	spotSize := spotFill.FilledSize
	perpSize := perpFill.FilledSize
	outcome := "opened"
	if excess := meta.SubSize(spotSize, perpSize); excess > 0 {
		trim := e.submit(ctx, domain.OrderRequest{
			Symbol:     target.Symbol,
			Leg:        domain.LegSpot,
			Side:       domain.OrderSideSell,
			Size:       excess,
			LimitPrice: e.limitPrice(meta, domain.OrderSideSell, e.refPrice(target.Symbol, domain.LegSpot, domain.OrderSideSell, target.SpotBid, spotFill.AvgPrice)),
		})
		spotSize = meta.SubSize(spotSize, trim.FilledSize)
		outcome = "netted"
		log.Info("perp partially filled, trimmed spot",
			slog.Float64("excess", excess),
			slog.Float64("trimmed", trim.FilledSize),
		)
	}

	pos := domain.Position{
		Symbol:     target.Symbol,
		SpotSize:   spotSize,
		PerpSize:   perpSize,
		EntryPrice: (spotFill.AvgPrice + perpFill.AvgPrice) / 2,
		State:      domain.PositionOpen,
	}
	if err := e.persist(ctx, &pos); err != nil {
		log.Error("opened position could not be persisted", slog.String("error", err.Error()))
		e.alert(ctx, "persist_failed", "Position write failed",
			fmt.Sprintf("%s spot=%g perp=%g: %v", pos.Symbol, pos.SpotSize, pos.PerpSize, err))
	}

	if pos.Imbalance() != 0 {
		outcome = "leg_risk"
		log.Error("entry left unhedged quantity",
			slog.Float64("spot", pos.SpotSize),
			slog.Float64("perp", pos.PerpSize),
		)
		e.alert(ctx, "leg_risk", "Leg risk after entry",
			fmt.Sprintf("%s spot=%g perp=%g", pos.Symbol, pos.SpotSize, pos.PerpSize))
		e.emit(ctx, domain.PositionEventLegRisk, pos, "entry_trim_incomplete")
	} else {
		e.emit(ctx, domain.PositionEventOpened, pos, "")
	}
	metrics.Entries.WithLabelValues(outcome).Inc()
	log.Info("position opened",
		slog.Float64("spot", pos.SpotSize),
		slog.Float64("perp", pos.PerpSize),
		slog.Float64("entry_px", pos.EntryPrice),
	)
	return &pos
}

// rollbackSpot undoes a spot fill whose hedge never executed.
func (e *Engine) rollbackSpot(ctx context.Context, meta domain.AssetMeta, target domain.TargetSymbol, spotFill domain.Fill, log *slog.Logger) *domain.Position {
	log.Warn("perp leg did not fill, rolling back spot", slog.Float64("spot_filled", spotFill.FilledSize))

	ref := e.refPrice(target.Symbol, domain.LegSpot, domain.OrderSideSell, target.SpotBid, spotFill.AvgPrice)
	comp := e.submit(ctx, domain.OrderRequest{
		Symbol:     target.Symbol,
		Leg:        domain.LegSpot,
		Side:       domain.OrderSideSell,
		Size:       spotFill.FilledSize,
		LimitPrice: e.limitPrice(meta, domain.OrderSideSell, ref),
	})

	remaining := meta.SubSize(spotFill.FilledSize, comp.FilledSize)
	if remaining <= 0 {
		log.Info("entry rolled back")
		metrics.Entries.WithLabelValues("rolled_back").Inc()
		if e.audit != nil {
			_ = e.audit.Log(ctx, "entry.rolled_back", map[string]any{
				"symbol":      target.Symbol,
				"spot_filled": spotFill.FilledSize,
			})
		}
		return nil
	}

	pos := domain.Position{
		Symbol:     target.Symbol,
		SpotSize:   remaining,
		PerpSize:   0,
		EntryPrice: spotFill.AvgPrice,
		State:      domain.PositionOpen,
	}
	if err := e.persist(ctx, &pos); err != nil {
		log.Error("residual spot could not be persisted", slog.String("error", err.Error()))
	}
	log.Error("rollback incomplete, unhedged spot remains", slog.Float64("spot", remaining))
	e.alert(ctx, "leg_risk", "Unhedged spot after rollback",
		fmt.Sprintf("%s spot=%g perp=0", pos.Symbol, remaining))
	e.emit(ctx, domain.PositionEventLegRisk, pos, "rollback_incomplete")
	metrics.Entries.WithLabelValues("leg_risk").Inc()
	return &pos
}
