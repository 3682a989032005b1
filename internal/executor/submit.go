package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// backoff returns base * 2^(attempt-1), capped at MaxBackoff.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.cfg.MaxBackoff > 0 && d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	if e.cfg.MaxBackoff > 0 && d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}

// submit places req with bounded retry on transient venue errors. It never
// returns an error: anything that does not execute is reported as a zero
// fill so callers reason purely about filled quantity.
func (e *Engine) submit(ctx context.Context, req domain.OrderRequest) domain.Fill {
	if req.Size <= 0 {
		return domain.ZeroFill(req)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = e.newID()
	}
	if req.TimeInForce == "" {
		req.TimeInForce = domain.TimeInForceIOC
	}

	log := e.logger.With(
		slog.String("symbol", req.Symbol),
		slog.String("leg", string(req.Leg)),
		slog.String("side", string(req.Side)),
		slog.String("cloid", req.ClientOrderID),
	)

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.OrderRetries.Inc()
			if fill, ok := e.reconcile(ctx, req, log); ok {
				return fill
			}
		}

		metrics.OrdersSubmitted.WithLabelValues(string(req.Leg), string(req.Side)).Inc()
		fill, err := e.placer.PlaceOrder(ctx, req)
		if err == nil {
			fill = normalizeFill(req, fill)
			log.Info("order executed",
				slog.Float64("size", req.Size),
				slog.Float64("limit_px", req.LimitPrice),
				slog.Float64("filled", fill.FilledSize),
				slog.Float64("avg_px", fill.AvgPrice),
			)
			return fill
		}

		if !errors.Is(err, domain.ErrTransientVenue) {
			metrics.OrderFailures.WithLabelValues(string(req.Leg), "rejected").Inc()
			log.Warn("order rejected", slog.String("error", err.Error()))
			return domain.ZeroFill(req)
		}

		log.Warn("transient venue error",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", e.cfg.MaxRetries),
			slog.String("error", err.Error()),
		)
		if attempt < e.cfg.MaxRetries {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				break
			}
		}
	}

	if fill, ok := e.reconcile(ctx, req, log); ok {
		return fill
	}
	metrics.OrderFailures.WithLabelValues(string(req.Leg), "retries_exhausted").Inc()
	log.Error("order retries exhausted")
	return domain.ZeroFill(req)
}

// reconcile asks the venue whether a previous attempt of req already
// executed. Only placers implementing FillReconciler can answer.
func (e *Engine) reconcile(ctx context.Context, req domain.OrderRequest, log *slog.Logger) (domain.Fill, bool) {
	rec, ok := e.placer.(FillReconciler)
	if !ok {
		return domain.Fill{}, false
	}
	fill, found, err := rec.LookupFill(ctx, req.ClientOrderID)
	if err != nil {
		log.Warn("fill lookup failed", slog.String("error", err.Error()))
		return domain.Fill{}, false
	}
	if !found {
		return domain.Fill{}, false
	}
	log.Info("previous attempt already executed", slog.Float64("filled", fill.FilledSize))
	return normalizeFill(req, fill), true
}

func normalizeFill(req domain.OrderRequest, fill domain.Fill) domain.Fill {
	if fill.ClientOrderID == "" {
		fill.ClientOrderID = req.ClientOrderID
	}
	fill.Symbol = req.Symbol
	fill.Leg = req.Leg
	fill.Side = req.Side
	if fill.FilledSize < 0 {
		fill.FilledSize = 0
	}
	if fill.FilledSize > req.Size {
		fill.FilledSize = req.Size
	}
	return fill
}
