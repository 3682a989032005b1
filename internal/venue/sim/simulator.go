// Package sim fills orders against the live (dryrun) or historical (replay)
// book with a fixed price impact and fee, and books every fill into the
// virtual ledger.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/ledger"
)

// Ledger is the subset of *ledger.Ledger the simulator needs.
type Ledger interface {
	ApplyFill(f domain.Fill)
	Holding(symbol string, leg domain.Leg) (ledger.Holding, bool)
}

// Config tunes simulated execution.
type Config struct {
	PriceImpact float64
	FeeRate     float64
}

// Simulator implements the engine's OrderPlacer and FillReconciler.
type Simulator struct {
	cfg    Config
	market domain.MarketReader
	ledger Ledger
	logger *slog.Logger

	mu    sync.Mutex
	seq   int64
	fills map[string]domain.Fill
}

// New creates a Simulator.
func New(cfg Config, market domain.MarketReader, l Ledger, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		market: market,
		ledger: l,
		logger: logger.With(slog.String("component", "sim_venue")),
		fills:  make(map[string]domain.Fill),
	}
}

// PlaceOrder fills req in full at the touch price moved by PriceImpact, or
// not at all when that price is worse than the limit. Sells are capped at
// what the ledger holds: spot cannot be sold short and reduce-only perp
// orders cannot flip the position.
func (s *Simulator) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.fills[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		return prev, nil
	}

	snap, ok := s.market.Snapshot(req.Symbol)
	if !ok {
		return domain.Fill{}, fmt.Errorf("sim: %w: no market for %s", domain.ErrRejectedOrder, req.Symbol)
	}
	buy := req.Side == domain.OrderSideBuy
	touch := touchPrice(snap, req.Leg, buy)
	if touch <= 0 {
		return domain.Fill{}, fmt.Errorf("sim: %w: empty %s book for %s", domain.ErrRejectedOrder, req.Leg, req.Symbol)
	}

	px := touch * (1 - s.cfg.PriceImpact)
	if buy {
		px = touch * (1 + s.cfg.PriceImpact)
	}

	fill := domain.Fill{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Leg:           req.Leg,
		Side:          req.Side,
	}
	if req.LimitPrice > 0 && ((buy && px > req.LimitPrice) || (!buy && px < req.LimitPrice)) {
		s.record(fill)
		return fill, nil
	}

	size := req.Size
	if held, capped := s.sellCap(req); capped {
		size = math.Min(size, held)
	}
	if size <= 0 {
		s.record(fill)
		return fill, nil
	}

	s.seq++
	fill.VenueOrderID = fmt.Sprintf("sim-%d", s.seq)
	fill.FilledSize = size
	fill.AvgPrice = px
	fill.Fee = size * px * s.cfg.FeeRate
	s.ledger.ApplyFill(fill)
	s.record(fill)

	s.logger.Debug("simulated fill",
		slog.String("symbol", req.Symbol),
		slog.String("leg", string(req.Leg)),
		slog.String("side", string(req.Side)),
		slog.Float64("size", size),
		slog.Float64("px", px),
	)
	return fill, nil
}

// sellCap returns the most a reducing order may trade.
func (s *Simulator) sellCap(req domain.OrderRequest) (float64, bool) {
	h, ok := s.ledger.Holding(req.Symbol, req.Leg)
	switch {
	case req.Leg == domain.LegSpot && req.Side == domain.OrderSideSell:
		if !ok || h.Size <= 0 {
			return 0, true
		}
		return h.Size, true
	case req.ReduceOnly:
		if !ok {
			return 0, true
		}
		// A reduce-only buy closes a short; a reduce-only sell closes a long.
		if (req.Side == domain.OrderSideBuy && h.Size < 0) || (req.Side == domain.OrderSideSell && h.Size > 0) {
			return math.Abs(h.Size), true
		}
		return 0, true
	}
	return 0, false
}

func (s *Simulator) record(f domain.Fill) {
	if f.ClientOrderID != "" {
		s.fills[f.ClientOrderID] = f
	}
}

// LookupFill reports the recorded outcome of a client order id.
func (s *Simulator) LookupFill(_ context.Context, clientOrderID string) (domain.Fill, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fills[clientOrderID]
	return f, ok, nil
}

func touchPrice(snap domain.MarketState, leg domain.Leg, buy bool) float64 {
	switch {
	case leg == domain.LegSpot && buy:
		return snap.SpotAsk
	case leg == domain.LegSpot:
		return snap.SpotBid
	case buy:
		return snap.PerpAsk
	default:
		return snap.PerpBid
	}
}

// Assets builds uniform metadata for offline runs that cannot query the
// venue. Venue names are the symbol itself.
func Assets(symbols []string, sizeDecimals, priceDecimals int32) domain.AssetBook {
	book := make(domain.AssetBook, len(symbols))
	for _, s := range symbols {
		book[s] = domain.AssetMeta{
			Symbol:        s,
			PerpName:      s,
			SpotName:      s,
			SizeDecimals:  sizeDecimals,
			PriceDecimals: priceDecimals,
		}
	}
	return book
}
