package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// PositionHandler serves position rows with their live mark.
type PositionHandler struct {
	positions domain.PositionStore
	market    domain.MarketReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. market may be nil.
func NewPositionHandler(positions domain.PositionStore, market domain.MarketReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, market: market, logger: logger}
}

type positionView struct {
	Symbol             string    `json:"symbol"`
	State              string    `json:"state"`
	SpotSize           float64   `json:"spot_size"`
	PerpSize           float64   `json:"perp_size"`
	Imbalance          float64   `json:"imbalance"`
	EntryPrice         float64   `json:"entry_price"`
	AccumulatedFunding float64   `json:"accumulated_funding"`
	FundingRate        *float64  `json:"funding_rate,omitempty"`
	Basis              *float64  `json:"basis,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (h *PositionHandler) view(p domain.Position) positionView {
	v := positionView{
		Symbol:             p.Symbol,
		State:              string(p.State),
		SpotSize:           p.SpotSize,
		PerpSize:           p.PerpSize,
		Imbalance:          p.Imbalance(),
		EntryPrice:         p.EntryPrice,
		AccumulatedFunding: p.AccumulatedFunding,
		UpdatedAt:          p.UpdatedAt,
	}
	if h.market != nil {
		if snap, ok := h.market.Snapshot(p.Symbol); ok {
			rate, basis := snap.FundingRate, snap.Basis()
			v.FundingRate, v.Basis = &rate, &basis
		}
	}
	return v
}

// ListOpen returns every non-CLOSED position.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	rows, err := h.positions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	out := make([]positionView, 0, len(rows))
	for _, p := range rows {
		out = append(out, h.view(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// Get returns one position, including a CLOSED one.
// GET /api/positions/{symbol}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	p, err := h.positions.Get(r.Context(), symbol)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no position for "+symbol)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "get position failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}
