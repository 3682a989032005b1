// Package feed maintains live MarketState per symbol. Spot books, perp books
// and funding observations all arrive as domain.MarketEvent and are applied
// through Book.Apply, the only mutation path.
package feed

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// DefaultHistorySize bounds the retained funding observations per symbol.
const DefaultHistorySize = 24

// Book holds the latest MarketState for each symbol. It implements
// domain.MarketReader and is safe for concurrent use.
type Book struct {
	mu          sync.RWMutex
	states      map[string]*domain.MarketState
	historySize int
}

// NewBook creates an empty Book retaining historySize funding observations.
func NewBook(historySize int) *Book {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Book{
		states:      make(map[string]*domain.MarketState),
		historySize: historySize,
	}
}

// Apply folds one event into the symbol's state.
func (b *Book) Apply(ev domain.MarketEvent) {
	if ev.Symbol == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[ev.Symbol]
	if !ok {
		st = &domain.MarketState{Symbol: ev.Symbol}
		b.states[ev.Symbol] = st
	}

	switch ev.Kind {
	case domain.EventSpotBook:
		st.SpotBid, st.SpotAsk = ev.Bid, ev.Ask
		st.SpotMid = midOf(ev)
	case domain.EventPerpBook:
		st.PerpBid, st.PerpAsk = ev.Bid, ev.Ask
		st.PerpMid = midOf(ev)
	case domain.EventFunding:
		st.FundingRate = ev.FundingRate
		if ev.OpenInterest > 0 {
			st.OpenInterest = ev.OpenInterest
		}
		st.FundingHistory = append(st.FundingHistory, ev.FundingRate)
		if n := len(st.FundingHistory); n > b.historySize {
			st.FundingHistory = append([]float64(nil), st.FundingHistory[n-b.historySize:]...)
		}
	default:
		return
	}
	if ev.Time.After(st.UpdatedAt) {
		st.UpdatedAt = ev.Time
	}
}

func midOf(ev domain.MarketEvent) float64 {
	if ev.Mid > 0 {
		return ev.Mid
	}
	if ev.Bid > 0 && ev.Ask > 0 {
		return (ev.Bid + ev.Ask) / 2
	}
	return 0
}

// Snapshot returns a copy of the symbol's state.
func (b *Book) Snapshot(symbol string) (domain.MarketState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.states[symbol]
	if !ok {
		return domain.MarketState{}, false
	}
	out := *st
	out.FundingHistory = append([]float64(nil), st.FundingHistory...)
	return out, true
}

// Snapshots returns copies of every tracked state ordered by symbol.
func (b *Book) Snapshots() []domain.MarketState {
	b.mu.RLock()
	symbols := make([]string, 0, len(b.states))
	for s := range b.states {
		symbols = append(symbols, s)
	}
	b.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]domain.MarketState, 0, len(symbols))
	for _, s := range symbols {
		if st, ok := b.Snapshot(s); ok {
			out = append(out, st)
		}
	}
	return out
}

var _ domain.MarketReader = (*Book)(nil)
