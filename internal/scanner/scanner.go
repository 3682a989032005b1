// Package scanner selects entry candidates from live market state and hands
// them to the execution engine.
package scanner

import (
	"context"
	"sort"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// Scanner ranks entry candidates. Implementations must not place orders.
type Scanner interface {
	Scan(ctx context.Context) ([]domain.TargetSymbol, error)
}

// Criteria are the entry filters.
type Criteria struct {
	MinFundingRate  float64
	MaxEntrySpread  float64
	MinOpenInterest float64
}

// Snapshotter lists every tracked market. *feed.Book satisfies it.
type Snapshotter interface {
	Snapshots() []domain.MarketState
}

// ThresholdScanner returns symbols whose funding, entry spread and open
// interest pass Criteria, best funding first.
type ThresholdScanner struct {
	market   Snapshotter
	criteria Criteria
	allowed  map[string]bool
}

// NewThresholdScanner restricts candidates to symbols when non-empty.
func NewThresholdScanner(market Snapshotter, criteria Criteria, symbols []string) *ThresholdScanner {
	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[s] = true
	}
	return &ThresholdScanner{market: market, criteria: criteria, allowed: allowed}
}

// Scan implements Scanner.
func (s *ThresholdScanner) Scan(_ context.Context) ([]domain.TargetSymbol, error) {
	var out []domain.TargetSymbol
	for _, st := range s.market.Snapshots() {
		if len(s.allowed) > 0 && !s.allowed[st.Symbol] {
			continue
		}
		if !st.HasQuotes() {
			continue
		}
		if st.FundingRate <= 0 || st.FundingRate < s.criteria.MinFundingRate {
			continue
		}
		if s.criteria.MaxEntrySpread > 0 && st.EntrySpread() > s.criteria.MaxEntrySpread {
			continue
		}
		if st.OpenInterest < s.criteria.MinOpenInterest {
			continue
		}
		out = append(out, st.Target())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FundingRate > out[j].FundingRate })
	return out, nil
}
