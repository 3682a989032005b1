package domain

import "time"

// MarketEventKind tags which part of a MarketState an event updates.
type MarketEventKind int

const (
	EventSpotBook MarketEventKind = iota + 1
	EventPerpBook
	EventFunding
)

func (k MarketEventKind) String() string {
	switch k {
	case EventSpotBook:
		return "spot_book"
	case EventPerpBook:
		return "perp_book"
	case EventFunding:
		return "funding"
	default:
		return "unknown"
	}
}

// MarketEvent is the single normalized update applied to a MarketState.
// Book events carry Bid/Ask; funding events carry FundingRate,
// OpenInterest and optionally the venue mid.
type MarketEvent struct {
	Kind         MarketEventKind
	Symbol       string
	Bid          float64
	Ask          float64
	Mid          float64
	FundingRate  float64
	OpenInterest float64
	Time         time.Time
}

// MarketState is a point-in-time snapshot of both markets of a symbol.
type MarketState struct {
	Symbol         string
	SpotBid        float64
	SpotAsk        float64
	SpotMid        float64
	PerpBid        float64
	PerpAsk        float64
	PerpMid        float64
	FundingRate    float64
	OpenInterest   float64
	FundingHistory []float64
	UpdatedAt      time.Time
}

// HasQuotes reports whether both books have a two-sided quote.
func (m MarketState) HasQuotes() bool {
	return m.SpotBid > 0 && m.SpotAsk > 0 && m.PerpBid > 0 && m.PerpAsk > 0
}

// Basis is (perp mid - spot mid) / spot mid. Negative basis is backwardation.
func (m MarketState) Basis() float64 {
	if m.SpotMid <= 0 || m.PerpMid <= 0 {
		return 0
	}
	return (m.PerpMid - m.SpotMid) / m.SpotMid
}

// EntrySpread is the cost of crossing into the pair: buying spot at the ask
// against shorting perp at the bid, relative to the spot ask.
func (m MarketState) EntrySpread() float64 {
	if m.SpotAsk <= 0 {
		return 0
	}
	return (m.SpotAsk - m.PerpBid) / m.SpotAsk
}

// MovingAverageFunding is the mean of the retained funding history, falling
// back to the instantaneous rate when no history exists.
func (m MarketState) MovingAverageFunding() float64 {
	if len(m.FundingHistory) == 0 {
		return m.FundingRate
	}
	var sum float64
	for _, r := range m.FundingHistory {
		sum += r
	}
	return sum / float64(len(m.FundingHistory))
}

// Mark returns the mid used to value a leg.
func (m MarketState) Mark(leg Leg) float64 {
	if leg == LegSpot {
		return m.SpotMid
	}
	return m.PerpMid
}

// Target builds the scan output for this snapshot.
func (m MarketState) Target() TargetSymbol {
	return TargetSymbol{
		Symbol:       m.Symbol,
		FundingRate:  m.FundingRate,
		SpotBid:      m.SpotBid,
		SpotAsk:      m.SpotAsk,
		PerpBid:      m.PerpBid,
		PerpAsk:      m.PerpAsk,
		Spread:       m.EntrySpread(),
		OpenInterest: m.OpenInterest,
	}
}

// TargetSymbol is an entry candidate produced by a scanner. It is never
// persisted.
type TargetSymbol struct {
	Symbol       string
	FundingRate  float64
	SpotBid      float64
	SpotAsk      float64
	PerpBid      float64
	PerpAsk      float64
	Spread       float64
	OpenInterest float64
}

// MarketReader exposes point-in-time snapshots to the engine and guardian.
type MarketReader interface {
	Snapshot(symbol string) (MarketState, bool)
}
