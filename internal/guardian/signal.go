package guardian

import (
	"fmt"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// Exit policy names accepted by NewExitPolicy.
const (
	PolicyConsecutiveNegative = "consecutive_negative"
	PolicyMovingAverage       = "moving_average"
)

// ExitPolicy decides from the funding history whether carry has turned
// unfavourable.
type ExitPolicy interface {
	Name() string
	ShouldExit(state domain.MarketState) bool
	// Observations is how many funding observations ShouldExit needs.
	Observations() int
}

// HistorySize returns the funding history a market book must keep for p to
// ever fire: configured, raised to p's requirement.
func HistorySize(p ExitPolicy, configured int) int {
	return max(configured, p.Observations())
}

// NewExitPolicy builds the configured policy.
func NewExitPolicy(name string, negativeCount, window int, threshold float64) (ExitPolicy, error) {
	switch name {
	case PolicyConsecutiveNegative, "":
		if negativeCount <= 0 {
			return nil, fmt.Errorf("guardian: negative_count must be positive, got %d", negativeCount)
		}
		return ConsecutiveNegative{N: negativeCount}, nil
	case PolicyMovingAverage:
		if window <= 0 {
			return nil, fmt.Errorf("guardian: ma_window must be positive, got %d", window)
		}
		return MovingAverage{Window: window, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("guardian: unknown exit policy %q", name)
	}
}

// ConsecutiveNegative exits after the last N funding observations were all
// negative.
type ConsecutiveNegative struct {
	N int
}

func (p ConsecutiveNegative) Name() string { return PolicyConsecutiveNegative }

func (p ConsecutiveNegative) Observations() int { return p.N }

func (p ConsecutiveNegative) ShouldExit(state domain.MarketState) bool {
	h := state.FundingHistory
	if len(h) < p.N {
		return false
	}
	for _, r := range h[len(h)-p.N:] {
		if r >= 0 {
			return false
		}
	}
	return true
}

// MovingAverage exits when the mean of the last Window observations falls
// below Threshold. It stays silent until the window is full.
type MovingAverage struct {
	Window    int
	Threshold float64
}

func (p MovingAverage) Name() string { return PolicyMovingAverage }

func (p MovingAverage) Observations() int { return p.Window }

func (p MovingAverage) ShouldExit(state domain.MarketState) bool {
	h := state.FundingHistory
	if len(h) < p.Window {
		return false
	}
	recent := domain.MarketState{FundingHistory: h[len(h)-p.Window:]}
	return recent.MovingAverageFunding() < p.Threshold
}

// Backwardated reports whether the perp trades below spot by more than
// threshold, relative to spot.
func Backwardated(state domain.MarketState, threshold float64) bool {
	if state.SpotMid <= 0 || state.PerpMid <= 0 {
		return false
	}
	return state.Basis() < -threshold
}
