package guardian

import (
	"math"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// DeleverageParams controls the margin-usage trigger.
type DeleverageParams struct {
	// Threshold is the margin usage ratio above which a reduction fires.
	Threshold float64
	// TargetFactor scales Threshold to the usage the reduction aims for.
	TargetFactor float64
	// MaxFraction caps one reduction as a fraction of the perp size.
	MaxFraction float64
}

// DeleverageSize returns how many units to close on both legs so margin
// usage falls back to Threshold*TargetFactor, or 0 when usage is within the
// band. The result is capped at MaxFraction of perpSize.
func DeleverageSize(acct domain.AccountState, p DeleverageParams, perpMid, perpSize float64) float64 {
	if acct.AccountValue <= 0 || perpMid <= 0 || perpSize <= 0 {
		return 0
	}
	if acct.MarginUsage() <= p.Threshold {
		return 0
	}
	target := p.Threshold * p.TargetFactor * acct.AccountValue
	excess := acct.MarginUsed - target
	if excess <= 0 {
		return 0
	}
	size := excess / perpMid
	if p.MaxFraction > 0 {
		size = math.Min(size, perpSize*p.MaxFraction)
	}
	return size
}
