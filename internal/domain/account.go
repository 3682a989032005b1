package domain

import (
	"context"
	"time"
)

// AccountState is the equity and margin view the guardian uses for its
// deleverage decision. Live and simulated sources fill it identically.
type AccountState struct {
	AccountValue float64
	MarginUsed   float64
	AsOf         time.Time
}

// MarginUsage is MarginUsed / AccountValue, or 0 when equity is not
// positive.
func (a AccountState) MarginUsage() float64 {
	if a.AccountValue <= 0 {
		return 0
	}
	return a.MarginUsed / a.AccountValue
}

// AccountReader returns the current account state.
type AccountReader interface {
	AccountState(ctx context.Context) (AccountState, error)
}
