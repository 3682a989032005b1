package domain

import (
	"fmt"
	"math"
	"time"
)

// PositionState is the lifecycle state of a hedged position.
type PositionState string

const (
	PositionOpen           PositionState = "OPEN"
	PositionRebalancing    PositionState = "REBALANCING"
	PositionClosingPending PositionState = "CLOSING_PENDING"
	PositionClosed         PositionState = "CLOSED"
)

// positionTransitions lists the legal successors of each state. A write that
// keeps the state unchanged is always legal and is not listed here.
var positionTransitions = map[PositionState][]PositionState{
	PositionOpen:           {PositionRebalancing, PositionClosingPending},
	PositionRebalancing:    {PositionOpen, PositionClosingPending},
	PositionClosingPending: {PositionOpen, PositionClosed},
	// A new entry on a previously closed symbol reuses the row.
	PositionClosed: {PositionOpen},
}

// Valid reports whether s is one of the four known states.
func (s PositionState) Valid() bool {
	_, ok := positionTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s PositionState) CanTransitionTo(next PositionState) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, candidate := range positionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParsePositionState converts a persisted string back into a PositionState.
func ParsePositionState(s string) (PositionState, error) {
	st := PositionState(s)
	if !st.Valid() {
		return "", fmt.Errorf("domain: unknown position state %q", s)
	}
	return st, nil
}

// ValidateTransition checks a write of next against the currently stored
// row. prev is nil when the symbol has never been stored, in which case only
// OPEN is accepted.
func ValidateTransition(prev *Position, next Position) error {
	if !next.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, next.State)
	}
	if prev == nil {
		if next.State != PositionOpen {
			return fmt.Errorf("%w: new position %s must start OPEN, got %s",
				ErrIllegalTransition, next.Symbol, next.State)
		}
		return nil
	}
	if !prev.State.CanTransitionTo(next.State) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, next.Symbol, prev.State, next.State)
	}
	return nil
}

// Position is the persisted record of a paired long-spot / short-perp
// exposure. There is at most one row per symbol.
type Position struct {
	Symbol             string
	SpotSize           float64
	PerpSize           float64
	EntryPrice         float64
	AccumulatedFunding float64
	State              PositionState
	UpdatedAt          time.Time
}

// Imbalance is spot size minus perp size. Non-zero values denote leg risk.
func (p Position) Imbalance() float64 {
	return p.SpotSize - p.PerpSize
}

// IsFlat reports whether both legs are fully closed.
func (p Position) IsFlat() bool {
	return p.SpotSize <= 0 && p.PerpSize <= 0
}

// IsTerminal reports whether the position is CLOSED.
func (p Position) IsTerminal() bool {
	return p.State == PositionClosed
}

// PerpNotional values the short leg at the given price.
func (p Position) PerpNotional(price float64) float64 {
	return math.Abs(p.PerpSize) * price
}
