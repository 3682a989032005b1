package domain

import "time"

// PositionEventType names a position lifecycle change published on the bus.
type PositionEventType string

const (
	PositionEventOpened     PositionEventType = "position.opened"
	PositionEventLegRisk    PositionEventType = "position.leg_risk"
	PositionEventReduced    PositionEventType = "position.reduced"
	PositionEventClosed     PositionEventType = "position.closed"
	PositionEventExitFailed PositionEventType = "position.exit_failed"
)

// PositionEventsChannel is the pub/sub channel and stream name for
// PositionEvent payloads.
const PositionEventsChannel = "positions"

// PositionEvent is the JSON payload published for lifecycle changes.
type PositionEvent struct {
	Type       PositionEventType `json:"type"`
	Symbol     string            `json:"symbol"`
	SpotSize   float64           `json:"spot_size"`
	PerpSize   float64           `json:"perp_size"`
	EntryPrice float64           `json:"entry_price"`
	State      PositionState     `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	Time       time.Time         `json:"time"`
}

// NewPositionEvent snapshots pos into an event.
func NewPositionEvent(typ PositionEventType, pos Position, reason string, at time.Time) PositionEvent {
	return PositionEvent{
		Type:       typ,
		Symbol:     pos.Symbol,
		SpotSize:   pos.SpotSize,
		PerpSize:   pos.PerpSize,
		EntryPrice: pos.EntryPrice,
		State:      pos.State,
		Reason:     reason,
		Time:       at,
	}
}
