package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")

	// ErrTransientVenue marks a network or throttling failure that may be
	// retried with backoff.
	ErrTransientVenue = errors.New("transient venue error")
	// ErrRejectedOrder means the venue declined the order; the leg is
	// treated as a zero fill.
	ErrRejectedOrder = errors.New("order rejected")
	// ErrQuantityTooSmall aborts an entry before any order is sent.
	ErrQuantityTooSmall = errors.New("quantity below minimum tradable size")
	// ErrIllegalTransition is returned by position stores when a write
	// would move a position along an edge that the state machine forbids.
	ErrIllegalTransition = errors.New("illegal position state transition")
	// ErrStuckPosition tags operator alerts for positions that repeatedly
	// failed to close.
	ErrStuckPosition = errors.New("position stuck")
)
