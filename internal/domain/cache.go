package domain

import (
	"context"
	"time"
)

// RateLimiter answers whether key may take one more action in the window.
// The venue throttle and the API middleware share it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out exclusive, expiring locks. Symbol leases are built
// on it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a capped event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans position events out to live subscribers and keeps a short
// history for the status API.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}
