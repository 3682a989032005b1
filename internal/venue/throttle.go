// Package venue holds venue-agnostic order plumbing shared by the live and
// simulated order placers.
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// Placer submits a single order. It matches executor.OrderPlacer.
type Placer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// Throttled caps order submissions per window through a shared
// domain.RateLimiter. A throttled order fails as a transient venue error so
// the engine backs off and retries it.
type Throttled struct {
	next    Placer
	limiter domain.RateLimiter
	key     string
	limit   int
	window  time.Duration
}

// NewThrottled allows at most limit orders per window under key.
func NewThrottled(next Placer, limiter domain.RateLimiter, key string, limit int, window time.Duration) *Throttled {
	return &Throttled{next: next, limiter: limiter, key: key, limit: limit, window: window}
}

// PlaceOrder implements Placer.
func (t *Throttled) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	ok, err := t.limiter.Allow(ctx, t.key, t.limit, t.window)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("venue: rate limiter: %w: %v", domain.ErrTransientVenue, err)
	}
	if !ok {
		return domain.Fill{}, fmt.Errorf("venue: %w: %w", domain.ErrTransientVenue, domain.ErrRateLimited)
	}
	return t.next.PlaceOrder(ctx, req)
}

// LookupFill forwards to the wrapped placer when it can reconcile fills.
func (t *Throttled) LookupFill(ctx context.Context, clientOrderID string) (domain.Fill, bool, error) {
	rec, ok := t.next.(interface {
		LookupFill(ctx context.Context, clientOrderID string) (domain.Fill, bool, error)
	})
	if !ok {
		return domain.Fill{}, false, nil
	}
	return rec.LookupFill(ctx, clientOrderID)
}
