// Package lease serialises entry, exit and rebalance work per symbol so the
// scanner can never open a position the guardian is closing.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// Leaser grants an exclusive, TTL-bounded lease per symbol on top of a
// domain.LockManager. Redis backs it in live mode; LocalLocks otherwise.
type Leaser struct {
	locks  domain.LockManager
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Leaser. ttl bounds how long a crashed holder can block a
// symbol.
func New(locks domain.LockManager, ttl time.Duration, logger *slog.Logger) *Leaser {
	return &Leaser{
		locks:  locks,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "lease")),
	}
}

func leaseKey(symbol string) string {
	return "lease:" + symbol
}

// Do runs fn while holding the lease for symbol. It returns
// domain.ErrLockHeld without running fn when another holder has it.
func (l *Leaser) Do(ctx context.Context, symbol string, fn func(ctx context.Context) error) error {
	unlock, err := l.locks.Acquire(ctx, leaseKey(symbol), l.ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			l.logger.Debug("lease busy", slog.String("symbol", symbol))
			return err
		}
		return fmt.Errorf("lease: acquire %s: %w", symbol, err)
	}
	defer unlock()
	return fn(ctx)
}
