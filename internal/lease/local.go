package lease

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// LocalLocks is an in-process domain.LockManager for single-process modes.
type LocalLocks struct {
	mu    sync.Mutex
	held  map[string]localLock
	now   func() time.Time
	token uint64
}

type localLock struct {
	token   uint64
	expires time.Time
}

// NewLocalLocks creates an empty LocalLocks.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]localLock), now: time.Now}
}

// Acquire takes key until unlock is called or ttl elapses.
func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.token++
	tok := l.token
	l.held[key] = localLock{token: tok, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lock that expired and was re-acquired belongs to someone else.
			if cur, ok := l.held[key]; ok && cur.token == tok {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LocalLocks)(nil)
