package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists one position row per symbol. Implementations must
// reject writes that fail ValidateTransition against the stored row.
type PositionStore interface {
	// Upsert writes pos with last-write-wins semantics.
	Upsert(ctx context.Context, pos Position) error
	// Get returns ErrNotFound when the symbol has no row.
	Get(ctx context.Context, symbol string) (Position, error)
	// ListOpen returns every row whose state is not CLOSED.
	ListOpen(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
