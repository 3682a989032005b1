package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// PositionStore keeps one row per symbol. Every write locks the current row
// and checks the state transition inside the same transaction.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore on pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `symbol, spot_size, perp_size, entry_price, accumulated_funding, state, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p     domain.Position
		state string
	)
	if err := row.Scan(&p.Symbol, &p.SpotSize, &p.PerpSize, &p.EntryPrice, &p.AccumulatedFunding, &state, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	st, err := domain.ParsePositionState(state)
	if err != nil {
		return domain.Position{}, err
	}
	p.State = st
	return p, nil
}

// Upsert writes pos if its state is a legal successor of the stored one.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: begin: %w", pos.Symbol, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev *domain.Position
	cur, err := scanPosition(tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE symbol = $1 FOR UPDATE`, pos.Symbol))
	switch {
	case err == nil:
		prev = &cur
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("postgres: upsert position %s: load: %w", pos.Symbol, err)
	}
	if err := domain.ValidateTransition(prev, pos); err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Symbol, err)
	}

	const q = `
		INSERT INTO positions (` + positionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (symbol) DO UPDATE SET
			spot_size = EXCLUDED.spot_size,
			perp_size = EXCLUDED.perp_size,
			entry_price = EXCLUDED.entry_price,
			accumulated_funding = EXCLUDED.accumulated_funding,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`
	var updated any
	if !pos.UpdatedAt.IsZero() {
		updated = pos.UpdatedAt
	}
	if _, err := tx.Exec(ctx, q,
		pos.Symbol, pos.SpotSize, pos.PerpSize, pos.EntryPrice, pos.AccumulatedFunding, string(pos.State), updated,
	); err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Symbol, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert position %s: commit: %w", pos.Symbol, err)
	}
	return nil
}

// Get returns the row for symbol or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, symbol string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", symbol, err)
	}
	return p, nil
}

// ListOpen returns all non-CLOSED rows ordered by symbol.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE state <> 'CLOSED' ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
