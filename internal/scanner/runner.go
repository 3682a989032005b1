package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// Entrant opens positions. *executor.Engine satisfies it.
type Entrant interface {
	ExecuteEntry(ctx context.Context, target domain.TargetSymbol, budget float64) *domain.Position
}

// Leaser serialises work per symbol.
type Leaser interface {
	Do(ctx context.Context, symbol string, fn func(ctx context.Context) error) error
}

// RunnerConfig tunes the entry loop.
type RunnerConfig struct {
	Interval          time.Duration
	BudgetPerPosition float64
	MaxPositions      int
	Cooldown          time.Duration
}

// Runner periodically scans and enters the best candidates while the number
// of open positions stays under MaxPositions.
type Runner struct {
	cfg       RunnerConfig
	scanner   Scanner
	entrant   Entrant
	positions domain.PositionStore
	leaser    Leaser
	cooldown  *Cooldown
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, sc Scanner, entrant Entrant, positions domain.PositionStore, leaser Leaser, logger *slog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Runner{
		cfg:       cfg,
		scanner:   sc,
		entrant:   entrant,
		positions: positions,
		leaser:    leaser,
		cooldown:  NewCooldown(cfg.Cooldown),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// SetClock overrides time.Now. Replay drives the runner on the row clock.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run scans on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scanner started", slog.Duration("interval", r.cfg.Interval))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Step(ctx); err != nil {
				r.logger.ErrorContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
			}
			r.cooldown.Cleanup(r.now())
		}
	}
}

// Step runs one scan and returns the positions it opened.
func (r *Runner) Step(ctx context.Context) ([]domain.Position, error) {
	open, err := r.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: list open: %w", err)
	}
	slots := r.cfg.MaxPositions - len(open)
	if slots <= 0 {
		return nil, nil
	}
	held := make(map[string]bool, len(open))
	for _, p := range open {
		held[p.Symbol] = true
	}

	targets, err := r.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: scan: %w", err)
	}

	var opened []domain.Position
	for _, t := range targets {
		if slots <= 0 || ctx.Err() != nil {
			break
		}
		now := r.now()
		if held[t.Symbol] || r.cooldown.Active(t.Symbol, now) {
			continue
		}
		r.cooldown.Mark(t.Symbol, now)

		var pos *domain.Position
		err := r.leaser.Do(ctx, t.Symbol, func(ctx context.Context) error {
			pos = r.entrant.ExecuteEntry(ctx, t, r.cfg.BudgetPerPosition)
			return nil
		})
		if errors.Is(err, domain.ErrLockHeld) {
			continue
		}
		if err != nil {
			r.logger.WarnContext(ctx, "entry lease failed", slog.String("symbol", t.Symbol), slog.String("error", err.Error()))
			continue
		}
		if pos != nil {
			opened = append(opened, *pos)
			slots--
		}
	}
	return opened, nil
}
