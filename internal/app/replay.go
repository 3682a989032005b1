package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/basisbot/internal/config"
	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/feed"
	"github.com/alanyoungcy/basisbot/internal/lease"
	"github.com/alanyoungcy/basisbot/internal/ledger"
	"github.com/alanyoungcy/basisbot/internal/venue/sim"
)

// ReplayReport summarises one replay run.
type ReplayReport struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Symbols         []string  `json:"symbols"`
	Rows            int       `json:"rows"`
	Steps           int       `json:"steps"`
	InitialBalance  float64   `json:"initial_balance"`
	FinalEquity     float64   `json:"final_equity"`
	Cash            float64   `json:"cash"`
	FeesPaid        float64   `json:"fees_paid"`
	FundingReceived float64   `json:"funding_received"`
	RealizedPnL     float64   `json:"realized_pnl"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	Entries         int       `json:"entries"`
	Exits           int       `json:"exits"`
	LegRiskEvents   int       `json:"leg_risk_events"`
	OpenAtEnd       int       `json:"open_at_end"`
}

// ReplayMode runs the strategy over historical rows on a virtual clock,
// logs the report and uploads it when object storage is configured.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	rows, err := a.loadReplay(ctx, deps)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "starting replay", slog.Int("rows", len(rows)))

	report, err := runReplay(ctx, a.cfg, rows, deps.Positions, deps.Audit, a.logger)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "replay finished",
		slog.Time("start", report.Start),
		slog.Time("end", report.End),
		slog.Int("steps", report.Steps),
		slog.Float64("final_equity", report.FinalEquity),
		slog.Float64("funding_received", report.FundingReceived),
		slog.Float64("fees_paid", report.FeesPaid),
		slog.Float64("realized_pnl", report.RealizedPnL),
		slog.Float64("max_drawdown", report.MaxDrawdown),
		slog.Int("entries", report.Entries),
		slog.Int("exits", report.Exits),
	)

	if deps.Archiver != nil {
		name := fmt.Sprintf("%s-%s", a.cfg.Replay.ReportPrefix, report.Start.Format("20060102T150405Z"))
		key, err := deps.Archiver.PutReport(ctx, name, report)
		if err != nil {
			return fmt.Errorf("app: upload replay report: %w", err)
		}
		a.logger.InfoContext(ctx, "replay report uploaded", slog.String("key", key))
	}
	return nil
}

func (a *App) loadReplay(ctx context.Context, deps *Dependencies) ([]feed.ReplayRow, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch {
	case a.cfg.Replay.Path != "":
		r, err = os.Open(a.cfg.Replay.Path)
	case deps.BlobReader != nil:
		r, err = deps.BlobReader.Get(ctx, a.cfg.Replay.S3Key)
	default:
		return nil, fmt.Errorf("app: replay: no input configured")
	}
	if err != nil {
		return nil, fmt.Errorf("app: open replay input: %w", err)
	}
	defer r.Close()

	rows, err := feed.ReadReplay(r)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return rows, nil
}

// runReplay steps through rows grouped by timestamp. Each step applies the
// rows to the book, then runs one scan, one guardian cycle and the ledger
// settlement at that time.
func runReplay(
	ctx context.Context,
	cfg *config.Config,
	rows []feed.ReplayRow,
	positions domain.PositionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) (ReplayReport, error) {
	report := ReplayReport{Rows: len(rows), InitialBalance: cfg.Ledger.InitialBalance}
	if len(rows) == 0 {
		return report, fmt.Errorf("app: replay: no rows")
	}

	symbols := replaySymbols(rows)
	report.Symbols = symbols
	report.Start, report.End = rows[0].Time, rows[len(rows)-1].Time

	var now time.Time
	clock := func() time.Time { return now }

	book := feed.NewBook(fundingHistorySize(cfg))
	l := newLedger(cfg, book, logger, ledger.WithClock(clock))
	tally := newEventTally()

	c, err := buildCore(cfg, coreDeps{
		book: book,
		venue: &venueStack{
			placer:  newSimulator(cfg, book, l, logger),
			account: l,
			assets:  sim.Assets(symbols, cfg.Replay.SizeDecimals, cfg.Replay.PriceDecimals),
			ledger:  l,
		},
		positions: positions,
		audit:     audit,
		locks:     lease.NewLocalLocks(),
		events:    tally,
		clock:     clock,
	}, logger)
	if err != nil {
		return report, err
	}

	peak := cfg.Ledger.InitialBalance
	for i := 0; i < len(rows); {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		now = rows[i].Time
		for ; i < len(rows) && rows[i].Time.Equal(now); i++ {
			for _, ev := range rows[i].Events() {
				book.Apply(ev)
			}
		}

		if cfg.Scanner.Enabled {
			if _, err := c.runner.Step(ctx); err != nil {
				logger.WarnContext(ctx, "replay scan failed", slog.Time("at", now), slog.String("error", err.Error()))
			}
		}
		if err := c.guardian.CheckAll(ctx); err != nil {
			logger.WarnContext(ctx, "replay guardian cycle failed", slog.Time("at", now), slog.String("error", err.Error()))
		}
		l.SettleFunding(now)
		report.Steps++

		acct, _ := l.AccountState(ctx)
		peak = max(peak, acct.AccountValue)
		if peak > 0 {
			report.MaxDrawdown = max(report.MaxDrawdown, (peak-acct.AccountValue)/peak)
		}
	}

	sum := l.Summary()
	report.FinalEquity = sum.AccountValue
	report.Cash = sum.Cash
	report.FeesPaid = sum.FeesPaid
	report.FundingReceived = sum.FundingReceived
	report.RealizedPnL = sum.RealizedPnL
	report.Entries = tally.count(domain.PositionEventOpened) + tally.count(domain.PositionEventLegRisk)
	report.Exits = tally.count(domain.PositionEventClosed)
	report.LegRiskEvents = tally.count(domain.PositionEventLegRisk)

	open, err := positions.ListOpen(ctx)
	if err != nil {
		return report, fmt.Errorf("app: replay: list open: %w", err)
	}
	report.OpenAtEnd = len(open)
	return report, nil
}

func replaySymbols(rows []feed.ReplayRow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			out = append(out, r.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// eventTally counts position events by type. It stands in for the bus
// during replay.
type eventTally struct {
	mu     sync.Mutex
	counts map[domain.PositionEventType]int
}

func newEventTally() *eventTally {
	return &eventTally{counts: make(map[domain.PositionEventType]int)}
}

func (t *eventTally) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.PositionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	t.mu.Lock()
	t.counts[ev.Type]++
	t.mu.Unlock()
	return nil
}

func (*eventTally) StreamAppend(context.Context, string, []byte) error { return nil }

func (t *eventTally) count(typ domain.PositionEventType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[typ]
}
