package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/basisbot/internal/config"
	"github.com/alanyoungcy/basisbot/internal/crypto"
	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/executor"
	"github.com/alanyoungcy/basisbot/internal/feed"
	"github.com/alanyoungcy/basisbot/internal/guardian"
	"github.com/alanyoungcy/basisbot/internal/lease"
	"github.com/alanyoungcy/basisbot/internal/ledger"
	"github.com/alanyoungcy/basisbot/internal/scanner"
	"github.com/alanyoungcy/basisbot/internal/server"
	"github.com/alanyoungcy/basisbot/internal/server/handler"
	"github.com/alanyoungcy/basisbot/internal/server/ws"
	"github.com/alanyoungcy/basisbot/internal/venue"
	"github.com/alanyoungcy/basisbot/internal/venue/hyperliquid"
	"github.com/alanyoungcy/basisbot/internal/venue/sim"
)

// archiveInterval is how often the previous day's audit log upload is
// attempted. Days already archived are skipped.
const archiveInterval = time.Hour

// venueStack is what the engine trades against: the live exchange, or the
// simulator and virtual ledger.
type venueStack struct {
	placer  executor.OrderPlacer
	account domain.AccountReader
	assets  domain.AssetBook
	funding feed.FundingSource
	ledger  *ledger.Ledger // nil in live mode
}

// core is the engine, guardian and entry runner bound to one venue.
type core struct {
	engine   *executor.Engine
	guardian *guardian.Guardian
	runner   *scanner.Runner
}

// buildVenue connects to Hyperliquid. Live mode signs orders with the
// configured key; dryrun reads metadata and funding but fills against the
// simulator.
func (a *App) buildVenue(ctx context.Context, deps *Dependencies, book *feed.Book) (*venueStack, error) {
	hlCfg := hyperliquid.Config{
		BaseURL:        a.cfg.Venue.BaseURL,
		AccountAddress: a.cfg.Venue.AccountAddress,
		VaultAddress:   a.cfg.Venue.VaultAddress,
	}
	symbols := a.cfg.Scanner.Symbols

	if a.cfg.Mode == "live" {
		wallet, err := crypto.LoadWallet(crypto.KeySource{
			RawHex:   a.cfg.Venue.PrivateKey,
			FilePath: a.cfg.Venue.EncryptedKeyPath,
			Password: a.cfg.Venue.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: load wallet: %w", err)
		}
		client, err := hyperliquid.New(ctx, hlCfg, &wallet, symbols, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: hyperliquid: %w", err)
		}
		var placer executor.OrderPlacer = client
		if deps.Limiter != nil && a.cfg.Venue.OrdersPerSecond > 0 {
			placer = venue.NewThrottled(client, deps.Limiter, "orders", a.cfg.Venue.OrdersPerSecond, time.Second)
		}
		a.logger.InfoContext(ctx, "live trading enabled", slog.String("address", wallet.Address))
		return &venueStack{placer: placer, account: client, assets: client.Assets(), funding: client}, nil
	}

	client, err := hyperliquid.New(ctx, hlCfg, nil, symbols, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: hyperliquid: %w", err)
	}
	l := newLedger(a.cfg, book, a.logger)
	return &venueStack{
		placer:  newSimulator(a.cfg, book, l, a.logger),
		account: l,
		assets:  client.Assets(),
		funding: client,
		ledger:  l,
	}, nil
}

func newLedger(cfg *config.Config, book *feed.Book, logger *slog.Logger, opts ...ledger.Option) *ledger.Ledger {
	return ledger.New(ledger.Config{
		InitialBalance:   cfg.Ledger.InitialBalance,
		MaintenanceRatio: cfg.Ledger.MaintenanceRatio,
	}, book, logger, opts...)
}

func newSimulator(cfg *config.Config, book *feed.Book, l *ledger.Ledger, logger *slog.Logger) *sim.Simulator {
	return sim.New(sim.Config{
		PriceImpact: cfg.Execution.SimPriceImpact,
		FeeRate:     cfg.Execution.SimFeeRate,
	}, book, l, logger)
}

// coreDeps are the per-mode collaborators of buildCore. clock is nil for
// wall-clock modes.
type coreDeps struct {
	book      *feed.Book
	venue     *venueStack
	positions domain.PositionStore
	audit     domain.AuditStore
	locks     domain.LockManager
	events    executor.EventSink
	alerter   guardian.Alerter
	clock     func() time.Time
}

// fundingHistorySize keeps enough funding observations for the configured
// exit policy to fire. buildCore reports a bad policy.
func fundingHistorySize(cfg *config.Config) int {
	g := cfg.Guardian
	policy, err := guardian.NewExitPolicy(g.ExitPolicy, g.NegativeCount, g.MAWindow, g.MAThreshold)
	if err != nil {
		return cfg.Feed.HistorySize
	}
	return guardian.HistorySize(policy, cfg.Feed.HistorySize)
}

func buildCore(cfg *config.Config, d coreDeps, logger *slog.Logger) (*core, error) {
	engineOpts := []executor.Option{executor.WithAudit(d.audit)}
	var guardOpts []guardian.Option
	if d.events != nil {
		engineOpts = append(engineOpts, executor.WithEventSink(d.events))
	}
	if d.alerter != nil {
		engineOpts = append(engineOpts, executor.WithAlerter(d.alerter))
		guardOpts = append(guardOpts, guardian.WithAlerter(d.alerter))
	}
	if d.clock != nil {
		engineOpts = append(engineOpts,
			executor.WithClock(d.clock),
			executor.WithSleep(func(context.Context, time.Duration) error { return nil }),
		)
		guardOpts = append(guardOpts, guardian.WithClock(d.clock))
	}

	engine := executor.NewEngine(executor.Config{
		SlippageTolerance: cfg.Execution.SlippageTolerance,
		MaxRetries:        cfg.Execution.MaxRetries,
		BaseBackoff:       cfg.Execution.BaseBackoff.Duration,
		MaxBackoff:        cfg.Execution.MaxBackoff.Duration,
	}, d.venue.placer, d.positions, d.book, d.venue.assets, logger, engineOpts...)

	policy, err := guardian.NewExitPolicy(cfg.Guardian.ExitPolicy, cfg.Guardian.NegativeCount, cfg.Guardian.MAWindow, cfg.Guardian.MAThreshold)
	if err != nil {
		return nil, fmt.Errorf("app: exit policy: %w", err)
	}
	leaser := lease.New(d.locks, cfg.Execution.LeaseTTL.Duration, logger)
	g := guardian.New(guardian.Config{
		Interval:               cfg.Guardian.Interval.Duration,
		Policy:                 policy,
		BackwardationThreshold: cfg.Guardian.BackwardationThreshold,
		Deleverage: guardian.DeleverageParams{
			Threshold:    cfg.Guardian.MarginUsageThreshold,
			TargetFactor: cfg.Guardian.DeleverageTargetFactor,
			MaxFraction:  cfg.Guardian.MaxReduceFraction,
		},
		StuckAlertThreshold: cfg.Guardian.StuckAlertThreshold,
	}, d.positions, d.book, d.venue.account, d.venue.assets, engine, leaser, logger, guardOpts...)

	runner := scanner.NewRunner(scanner.RunnerConfig{
		Interval:          cfg.Scanner.Interval.Duration,
		BudgetPerPosition: cfg.Scanner.BudgetPerPosition,
		MaxPositions:      cfg.Scanner.MaxPositions,
		Cooldown:          cfg.Scanner.Cooldown.Duration,
	}, scanner.NewThresholdScanner(d.book, scanner.Criteria{
		MinFundingRate:  cfg.Scanner.MinFundingRate,
		MaxEntrySpread:  cfg.Scanner.MaxEntrySpread,
		MinOpenInterest: cfg.Scanner.MinOpenInterest,
	}, cfg.Scanner.Symbols), engine, d.positions, leaser, logger)
	if d.clock != nil {
		runner.SetClock(d.clock)
	}
	return &core{engine: engine, guardian: g, runner: runner}, nil
}

// StreamingMode runs live or dryrun trading on streamed market data: the
// book feed and funding poller keep the book current while the guardian,
// scanner, ledger settlement, archiver and status server run alongside.
func (a *App) StreamingMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting streaming mode", slog.String("mode", a.cfg.Mode))

	book := feed.NewBook(fundingHistorySize(a.cfg))
	v, err := a.buildVenue(ctx, deps, book)
	if err != nil {
		return err
	}

	var (
		hub    *ws.Hub
		events executor.EventSink
	)
	if deps.Bus != nil {
		events = deps.Bus
	}
	if a.cfg.Server.Enabled {
		var sub ws.Subscriber
		if deps.Bus != nil {
			sub = deps.Bus
		}
		hub = ws.NewHub(sub, []string{domain.PositionEventsChannel}, ws.Config{Mode: a.cfg.Mode}, a.logger)
		if deps.Bus == nil {
			events = hubSink{hub: hub}
		}
	}

	c, err := buildCore(a.cfg, coreDeps{
		book:      book,
		venue:     v,
		positions: deps.Positions,
		audit:     deps.Audit,
		locks:     deps.Locks,
		events:    events,
		alerter:   deps.Notifier,
	}, a.logger)
	if err != nil {
		return err
	}

	assets := hyperliquid.AssetList(v.assets)
	g, ctx := errgroup.WithContext(ctx)

	bookFeed := feed.NewHyperliquidBookFeed(a.cfg.Venue.WsURL, assets, book, a.logger)
	g.Go(func() error { return bookFeed.Run(ctx) })

	poller := feed.NewFundingPoller(v.funding, assets, book, a.logger)
	g.Go(func() error { return poller.Run(ctx, a.cfg.Feed.FundingInterval.Duration) })

	g.Go(func() error { return c.guardian.Run(ctx) })

	if a.cfg.Scanner.Enabled {
		g.Go(func() error { return c.runner.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "scanner disabled, guarding existing positions only")
	}

	if v.ledger != nil {
		g.Go(func() error { return v.ledger.Run(ctx, a.cfg.Ledger.SettleInterval.Duration) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx, archiveInterval) })
	}

	if hub != nil {
		srv := a.buildServer(deps, book, v, hub)
		g.Go(func() error { return hub.Run(ctx) })
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

func (a *App) buildServer(deps *Dependencies, book *feed.Book, v *venueStack, hub *ws.Hub) *server.Server {
	var (
		summary handler.LedgerSummarizer
		tail    handler.StreamTailer
	)
	if v.ledger != nil {
		summary = v.ledger
	}
	if deps.Bus != nil {
		tail = deps.Bus
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		Limiter:     deps.Limiter,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(deps.Positions, book, a.logger),
		Account:   handler.NewAccountHandler(v.account, summary, a.logger),
		Activity:  handler.NewActivityHandler(deps.Audit, tail, a.logger),
	}, hub, a.logger)
}

// hubSink feeds engine events straight to WebSocket clients when no Redis
// bus is configured. There is no durable stream in that case.
type hubSink struct{ hub *ws.Hub }

func (s hubSink) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.hub.Publish(ctx, channel, payload)
}

func (hubSink) StreamAppend(context.Context, string, []byte) error { return nil }
