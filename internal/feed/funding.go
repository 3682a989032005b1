package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// FundingQuote is one perp market's funding context as reported by the
// venue.
type FundingQuote struct {
	Coin         string
	Rate         float64
	OpenInterest float64
	MidPx        float64
}

// FundingSource fetches funding context for every listed perp.
type FundingSource interface {
	FundingQuotes(ctx context.Context) ([]FundingQuote, error)
}

// FundingPoller refreshes funding rate and open interest on a fixed interval
// and appends each observation to the symbol's funding history.
type FundingPoller struct {
	source FundingSource
	routes map[string]string
	sink   EventSink
	now    func() time.Time
	logger *slog.Logger
}

// NewFundingPoller polls source for the perp of each symbol in assets.
func NewFundingPoller(source FundingSource, assets []domain.AssetMeta, sink EventSink, logger *slog.Logger) *FundingPoller {
	routes := make(map[string]string, len(assets))
	for _, a := range assets {
		routes[a.PerpName] = a.Symbol
	}
	return &FundingPoller{
		source: source,
		routes: routes,
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "funding_poller")),
	}
}

// Poll fetches once and applies the tracked symbols. It returns how many
// symbols were updated.
func (p *FundingPoller) Poll(ctx context.Context) (int, error) {
	quotes, err := p.source.FundingQuotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("feed: funding poll: %w", err)
	}
	now := p.now()
	n := 0
	for _, q := range quotes {
		symbol, ok := p.routes[q.Coin]
		if !ok {
			continue
		}
		p.sink.Apply(domain.MarketEvent{
			Kind:         domain.EventFunding,
			Symbol:       symbol,
			Mid:          q.MidPx,
			FundingRate:  q.Rate,
			OpenInterest: q.OpenInterest,
			Time:         now,
		})
		n++
	}
	return n, nil
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *FundingPoller) Run(ctx context.Context, interval time.Duration) error {
	p.poll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *FundingPoller) poll(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "funding refresh failed", slog.String("error", err.Error()))
		return
	}
	p.logger.DebugContext(ctx, "funding refreshed", slog.Int("symbols", n))
}
