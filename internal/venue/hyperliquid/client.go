// Package hyperliquid adapts the Hyperliquid SDK to the engine's order
// placer, the guardian's account reader and the feed's funding source.
package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	hl "github.com/sonirico/go-hyperliquid"

	"github.com/alanyoungcy/basisbot/internal/crypto"
	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/feed"
)

const priceSigFigs = 5

// Config holds endpoints and account routing.
type Config struct {
	BaseURL        string
	AccountAddress string
	VaultAddress   string
}

// Client talks to the Hyperliquid REST API. Without a wallet it is read-only
// and PlaceOrder fails.
type Client struct {
	info     *hl.Info
	exchange *hl.Exchange
	spotMeta *hl.SpotMeta
	assets   domain.AssetBook
	address  string
	logger   *slog.Logger
}

// New loads perp and spot metadata for symbols and, when wallet is non-nil,
// prepares a signing exchange client.
func New(ctx context.Context, cfg Config, wallet *crypto.Wallet, symbols []string, logger *slog.Logger) (*Client, error) {
	info := hl.NewInfo(ctx, cfg.BaseURL, true, nil, nil)

	meta, err := info.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: perp meta: %w", err)
	}
	spotMeta, err := info.SpotMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: spot meta: %w", err)
	}

	perps := make([]perpInfo, len(meta.Universe))
	for i, u := range meta.Universe {
		perps[i] = perpInfo{name: u.Name, szDecimals: u.SzDecimals}
	}
	pairs := make([]spotPair, 0, len(spotMeta.Universe))
	for _, u := range spotMeta.Universe {
		if len(u.Tokens) < 2 {
			continue
		}
		pairs = append(pairs, spotPair{name: u.Name, index: u.Index, base: u.Tokens[0], quote: u.Tokens[1]})
	}
	tokens := make(map[int]spotToken, len(spotMeta.Tokens))
	for _, t := range spotMeta.Tokens {
		tokens[t.Index] = spotToken{name: t.Name, szDecimals: t.SzDecimals}
	}

	book, missing := buildAssets(symbols, perps, pairs, tokens)
	if len(missing) > 0 {
		return nil, missingErr(missing)
	}

	c := &Client{
		info:     info,
		spotMeta: spotMeta,
		assets:   book,
		address:  cfg.AccountAddress,
		logger:   logger.With(slog.String("component", "hyperliquid_client")),
	}
	if wallet != nil {
		if c.address == "" {
			c.address = wallet.Address
		}
		c.exchange = hl.NewExchange(ctx, wallet.Key, cfg.BaseURL, meta, cfg.VaultAddress, c.address, spotMeta)
	}
	c.logger.InfoContext(ctx, "hyperliquid metadata loaded",
		slog.Int("symbols", len(book)),
		slog.Bool("trading", c.exchange != nil),
	)
	return c, nil
}

// Assets returns the metadata for the configured symbols.
func (c *Client) Assets() domain.AssetBook {
	return c.assets
}

// PlaceOrder submits one IOC limit order. Transport failures wrap
// ErrTransientVenue; venue refusals wrap ErrRejectedOrder. An IOC that
// found no liquidity returns a zero fill without error.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if c.exchange == nil {
		return domain.Fill{}, fmt.Errorf("hyperliquid: %w: client is read-only", domain.ErrRejectedOrder)
	}
	meta, ok := c.assets.Meta(req.Symbol)
	if !ok {
		return domain.Fill{}, fmt.Errorf("hyperliquid: %w: unknown symbol %s", domain.ErrRejectedOrder, req.Symbol)
	}

	res, err := c.exchange.Order(ctx, orderRequest(meta, req), nil)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("hyperliquid: order %s %s: %w: %v", req.Symbol, req.Leg, domain.ErrTransientVenue, err)
	}

	fill := domain.ZeroFill(req)
	switch {
	case res.Error != nil:
		if noLiquidity(*res.Error) {
			return fill, nil
		}
		return domain.Fill{}, fmt.Errorf("hyperliquid: %w: %s", domain.ErrRejectedOrder, *res.Error)
	case res.Filled != nil:
		fill.VenueOrderID = strconv.Itoa(res.Filled.Oid)
		fill.FilledSize, _ = strconv.ParseFloat(res.Filled.TotalSz, 64)
		fill.AvgPrice, _ = strconv.ParseFloat(res.Filled.AvgPx, 64)
	case res.Resting != nil:
		// IOC orders should never rest; treat as unfilled.
		c.logger.WarnContext(ctx, "ioc order reported resting",
			slog.String("symbol", req.Symbol),
			slog.Int64("oid", res.Resting.Oid),
		)
	}
	return fill, nil
}

// orderRequest maps an engine order to an IOC limit. The client order id
// travels as the venue cloid, so a retry of an order the venue already took
// is refused as a duplicate instead of filling twice.
func orderRequest(meta domain.AssetMeta, req domain.OrderRequest) hl.CreateOrderRequest {
	order := hl.CreateOrderRequest{
		Coin:       meta.VenueName(req.Leg),
		IsBuy:      req.Side == domain.OrderSideBuy,
		Size:       req.Size,
		Price:      meta.RoundPrice(roundSigFigs(req.LimitPrice, priceSigFigs)),
		ReduceOnly: req.ReduceOnly,
		OrderType: hl.OrderType{
			Limit: &hl.LimitOrderType{Tif: hl.TifIoc},
		},
	}
	if req.ClientOrderID != "" {
		cloid := req.ClientOrderID
		order.ClientOrderID = &cloid
	}
	return order
}

func noLiquidity(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "could not immediately match")
}

// AccountState reads the cross-margin summary of the trading account.
func (c *Client) AccountState(ctx context.Context) (domain.AccountState, error) {
	if c.address == "" {
		return domain.AccountState{}, errors.New("hyperliquid: account address not configured")
	}
	st, err := c.info.UserState(ctx, c.address)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("hyperliquid: user state: %w", err)
	}
	value, err := strconv.ParseFloat(st.MarginSummary.AccountValue, 64)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("hyperliquid: parse account value: %w", err)
	}
	used, err := strconv.ParseFloat(st.MarginSummary.TotalMarginUsed, 64)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("hyperliquid: parse margin used: %w", err)
	}
	return domain.AccountState{AccountValue: value, MarginUsed: used, AsOf: time.Now().UTC()}, nil
}

// FundingQuotes returns funding, open interest in quote terms and mid for
// every perp.
func (c *Client) FundingQuotes(ctx context.Context) ([]feed.FundingQuote, error) {
	st, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: asset contexts: %w", err)
	}
	out := make([]feed.FundingQuote, 0, len(st.Universe))
	for i, u := range st.Universe {
		if i >= len(st.Ctxs) {
			break
		}
		ctxs := st.Ctxs[i]
		rate, err := strconv.ParseFloat(ctxs.Funding, 64)
		if err != nil {
			continue
		}
		mid, _ := strconv.ParseFloat(ctxs.MidPx, 64)
		oi, _ := strconv.ParseFloat(ctxs.OpenInterest, 64)
		out = append(out, feed.FundingQuote{
			Coin:         u.Name,
			Rate:         rate,
			OpenInterest: oi * mid,
			MidPx:        mid,
		})
	}
	return out, nil
}

// roundSigFigs keeps n significant figures, the venue's price precision
// rule on top of the decimal limit.
func roundSigFigs(px float64, n int) float64 {
	if px <= 0 {
		return px
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(px, 'g', n, 64), 64)
	if err != nil || math.IsInf(f, 0) {
		return px
	}
	return f
}
