package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	readWait          = 90 * time.Second
	pingPeriod        = 30 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// EventSink consumes normalised market events. *Book satisfies it.
type EventSink interface {
	Apply(ev domain.MarketEvent)
}

type coinRoute struct {
	symbol string
	kind   domain.MarketEventKind
}

type wsSubscribe struct {
	Method       string         `json:"method"`
	Subscription map[string]any `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wsBook struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]wsLevel `json:"levels"`
}

// HyperliquidBookFeed streams l2Book updates for the spot and perp market of
// every configured symbol and forwards top-of-book as market events. It
// reconnects with exponential backoff until ctx is cancelled.
type HyperliquidBookFeed struct {
	wsURL  string
	routes map[string]coinRoute
	sink   EventSink
	logger *slog.Logger
}

// NewHyperliquidBookFeed subscribes to both books of each symbol in assets.
func NewHyperliquidBookFeed(wsURL string, assets []domain.AssetMeta, sink EventSink, logger *slog.Logger) *HyperliquidBookFeed {
	routes := make(map[string]coinRoute, 2*len(assets))
	for _, a := range assets {
		if a.PerpName != "" {
			routes[a.PerpName] = coinRoute{symbol: a.Symbol, kind: domain.EventPerpBook}
		}
		if a.SpotName != "" {
			routes[a.SpotName] = coinRoute{symbol: a.Symbol, kind: domain.EventSpotBook}
		}
	}
	return &HyperliquidBookFeed{
		wsURL:  wsURL,
		routes: routes,
		sink:   sink,
		logger: logger.With(slog.String("component", "hyperliquid_ws_feed")),
	}
}

// Run keeps a subscription alive until ctx is cancelled.
func (f *HyperliquidBookFeed) Run(ctx context.Context) error {
	if len(f.routes) == 0 {
		f.logger.Info("no coins to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while resets the backoff.
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("hyperliquid ws disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *HyperliquidBookFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for coin := range f.routes {
		sub := wsSubscribe{
			Method:       "subscribe",
			Subscription: map[string]any{"type": "l2Book", "coin": coin},
		}
		if err := write(sub); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", coin, err)
		}
	}
	f.logger.Info("hyperliquid ws subscribed", slog.Int("coins", len(f.routes)))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Hyperliquid drops idle connections, so keep an application-level ping
	// going and unblock the reader on shutdown.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(wsSubscribe{Method: "ping"}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: %w: %v", domain.ErrWSDisconnect, err)
		}
		if ev, ok := f.parse(raw); ok {
			f.sink.Apply(ev)
		}
	}
}

// parse converts an l2Book message into a top-of-book event. Other channels
// (subscriptionResponse, pong) are ignored.
func (f *HyperliquidBookFeed) parse(raw []byte) (domain.MarketEvent, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Channel != "l2Book" {
		return domain.MarketEvent{}, false
	}
	var book wsBook
	if err := json.Unmarshal(env.Data, &book); err != nil {
		f.logger.Debug("bad l2Book payload", slog.String("error", err.Error()))
		return domain.MarketEvent{}, false
	}
	route, ok := f.routes[book.Coin]
	if !ok || len(book.Levels) < 2 {
		return domain.MarketEvent{}, false
	}

	ev := domain.MarketEvent{Kind: route.kind, Symbol: route.symbol, Time: time.Now().UTC()}
	if book.Time > 0 {
		ev.Time = time.UnixMilli(book.Time).UTC()
	}
	if len(book.Levels[0]) > 0 {
		ev.Bid, _ = strconv.ParseFloat(book.Levels[0][0].Px, 64)
	}
	if len(book.Levels[1]) > 0 {
		ev.Ask, _ = strconv.ParseFloat(book.Levels[1][0].Px, 64)
	}
	if ev.Bid > 0 && ev.Ask > 0 {
		ev.Mid = (ev.Bid + ev.Ask) / 2
	}
	return ev, true
}
