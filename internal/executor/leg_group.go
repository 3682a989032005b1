package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// legGroup submits independent leg orders concurrently and joins on all of
// them. A failed or panicking leg yields a zero fill and never cancels the
// others.
type legGroup struct {
	e     *Engine
	wg    sync.WaitGroup
	fills []domain.Fill
}

func (e *Engine) newLegGroup(n int) *legGroup {
	return &legGroup{e: e, fills: make([]domain.Fill, n)}
}

func (g *legGroup) goSubmit(ctx context.Context, i int, req domain.OrderRequest) {
	g.fills[i] = domain.ZeroFill(req)
	if req.Size <= 0 {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.e.logger.Error("leg submission panicked",
					slog.String("symbol", req.Symbol),
					slog.String("leg", string(req.Leg)),
					slog.String("panic", fmt.Sprint(r)),
				)
				g.fills[i] = domain.ZeroFill(req)
			}
		}()
		g.fills[i] = g.e.submit(ctx, req)
	}()
}

func (g *legGroup) wait() []domain.Fill {
	g.wg.Wait()
	return g.fills
}

// submitPair runs spot and perp orders concurrently and returns both fills.
func (e *Engine) submitPair(ctx context.Context, spot, perp domain.OrderRequest) (domain.Fill, domain.Fill) {
	g := e.newLegGroup(2)
	g.goSubmit(ctx, 0, spot)
	g.goSubmit(ctx, 1, perp)
	fills := g.wait()
	return fills[0], fills[1]
}
