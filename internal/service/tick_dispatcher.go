package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"levtrade/internal/engine"
	"levtrade/internal/feed"
	"levtrade/internal/riskband"
	"levtrade/internal/store"
)

// TickDispatcher consumes the merged tick stream and applies each tick to
// every open position on that symbol. It runs a single consumer goroutine,
// so ticks reach the engine in arrival order; the engine's per-position lock
// handles contention with HTTP-driven calls.
type TickDispatcher struct {
	Engine     *engine.Engine
	Store      store.PositionStore
	Classifier *riskband.VolClassifier
	Logger     *zap.Logger

	// RefreshInterval bounds how stale the symbol->positions cache may get.
	RefreshInterval time.Duration

	bySymbol    map[string][]string
	lastRefresh time.Time
}

func (d *TickDispatcher) Run(ctx context.Context, in <-chan feed.Tick) {
	if d.RefreshInterval <= 0 {
		d.RefreshInterval = 10 * time.Second
	}
	d.bySymbol = map[string][]string{}
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-in:
			d.apply(ctx, tick)
		}
	}
}

func (d *TickDispatcher) apply(ctx context.Context, tick feed.Tick) {
	if d.Classifier != nil {
		d.Classifier.Observe(tick.Symbol, tick.Price, tick.At)
	}
	if time.Since(d.lastRefresh) > d.RefreshInterval {
		d.refresh(ctx)
	}
	uuids := d.bySymbol[tick.Symbol]
	for _, id := range uuids {
		res, err := d.Engine.UpdatePosition(ctx, id, tick.Price)
		switch {
		case errors.Is(err, engine.ErrAlreadyClosed), errors.Is(err, engine.ErrNotFound):
			d.drop(tick.Symbol, id)
		case errors.Is(err, engine.ErrRiskLimitExceeded):
			d.Logger.Warn("position force-closed on risk limit",
				zap.String("uuid", id),
				zap.String("symbol", tick.Symbol),
				zap.String("price", tick.Price.String()))
			d.drop(tick.Symbol, id)
		case err != nil:
			d.Logger.Warn("tick apply failed",
				zap.String("uuid", id),
				zap.String("symbol", tick.Symbol),
				zap.Error(err))
		default:
			if res.Closed {
				d.drop(tick.Symbol, id)
			}
		}
	}
}

func (d *TickDispatcher) refresh(ctx context.Context) {
	open, err := d.Store.ListOpen(ctx)
	if err != nil {
		d.Logger.Warn("refresh open positions failed", zap.Error(err))
		return
	}
	next := map[string][]string{}
	for _, p := range open {
		next[p.Symbol] = append(next[p.Symbol], p.UUID)
	}
	d.bySymbol = next
	d.lastRefresh = time.Now()
}

func (d *TickDispatcher) drop(symbol, uuid string) {
	current := d.bySymbol[symbol]
	kept := current[:0]
	for _, id := range current {
		if id != uuid {
			kept = append(kept, id)
		}
	}
	d.bySymbol[symbol] = kept
}
