package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"levtrade/internal/models"
	"levtrade/internal/store"
)

// Config carries the numeric policy of the lifecycle engine. All fields have
// working defaults from DefaultConfig; zero values are rejected by Validate.
type Config struct {
	// TPMultiplier sets tp_target = total margin × TPMultiplier.
	TPMultiplier decimal.Decimal
	// PartialTPFraction is the share of the open notional closed when the
	// take-profit price is hit.
	PartialTPFraction decimal.Decimal
	// TrailingRetrace is the pullback from the high-water mark that closes
	// the remainder during trailing exit.
	TrailingRetrace decimal.Decimal
	// MaxDoublings caps the number of doubling stages; adverse breaches past
	// the cap become margin top-ups.
	MaxDoublings int
}

func DefaultConfig() Config {
	return Config{
		TPMultiplier:      decimal.NewFromFloat(1.75),
		PartialTPFraction: decimal.NewFromFloat(0.5),
		TrailingRetrace:   decimal.NewFromFloat(0.02),
		MaxDoublings:      4,
	}
}

func (c Config) Validate() error {
	if c.TPMultiplier.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tp multiplier must exceed 1", ErrConfig)
	}
	one := decimal.NewFromInt(1)
	if c.PartialTPFraction.LessThanOrEqual(decimal.Zero) || c.PartialTPFraction.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: partial tp fraction must be in (0,1)", ErrConfig)
	}
	if c.TrailingRetrace.LessThanOrEqual(decimal.Zero) || c.TrailingRetrace.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: trailing retrace must be in (0,1)", ErrConfig)
	}
	if c.MaxDoublings < 1 {
		return fmt.Errorf("%w: max doublings must be at least 1", ErrConfig)
	}
	return nil
}

// Event is a fire-and-forget lifecycle notification. Events are collected
// inside the per-position critical section and handed to the sink only after
// the lock is released.
type Event struct {
	PositionID   uint64
	PositionUUID string
	Owner        string
	Symbol       string
	Type         string
	Payload      map[string]any
}

// EventSink receives lifecycle events. Implementations must not block; the
// engine calls Publish outside the position lock but on the tick goroutine.
type EventSink interface {
	Publish(evt Event)
}

// Engine drives a position through its lifecycle from price ticks. All
// mutating calls for one position are serialized behind a per-position lock;
// pure computation happens inside that critical section and notifications are
// dispatched after it.
type Engine struct {
	store   store.PositionStore
	sizer   *Sizer
	tracker ClusterTracker
	sink    EventSink
	log     *zap.Logger
	cfg     Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st store.PositionStore, sizer *Sizer, tracker ClusterTracker, sink EventSink, log *zap.Logger, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:   st,
		sizer:   sizer,
		tracker: tracker,
		sink:    sink,
		log:     log,
		cfg:     cfg,
		locks:   map[string]*sync.Mutex{},
	}, nil
}

// positionLock returns the mutex serializing all mutations of one position.
func (e *Engine) positionLock(uuid string) *sync.Mutex {
	return e.keyedLock("pos:" + uuid)
}

// openLock serializes position creation per (owner, symbol) so the
// duplicate-open check and the insert happen atomically.
func (e *Engine) openLock(owner, symbol string) *sync.Mutex {
	return e.keyedLock("open:" + owner + "/" + symbol)
}

func (e *Engine) keyedLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

var validLeverages = map[int]bool{20: true, 10: true, 5: true, 2: true}

// OpenRequest are the parameters of a new position. Leverage may be supplied
// directly or derived from RiskScore when Leverage is zero.
type OpenRequest struct {
	Owner      string
	Symbol     string
	EntryPrice decimal.Decimal
	Margin     decimal.Decimal
	Leverage   int
	RiskScore  *decimal.Decimal
}

// OpenPosition creates a position in the open_initial state. The supplied
// margin is treated as the first ladder rung; the implied capital base fixes
// the remaining rungs and the margin-add reserve for the position's lifetime.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (*models.Position, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: entry price must be positive, got %s", ErrInvalidInput, req.EntryPrice.String())
	}
	if req.Margin.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: margin must be positive, got %s", ErrInvalidInput, req.Margin.String())
	}
	leverage := req.Leverage
	if leverage == 0 && req.RiskScore != nil {
		leverage = SelectInitialLeverage(*req.RiskScore)
	}
	if !validLeverages[leverage] {
		return nil, fmt.Errorf("%w: leverage %d not in {20,10,5,2}", ErrInvalidInput, leverage)
	}

	lock := e.openLock(req.Owner, req.Symbol)
	lock.Lock()
	pos, err := e.createLocked(ctx, req, leverage)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	e.emit(ctx, Event{
		PositionID:   pos.ID,
		PositionUUID: pos.UUID,
		Owner:        pos.Owner,
		Symbol:       pos.Symbol,
		Type:         models.EventOpened,
		Payload: map[string]any{
			"entry_price": req.EntryPrice.String(),
			"margin":      req.Margin.String(),
			"leverage":    leverage,
			"size":        pos.TotalSize.String(),
			"tp_price":    pos.TPPrice.String(),
			"tp_target":   pos.TPTarget.String(),
		},
	})
	e.log.Info("position opened",
		zap.String("uuid", pos.UUID),
		zap.String("symbol", pos.Symbol),
		zap.Int("leverage", leverage),
		zap.String("margin", req.Margin.StringFixed(2)),
		zap.String("tp_price", pos.TPPrice.StringFixed(2)))
	return pos, nil
}

// createLocked runs the duplicate-open check and the insert while the caller
// holds the (owner, symbol) open lock.
func (e *Engine) createLocked(ctx context.Context, req OpenRequest, leverage int) (*models.Position, error) {
	if existing, err := e.store.GetOpenByOwnerSymbol(ctx, req.Owner, req.Symbol); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: open position %s already exists for %s/%s",
			ErrInvalidInput, existing.UUID, req.Owner, req.Symbol)
	}

	capital := e.sizer.CapitalForOpeningMargin(req.Margin)
	ladder, err := e.sizer.ComputeEntryLadder(capital)
	if err != nil {
		return nil, err
	}

	size := req.Margin.Mul(decimal.NewFromInt(int64(leverage)))
	tpTarget := req.Margin.Mul(e.cfg.TPMultiplier)
	tpPrice := takeProfitPrice(req.EntryPrice, req.Margin, size, tpTarget)

	snap, err := e.tracker.Clusters(req.Symbol, req.EntryPrice)
	if err != nil {
		return nil, err
	}

	pos := &models.Position{
		UUID:            uuid.NewString(),
		Owner:           req.Owner,
		Symbol:          req.Symbol,
		Status:          models.StatusOpenInitial,
		CurrentLeverage: leverage,
		TotalMargin:     req.Margin,
		TotalSize:       size,
		AvgEntryPrice:   req.EntryPrice,
		TPPrice:         tpPrice,
		TPTarget:        tpTarget,
		Ladder:          mustJSON(ladder.Margins),
		MarginAddBudget: ladder.MarginAddBudget,
		Clusters:        mustJSON(snap),
		Version:         1,
	}
	if err := e.store.Insert(ctx, pos); err != nil {
		return nil, err
	}
	stage := &models.EntryStage{
		PositionID: pos.ID,
		StageIndex: 0,
		Margin:     req.Margin,
		Leverage:   leverage,
		EntryPrice: req.EntryPrice,
		Size:       size,
	}
	if err := e.store.AppendStage(ctx, stage); err != nil {
		return nil, err
	}
	pos.Stages = []models.EntryStage{*stage}
	return pos, nil
}

// UpdateResult describes what one price tick did to a position.
type UpdateResult struct {
	PositionUUID  string                 `json:"position_uuid"`
	Status        string                 `json:"status"`
	Transition    string                 `json:"transition,omitempty"`
	Closed        bool                   `json:"closed"`
	RealizedPnL   decimal.Decimal        `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal        `json:"unrealized_pnl"`
	AvgEntryPrice decimal.Decimal        `json:"avg_entry_price"`
	TotalMargin   decimal.Decimal        `json:"total_margin"`
	TotalSize     decimal.Decimal        `json:"total_size"`
	TPPrice       decimal.Decimal        `json:"tp_price"`
	TPTarget      decimal.Decimal        `json:"tp_target"`
	DoublingCount int                    `json:"doubling_count"`
	Clusters      models.ClusterSnapshot `json:"clusters"`
}

// UpdatePosition applies one price tick. Triggers are evaluated in strict
// priority order: take-profit, trailing exit, doubling, margin top-up, no-op.
// At most one transition fires per call. Re-applying the same price with no
// new breach is a no-op with zero realized pnl.
func (e *Engine) UpdatePosition(ctx context.Context, positionUUID string, price decimal.Decimal) (*UpdateResult, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, price.String())
	}

	lock := e.positionLock(positionUUID)
	lock.Lock()
	res, events, err := e.applyTick(ctx, positionUUID, price)
	lock.Unlock()

	for _, evt := range events {
		e.emit(ctx, evt)
	}
	return res, err
}

// applyTick runs the whole transition inside the position lock and returns
// the events to dispatch after it is released.
func (e *Engine) applyTick(ctx context.Context, positionUUID string, price decimal.Decimal) (*UpdateResult, []Event, error) {
	pos, err := e.store.GetByUUID(ctx, positionUUID)
	if err != nil {
		return nil, nil, err
	}
	if pos.IsClosed() {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, positionUUID)
	}

	var snap models.ClusterSnapshot
	if err := json.Unmarshal(pos.Clusters, &snap); err != nil {
		return nil, nil, fmt.Errorf("decode clusters for %s: %w", positionUUID, err)
	}

	// 1. Take-profit: edge-triggered on the trailing flag, not on price alone.
	if !pos.TrailingActive && price.GreaterThanOrEqual(pos.TPPrice) {
		return e.partialTakeProfit(ctx, pos, snap, price)
	}

	// 2. Trailing exit.
	if pos.TrailingActive {
		return e.trailingTick(ctx, pos, snap, price)
	}

	// 3/4. Adverse breach of the nearest lower cluster.
	if len(snap.Below) > 0 && price.LessThanOrEqual(snap.Below[0].PriceLevel) {
		if pos.DoublingCount < e.cfg.MaxDoublings {
			return e.double(ctx, pos, price)
		}
		return e.marginAdd(ctx, pos, price)
	}

	// 5. No transition. Nothing is persisted.
	res := e.resultFor(pos, snap, price)
	return res, nil, nil
}

func (e *Engine) resultFor(pos *models.Position, snap models.ClusterSnapshot, price decimal.Decimal) *UpdateResult {
	return &UpdateResult{
		PositionUUID:  pos.UUID,
		Status:        pos.Status,
		Closed:        pos.IsClosed(),
		UnrealizedPnL: unrealizedPnL(pos, price),
		AvgEntryPrice: pos.AvgEntryPrice,
		TotalMargin:   pos.TotalMargin,
		TotalSize:     pos.TotalSize,
		TPPrice:       pos.TPPrice,
		TPTarget:      pos.TPTarget,
		DoublingCount: pos.DoublingCount,
		Clusters:      snap,
	}
}

func (e *Engine) partialTakeProfit(ctx context.Context, pos *models.Position, snap models.ClusterSnapshot, price decimal.Decimal) (*UpdateResult, []Event, error) {
	closedSize := pos.TotalSize.Mul(e.cfg.PartialTPFraction)
	releasedMargin := pos.TotalMargin.Mul(e.cfg.PartialTPFraction)
	pnl := pnlOn(closedSize, pos.AvgEntryPrice, price)

	pos.TotalSize = pos.TotalSize.Sub(closedSize)
	pos.TotalMargin = pos.TotalMargin.Sub(releasedMargin)
	pos.ClosedSize = pos.ClosedSize.Add(closedSize)
	pos.ReleasedMargin = pos.ReleasedMargin.Add(releasedMargin)
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.TrailingActive = true
	pos.TrailingHighWaterMark = price
	pos.Status = models.StatusTrailingExit

	// Levels already crossed on the way up are consumed; only the remaining
	// ones stay armed as trailing exit triggers.
	remaining := snap.Above[:0:0]
	for _, c := range snap.Above {
		if c.PriceLevel.GreaterThan(price) {
			remaining = append(remaining, c)
		}
	}
	snap.Above = remaining
	pos.Clusters = mustJSON(snap)
	pos.Version++

	if err := e.store.Update(ctx, pos); err != nil {
		return nil, nil, err
	}

	evt := Event{
		PositionID:   pos.ID,
		PositionUUID: pos.UUID,
		Owner:        pos.Owner,
		Symbol:       pos.Symbol,
		Type:         models.EventPartialTP,
		Payload: map[string]any{
			"price":           price.String(),
			"closed_size":     closedSize.String(),
			"realized_pnl":    pnl.String(),
			"high_water_mark": price.String(),
		},
	}
	e.log.Info("partial take-profit",
		zap.String("uuid", pos.UUID),
		zap.String("price", price.StringFixed(2)),
		zap.String("realized_pnl", pnl.StringFixed(2)))

	res := e.resultFor(pos, snap, price)
	res.Transition = models.EventPartialTP
	res.RealizedPnL = pnl
	return res, []Event{evt}, nil
}

func (e *Engine) trailingTick(ctx context.Context, pos *models.Position, snap models.ClusterSnapshot, price decimal.Decimal) (*UpdateResult, []Event, error) {
	if price.GreaterThan(pos.TrailingHighWaterMark) {
		pos.TrailingHighWaterMark = price
		// High-water update alone is not a transition; persist it so a later
		// tick measures the retrace from the true peak, but keep Version
		// moving so the refresh task yields.
		pos.Version++
		if err := e.store.Update(ctx, pos); err != nil {
			return nil, nil, err
		}
	}

	retraceLine := pos.TrailingHighWaterMark.Mul(decimal.NewFromInt(1).Sub(e.cfg.TrailingRetrace))
	crossedAbove := false
	for _, c := range snap.Above {
		if price.GreaterThanOrEqual(c.PriceLevel) {
			crossedAbove = true
			break
		}
	}
	if !crossedAbove && price.GreaterThan(retraceLine) {
		res := e.resultFor(pos, snap, price)
		return res, nil, nil
	}

	return e.finalClose(ctx, pos, snap, price, models.EventClosed, map[string]any{
		"reason":          closeReason(crossedAbove),
		"high_water_mark": pos.TrailingHighWaterMark.String(),
	})
}

func closeReason(crossedAbove bool) string {
	if crossedAbove {
		return "cluster_exit"
	}
	return "trailing_retrace"
}

func (e *Engine) double(ctx context.Context, pos *models.Position, price decimal.Decimal) (*UpdateResult, []Event, error) {
	n := pos.DoublingCount + 1
	leverage := SelectDoublingLeverage(n, pos.CurrentLeverage)

	var ladder []decimal.Decimal
	if err := json.Unmarshal(pos.Ladder, &ladder); err != nil {
		return nil, nil, fmt.Errorf("decode ladder for %s: %w", pos.UUID, err)
	}

	var margin decimal.Decimal
	switch {
	case n < len(ladder):
		margin = ladder[n]
	default:
		// The ladder funds the initial stage and the first rungs of
		// doublings; past its end the stage is financed from the reserve.
		if pos.MarginAddBudget.LessThanOrEqual(decimal.Zero) {
			return e.riskLimitClose(ctx, pos, price)
		}
		margin = decimal.Min(ladder[len(ladder)-1], pos.MarginAddBudget)
		pos.MarginAddBudget = pos.MarginAddBudget.Sub(margin)
	}

	stageSize := margin.Mul(decimal.NewFromInt(int64(leverage)))
	newSize := pos.TotalSize.Add(stageSize)
	pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.TotalSize).
		Add(price.Mul(stageSize)).
		Div(newSize)
	pos.TotalSize = newSize
	pos.TotalMargin = pos.TotalMargin.Add(margin)
	pos.TPTarget = pos.TotalMargin.Mul(e.cfg.TPMultiplier)
	pos.TPPrice = takeProfitPrice(pos.AvgEntryPrice, pos.TotalMargin, pos.TotalSize, pos.TPTarget)
	pos.DoublingCount = n
	pos.CurrentLeverage = leverage
	pos.Status = models.StatusDoubled

	snap, err := e.tracker.Clusters(pos.Symbol, pos.AvgEntryPrice)
	if err != nil {
		return nil, nil, err
	}
	pos.Clusters = mustJSON(snap)
	pos.Version++

	if err := e.store.Update(ctx, pos); err != nil {
		return nil, nil, err
	}
	stage := &models.EntryStage{
		PositionID: pos.ID,
		StageIndex: n,
		Margin:     margin,
		Leverage:   leverage,
		EntryPrice: price,
		Size:       stageSize,
	}
	if err := e.store.AppendStage(ctx, stage); err != nil {
		return nil, nil, err
	}
	pos.Stages = append(pos.Stages, *stage)

	evt := Event{
		PositionID:   pos.ID,
		PositionUUID: pos.UUID,
		Owner:        pos.Owner,
		Symbol:       pos.Symbol,
		Type:         models.EventDoubled,
		Payload: map[string]any{
			"doubling":      n,
			"price":         price.String(),
			"margin":        margin.String(),
			"leverage":      leverage,
			"avg_entry":     pos.AvgEntryPrice.String(),
			"total_size":    pos.TotalSize.String(),
			"new_tp_price":  pos.TPPrice.String(),
			"new_tp_target": pos.TPTarget.String(),
		},
	}
	e.log.Info("position doubled",
		zap.String("uuid", pos.UUID),
		zap.Int("doubling", n),
		zap.Int("leverage", leverage),
		zap.String("avg_entry", pos.AvgEntryPrice.StringFixed(2)))

	res := e.resultFor(pos, snap, price)
	res.Transition = models.EventDoubled
	return res, []Event{evt}, nil
}

func (e *Engine) marginAdd(ctx context.Context, pos *models.Position, price decimal.Decimal) (*UpdateResult, []Event, error) {
	if pos.MarginAddBudget.LessThanOrEqual(decimal.Zero) {
		return e.riskLimitClose(ctx, pos, price)
	}

	var ladder []decimal.Decimal
	if err := json.Unmarshal(pos.Ladder, &ladder); err != nil {
		return nil, nil, fmt.Errorf("decode ladder for %s: %w", pos.UUID, err)
	}
	draw := decimal.Min(ladder[len(ladder)-1], pos.MarginAddBudget)

	pos.MarginAddBudget = pos.MarginAddBudget.Sub(draw)
	pos.TotalMargin = pos.TotalMargin.Add(draw)
	pos.TPTarget = pos.TotalMargin.Mul(e.cfg.TPMultiplier)
	pos.TPPrice = takeProfitPrice(pos.AvgEntryPrice, pos.TotalMargin, pos.TotalSize, pos.TPTarget)
	pos.Status = models.StatusMarginAdded

	// Re-center on the breach price so the same tick cannot trigger another
	// top-up; the notional and average entry are unchanged.
	snap, err := e.tracker.Clusters(pos.Symbol, price)
	if err != nil {
		return nil, nil, err
	}
	pos.Clusters = mustJSON(snap)
	pos.Version++

	if err := e.store.Update(ctx, pos); err != nil {
		return nil, nil, err
	}
	// Size-zero stage keeps the margin top-up in the append-only history so
	// reconstruction from stages matches the tracked totals exactly.
	stage := &models.EntryStage{
		PositionID: pos.ID,
		StageIndex: len(pos.Stages),
		Margin:     draw,
		Leverage:   pos.CurrentLeverage,
		EntryPrice: price,
		Size:       decimal.Zero,
	}
	if err := e.store.AppendStage(ctx, stage); err != nil {
		return nil, nil, err
	}
	pos.Stages = append(pos.Stages, *stage)

	evt := Event{
		PositionID:   pos.ID,
		PositionUUID: pos.UUID,
		Owner:        pos.Owner,
		Symbol:       pos.Symbol,
		Type:         models.EventMarginAdded,
		Payload: map[string]any{
			"price":            price.String(),
			"margin_added":     draw.String(),
			"remaining_budget": pos.MarginAddBudget.String(),
			"total_margin":     pos.TotalMargin.String(),
		},
	}
	e.log.Warn("margin added",
		zap.String("uuid", pos.UUID),
		zap.String("draw", draw.StringFixed(2)),
		zap.String("remaining_budget", pos.MarginAddBudget.StringFixed(2)))

	res := e.resultFor(pos, snap, price)
	res.Transition = models.EventMarginAdded
	return res, []Event{evt}, nil
}

// riskLimitClose force-closes a position whose margin-add reserve is
// exhausted. The close is persisted and reported alongside the
// ErrRiskLimitExceeded error.
func (e *Engine) riskLimitClose(ctx context.Context, pos *models.Position, price decimal.Decimal) (*UpdateResult, []Event, error) {
	var snap models.ClusterSnapshot
	_ = json.Unmarshal(pos.Clusters, &snap)

	res, events, err := e.finalClose(ctx, pos, snap, price, models.EventRiskLimitHit, map[string]any{
		"reason": "margin_add_budget_exhausted",
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, fmt.Errorf("%w: position %s force-closed at %s",
		ErrRiskLimitExceeded, pos.UUID, price.String())
}

// finalClose realizes pnl on the remaining notional and transitions the
// position to its terminal state.
func (e *Engine) finalClose(ctx context.Context, pos *models.Position, snap models.ClusterSnapshot, price decimal.Decimal, eventType string, payload map[string]any) (*UpdateResult, []Event, error) {
	pnl := pnlOn(pos.TotalSize, pos.AvgEntryPrice, price)

	pos.ClosedSize = pos.ClosedSize.Add(pos.TotalSize)
	pos.ReleasedMargin = pos.ReleasedMargin.Add(pos.TotalMargin)
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.TotalSize = decimal.Zero
	pos.TotalMargin = decimal.Zero
	pos.Status = models.StatusClosed
	now := time.Now().UTC()
	pos.ClosedAt = &now
	pos.Version++

	if err := e.store.Update(ctx, pos); err != nil {
		return nil, nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["price"] = price.String()
	payload["realized_pnl"] = pnl.String()
	payload["total_realized_pnl"] = pos.RealizedPnL.String()
	evt := Event{
		PositionID:   pos.ID,
		PositionUUID: pos.UUID,
		Owner:        pos.Owner,
		Symbol:       pos.Symbol,
		Type:         eventType,
		Payload:      payload,
	}
	e.log.Info("position closed",
		zap.String("uuid", pos.UUID),
		zap.String("price", price.StringFixed(2)),
		zap.String("realized_pnl", pos.RealizedPnL.StringFixed(2)),
		zap.String("event", eventType))

	res := e.resultFor(pos, snap, price)
	res.Transition = eventType
	res.Closed = true
	res.RealizedPnL = pnl
	return res, []Event{evt}, nil
}

// ClosePosition is the administrative close: it takes the same lock as price
// ticks and moves the position to its terminal state at the given price.
func (e *Engine) ClosePosition(ctx context.Context, positionUUID string, price decimal.Decimal) (*UpdateResult, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, price.String())
	}

	lock := e.positionLock(positionUUID)
	lock.Lock()
	res, events, err := func() (*UpdateResult, []Event, error) {
		pos, err := e.store.GetByUUID(ctx, positionUUID)
		if err != nil {
			return nil, nil, err
		}
		if pos.IsClosed() {
			return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, positionUUID)
		}
		var snap models.ClusterSnapshot
		_ = json.Unmarshal(pos.Clusters, &snap)
		return e.finalClose(ctx, pos, snap, price, models.EventClosed, map[string]any{
			"reason": "administrative_close",
		})
	}()
	lock.Unlock()

	for _, evt := range events {
		e.emit(ctx, evt)
	}
	return res, err
}

func (e *Engine) emit(ctx context.Context, evt Event) {
	if err := e.store.AppendEvent(ctx, &models.LifecycleEvent{
		PositionID: evt.PositionID,
		Symbol:     evt.Symbol,
		EventType:  evt.Type,
		Payload:    mustJSON(evt.Payload),
	}); err != nil {
		e.log.Warn("append lifecycle event failed",
			zap.String("uuid", evt.PositionUUID),
			zap.String("event", evt.Type),
			zap.Error(err))
	}
	if e.sink != nil {
		e.sink.Publish(evt)
	}
}

func takeProfitPrice(avgEntry, totalMargin, totalSize, tpTarget decimal.Decimal) decimal.Decimal {
	profitNeeded := tpTarget.Sub(totalMargin)
	return avgEntry.Mul(decimal.NewFromInt(1).Add(profitNeeded.Div(totalSize)))
}

func pnlOn(size, avgEntry, price decimal.Decimal) decimal.Decimal {
	if avgEntry.IsZero() {
		return decimal.Zero
	}
	return size.Mul(price.Sub(avgEntry)).Div(avgEntry)
}

func unrealizedPnL(pos *models.Position, price decimal.Decimal) decimal.Decimal {
	return pnlOn(pos.TotalSize, pos.AvgEntryPrice, price)
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return datatypes.JSON(b)
}
