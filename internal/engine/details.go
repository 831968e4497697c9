package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levtrade/internal/models"
)

// StageView is one row of the append-only entry history.
type StageView struct {
	StageIndex int             `json:"stage_index"`
	Margin     decimal.Decimal `json:"margin"`
	Leverage   int             `json:"leverage"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Size       decimal.Decimal `json:"size"`
}

// PositionView is the read-only projection of a position. The Total* fields
// are reconstructed from the stage history, not read from the tracked
// columns; ReconciliationOK reports whether the two agree exactly.
type PositionView struct {
	UUID            string                 `json:"uuid"`
	Owner           string                 `json:"owner"`
	Symbol          string                 `json:"symbol"`
	Status          string                 `json:"status"`
	CurrentLeverage int                    `json:"current_leverage"`
	DoublingCount   int                    `json:"doubling_count"`
	TotalMargin     decimal.Decimal        `json:"total_margin"`
	TotalSize       decimal.Decimal        `json:"total_size"`
	AvgEntryPrice   decimal.Decimal        `json:"avg_entry_price"`
	TPPrice         decimal.Decimal        `json:"tp_price"`
	TPTarget        decimal.Decimal        `json:"tp_target"`
	TrailingActive  bool                   `json:"trailing_active"`
	HighWaterMark   decimal.Decimal        `json:"high_water_mark"`
	MarginAddBudget decimal.Decimal        `json:"margin_add_budget"`
	RealizedPnL     decimal.Decimal        `json:"realized_pnl"`
	Clusters        models.ClusterSnapshot `json:"clusters"`
	Stages          []StageView            `json:"stages"`

	ReconciliationOK bool `json:"reconciliation_ok"`
}

// GetPositionDetails rebuilds the current totals from the full entry-stage
// history and checks them against the incrementally tracked columns. Any
// disagreement is a bookkeeping bug, surfaced via ReconciliationOK and a log
// line rather than an error.
//
// The read happens under the position lock: a transition persists the tracked
// columns and the new stage row in separate store calls, and a reader landing
// between the two would see totals that disagree with the history.
func (e *Engine) GetPositionDetails(ctx context.Context, positionUUID string) (*PositionView, error) {
	lock := e.positionLock(positionUUID)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.store.GetByUUID(ctx, positionUUID)
	if err != nil {
		return nil, err
	}

	stagedMargin := decimal.Zero
	stagedSize := decimal.Zero
	weighted := decimal.Zero
	views := make([]StageView, 0, len(pos.Stages))
	for _, s := range pos.Stages {
		stagedMargin = stagedMargin.Add(s.Margin)
		stagedSize = stagedSize.Add(s.Size)
		weighted = weighted.Add(s.EntryPrice.Mul(s.Size))
		views = append(views, StageView{
			StageIndex: s.StageIndex,
			Margin:     s.Margin,
			Leverage:   s.Leverage,
			EntryPrice: s.EntryPrice,
			Size:       s.Size,
		})
	}

	openMargin := stagedMargin.Sub(pos.ReleasedMargin)
	openSize := stagedSize.Sub(pos.ClosedSize)
	avg := decimal.Zero
	if !stagedSize.IsZero() {
		avg = weighted.Div(stagedSize)
	}

	// Partial closes are pro-rata, so the stage-weighted average carries over
	// to the remaining notional unchanged.
	ok := openMargin.Equal(pos.TotalMargin) &&
		openSize.Equal(pos.TotalSize) &&
		(pos.TotalSize.IsZero() || avg.Equal(pos.AvgEntryPrice))
	if !ok {
		e.log.Error("position totals drifted from stage history",
			zap.String("uuid", pos.UUID),
			zap.String("tracked_margin", pos.TotalMargin.String()),
			zap.String("staged_margin", openMargin.String()),
			zap.String("tracked_size", pos.TotalSize.String()),
			zap.String("staged_size", openSize.String()))
	}

	var snap models.ClusterSnapshot
	if len(pos.Clusters) > 0 {
		if err := json.Unmarshal(pos.Clusters, &snap); err != nil {
			return nil, fmt.Errorf("decode clusters for %s: %w", positionUUID, err)
		}
	}

	return &PositionView{
		UUID:             pos.UUID,
		Owner:            pos.Owner,
		Symbol:           pos.Symbol,
		Status:           pos.Status,
		CurrentLeverage:  pos.CurrentLeverage,
		DoublingCount:    pos.DoublingCount,
		TotalMargin:      openMargin,
		TotalSize:        openSize,
		AvgEntryPrice:    avg,
		TPPrice:          pos.TPPrice,
		TPTarget:         pos.TPTarget,
		TrailingActive:   pos.TrailingActive,
		HighWaterMark:    pos.TrailingHighWaterMark,
		MarginAddBudget:  pos.MarginAddBudget,
		RealizedPnL:      pos.RealizedPnL,
		Clusters:         snap,
		Stages:           views,
		ReconciliationOK: ok,
	}, nil
}

// RefreshClusters recomputes cluster levels for every open position. Each
// position is refreshed under its own lock; when a price-driven transition
// bumped the version between listing and locking, the refresh is skipped and
// picked up on the next cadence. Failures are logged and retried next round,
// never propagated.
func (e *Engine) RefreshClusters(ctx context.Context) {
	open, err := e.store.ListOpen(ctx)
	if err != nil {
		e.log.Warn("list open positions for cluster refresh failed", zap.Error(err))
		return
	}
	for _, listed := range open {
		e.refreshOne(ctx, listed.UUID, listed.Version)
	}
}

func (e *Engine) refreshOne(ctx context.Context, positionUUID string, seenVersion uint64) {
	lock := e.positionLock(positionUUID)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.store.GetByUUID(ctx, positionUUID)
	if err != nil {
		e.log.Warn("cluster refresh reload failed",
			zap.String("uuid", positionUUID), zap.Error(err))
		return
	}
	if pos.IsClosed() || pos.Version != seenVersion {
		return
	}
	// Once trailing is armed the remaining exit levels are frozen; refreshing
	// them would re-arm levels the rally already consumed.
	if pos.TrailingActive {
		return
	}

	snap, err := e.tracker.Clusters(pos.Symbol, pos.AvgEntryPrice)
	if err != nil {
		e.log.Warn("cluster recompute failed",
			zap.String("uuid", positionUUID),
			zap.String("symbol", pos.Symbol),
			zap.Error(err))
		return
	}
	pos.Clusters = mustJSON(snap)
	// Refresh does not advance Version; it is not a lifecycle transition.
	if err := e.store.Update(ctx, pos); err != nil {
		e.log.Warn("cluster refresh persist failed",
			zap.String("uuid", positionUUID), zap.Error(err))
	}
}
