package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"levtrade/internal/models"
)

// SimRequest describes a hypothetical position for projection. Nothing is
// persisted; Simulate is pure.
type SimRequest struct {
	Symbol           string
	EntryPrice       decimal.Decimal
	Margin           decimal.Decimal
	Leverage         int
	SimulateDoubling bool
}

// SimStage is one projected stage of the hypothetical position.
type SimStage struct {
	StageIndex    int             `json:"stage_index"`
	TriggerPrice  decimal.Decimal `json:"trigger_price"`
	Margin        decimal.Decimal `json:"margin"`
	Leverage      int             `json:"leverage"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	TotalMargin   decimal.Decimal `json:"total_margin"`
	TotalSize     decimal.Decimal `json:"total_size"`
	TPPrice       decimal.Decimal `json:"tp_price"`
	TPTarget      decimal.Decimal `json:"tp_target"`
}

// Projection is the result of a simulation: the ladder, the opening stage,
// and, when requested, the full worst-case doubling chain where every breach
// happens exactly at the nearest lower cluster.
type Projection struct {
	Ladder          []decimal.Decimal `json:"ladder"`
	MarginAddBudget decimal.Decimal   `json:"margin_add_budget"`
	Stages          []SimStage        `json:"stages"`
}

// Simulate projects a hypothetical position without touching the store.
func (e *Engine) Simulate(req SimRequest) (*Projection, error) {
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: entry price must be positive", ErrInvalidInput)
	}
	if req.Margin.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: margin must be positive", ErrInvalidInput)
	}
	if !validLeverages[req.Leverage] {
		return nil, fmt.Errorf("%w: leverage %d not in {20,10,5,2}", ErrInvalidInput, req.Leverage)
	}

	capital := e.sizer.CapitalForOpeningMargin(req.Margin)
	ladder, err := e.sizer.ComputeEntryLadder(capital)
	if err != nil {
		return nil, err
	}

	size := req.Margin.Mul(decimal.NewFromInt(int64(req.Leverage)))
	totalMargin := req.Margin
	totalSize := size
	avg := req.EntryPrice
	tpTarget := totalMargin.Mul(e.cfg.TPMultiplier)

	proj := &Projection{
		Ladder:          ladder.Margins,
		MarginAddBudget: ladder.MarginAddBudget,
	}
	proj.Stages = append(proj.Stages, SimStage{
		StageIndex:    0,
		TriggerPrice:  req.EntryPrice,
		Margin:        req.Margin,
		Leverage:      req.Leverage,
		Size:          size,
		AvgEntryPrice: avg,
		TotalMargin:   totalMargin,
		TotalSize:     totalSize,
		TPPrice:       takeProfitPrice(avg, totalMargin, totalSize, tpTarget),
		TPTarget:      tpTarget,
	})
	if !req.SimulateDoubling {
		return proj, nil
	}

	budget := ladder.MarginAddBudget
	leverage := req.Leverage
	for n := 1; n <= e.cfg.MaxDoublings; n++ {
		snap, err := e.tracker.Clusters(req.Symbol, avg)
		if err != nil {
			return nil, err
		}
		trigger := nearestBelow(snap)
		if trigger.IsZero() {
			break
		}

		leverage = SelectDoublingLeverage(n, leverage)
		var margin decimal.Decimal
		if n < len(ladder.Margins) {
			margin = ladder.Margins[n]
		} else {
			if budget.LessThanOrEqual(decimal.Zero) {
				break
			}
			margin = decimal.Min(ladder.LastMargin(), budget)
			budget = budget.Sub(margin)
		}

		stageSize := margin.Mul(decimal.NewFromInt(int64(leverage)))
		newSize := totalSize.Add(stageSize)
		avg = avg.Mul(totalSize).Add(trigger.Mul(stageSize)).Div(newSize)
		totalSize = newSize
		totalMargin = totalMargin.Add(margin)
		tpTarget = totalMargin.Mul(e.cfg.TPMultiplier)

		proj.Stages = append(proj.Stages, SimStage{
			StageIndex:    n,
			TriggerPrice:  trigger,
			Margin:        margin,
			Leverage:      leverage,
			Size:          stageSize,
			AvgEntryPrice: avg,
			TotalMargin:   totalMargin,
			TotalSize:     totalSize,
			TPPrice:       takeProfitPrice(avg, totalMargin, totalSize, tpTarget),
			TPTarget:      tpTarget,
		})
	}
	return proj, nil
}

func nearestBelow(snap models.ClusterSnapshot) decimal.Decimal {
	if len(snap.Below) == 0 {
		return decimal.Zero
	}
	return snap.Below[0].PriceLevel
}
