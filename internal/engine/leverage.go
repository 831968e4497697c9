package engine

import "github.com/shopspring/decimal"

// Leverage tiers, highest to lowest. A position only ever steps down this
// list, it never revisits a tier.
var leverageTiers = []int{20, 10, 5, 2}

// SelectInitialLeverage maps a risk score in [0,1] to an opening leverage.
// Higher risk means lower leverage.
func SelectInitialLeverage(risk decimal.Decimal) int {
	switch {
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.8)):
		return 2
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.6)):
		return 5
	case risk.GreaterThanOrEqual(decimal.NewFromFloat(0.4)):
		return 10
	default:
		return 20
	}
}

// SelectDoublingLeverage returns the leverage for the nth doubling (1-based).
// The first three doublings step down the tier list from the entry leverage;
// once the floor tier is reached further doublings keep the current leverage.
func SelectDoublingLeverage(doubling int, current int) int {
	if doubling >= 4 {
		return current
	}
	for i, tier := range leverageTiers {
		if tier == current {
			if i+1 < len(leverageTiers) {
				return leverageTiers[i+1]
			}
			return current
		}
		if tier < current {
			// current sits between tiers, take the next one below it
			return tier
		}
	}
	return leverageTiers[len(leverageTiers)-1]
}
