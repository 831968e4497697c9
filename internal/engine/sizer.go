package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ladder is the immutable sizing plan computed once per position: the margin
// for the initial entry and for each doubling, plus the reserve available for
// margin top-ups after the ladder is exhausted.
type Ladder struct {
	Margins         []decimal.Decimal
	MarginAddBudget decimal.Decimal
}

// LastMargin returns the deepest ladder rung.
func (l Ladder) LastMargin() decimal.Decimal {
	if len(l.Margins) == 0 {
		return decimal.Zero
	}
	return l.Margins[len(l.Margins)-1]
}

func (l Ladder) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, m := range l.Margins {
		sum = sum.Add(m)
	}
	return sum
}

// Sizer converts available capital into an entry ladder. Each rung doubles
// the previous one, starting at StartFraction of capital; everything between
// the ladder sum and CapFraction of capital becomes the margin-add reserve.
type Sizer struct {
	StartFraction decimal.Decimal
	Rungs         int
	CapFraction   decimal.Decimal
}

// NewSizer validates the sizing parameters up front so a misconfigured ladder
// fails at construction, not mid-position.
func NewSizer(startFraction decimal.Decimal, rungs int, capFraction decimal.Decimal) (*Sizer, error) {
	if startFraction.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: ladder start fraction must be positive", ErrConfig)
	}
	if rungs < 1 {
		return nil, fmt.Errorf("%w: ladder needs at least one rung", ErrConfig)
	}
	if capFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: capital cap fraction above 1", ErrConfig)
	}
	ladderFraction := decimal.Zero
	rung := startFraction
	for i := 0; i < rungs; i++ {
		ladderFraction = ladderFraction.Add(rung)
		rung = rung.Mul(two)
	}
	if ladderFraction.GreaterThan(capFraction) {
		return nil, fmt.Errorf("%w: ladder consumes %s of capital, cap is %s",
			ErrConfig, ladderFraction.String(), capFraction.String())
	}
	return &Sizer{StartFraction: startFraction, Rungs: rungs, CapFraction: capFraction}, nil
}

// DefaultSizer is the 2%/4%/8%/16% ladder with a 50% total capital cap.
func DefaultSizer() *Sizer {
	s, err := NewSizer(decimal.NewFromFloat(0.02), 4, decimal.NewFromFloat(0.5))
	if err != nil {
		panic(err)
	}
	return s
}

// ComputeEntryLadder builds the margin ladder for the given capital.
func (s *Sizer) ComputeEntryLadder(capital decimal.Decimal) (Ladder, error) {
	if capital.LessThanOrEqual(decimal.Zero) {
		return Ladder{}, fmt.Errorf("%w: capital must be positive", ErrConfig)
	}
	margins := make([]decimal.Decimal, 0, s.Rungs)
	rung := capital.Mul(s.StartFraction)
	sum := decimal.Zero
	for i := 0; i < s.Rungs; i++ {
		margins = append(margins, rung)
		sum = sum.Add(rung)
		rung = rung.Mul(two)
	}
	budget := capital.Mul(s.CapFraction).Sub(sum)
	if budget.LessThan(decimal.Zero) {
		budget = decimal.Zero
	}
	return Ladder{Margins: margins, MarginAddBudget: budget}, nil
}

// CapitalForOpeningMargin inverts the ladder: the opening margin is by
// definition the first rung, so the implied capital base is margin divided by
// the start fraction.
func (s *Sizer) CapitalForOpeningMargin(margin decimal.Decimal) decimal.Decimal {
	return margin.Div(s.StartFraction)
}

var two = decimal.NewFromInt(2)
