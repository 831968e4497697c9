package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeEntryLadder_Defaults(t *testing.T) {
	ladder, err := DefaultSizer().ComputeEntryLadder(decimal.NewFromInt(25000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"500", "1000", "2000", "4000"}
	if len(ladder.Margins) != len(want) {
		t.Fatalf("rungs=%d want=%d", len(ladder.Margins), len(want))
	}
	for i, w := range want {
		if ladder.Margins[i].Cmp(decimal.RequireFromString(w)) != 0 {
			t.Fatalf("rung %d=%s want=%s", i, ladder.Margins[i].String(), w)
		}
	}
	// 50% cap minus the 30% ladder leaves a 20% reserve.
	if ladder.MarginAddBudget.Cmp(decimal.NewFromInt(5000)) != 0 {
		t.Fatalf("budget=%s want=5000", ladder.MarginAddBudget.String())
	}
}

func TestComputeEntryLadder_NonPositiveCapital(t *testing.T) {
	for _, capital := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-100)} {
		if _, err := DefaultSizer().ComputeEntryLadder(capital); !errors.Is(err, ErrConfig) {
			t.Fatalf("capital=%s err=%v want ErrConfig", capital.String(), err)
		}
	}
}

func TestNewSizer_LadderExceedsCap(t *testing.T) {
	// 10% start doubles to 10+20+40+80 = 150% of capital.
	_, err := NewSizer(decimal.NewFromFloat(0.10), 4, decimal.NewFromFloat(0.5))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}

func TestCapitalForOpeningMargin_Inverts(t *testing.T) {
	s := DefaultSizer()
	capital := s.CapitalForOpeningMargin(decimal.NewFromInt(500))
	if capital.Cmp(decimal.NewFromInt(25000)) != 0 {
		t.Fatalf("capital=%s want=25000", capital.String())
	}
	ladder, err := s.ComputeEntryLadder(capital)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ladder.Margins[0].Cmp(decimal.NewFromInt(500)) != 0 {
		t.Fatalf("first rung=%s want=500", ladder.Margins[0].String())
	}
}
