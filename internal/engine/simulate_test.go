package engine

import (
	"errors"
	"testing"
)

func TestSimulate_OpeningOnly(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	proj, err := eng.Simulate(SimRequest{
		Symbol: "BTCUSDT", EntryPrice: d("50000"), Margin: d("500"), Leverage: 20,
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(proj.Stages) != 1 {
		t.Fatalf("stages=%d want=1", len(proj.Stages))
	}
	if proj.Stages[0].TPPrice.Cmp(d("51875")) != 0 {
		t.Fatalf("tp=%s want=51875", proj.Stages[0].TPPrice.String())
	}
	if proj.MarginAddBudget.Cmp(d("5000")) != 0 {
		t.Fatalf("budget=%s want=5000", proj.MarginAddBudget.String())
	}
	// Pure projection, nothing persisted.
	if len(st.positions) != 0 {
		t.Fatalf("simulate persisted %d positions", len(st.positions))
	}
}

func TestSimulate_DoublingChain(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	proj, err := eng.Simulate(SimRequest{
		Symbol: "BTCUSDT", EntryPrice: d("50000"), Margin: d("500"), Leverage: 20,
		SimulateDoubling: true,
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	// Opening stage plus four doublings.
	if len(proj.Stages) != 5 {
		t.Fatalf("stages=%d want=5", len(proj.Stages))
	}
	wantLeverage := []int{20, 10, 5, 2, 2}
	for i, s := range proj.Stages {
		if s.Leverage != wantLeverage[i] {
			t.Fatalf("stage %d leverage=%d want=%d", i, s.Leverage, wantLeverage[i])
		}
	}
	for i := 1; i < len(proj.Stages); i++ {
		prev, cur := proj.Stages[i-1], proj.Stages[i]
		if !cur.AvgEntryPrice.LessThan(prev.AvgEntryPrice) {
			t.Fatalf("stage %d avg did not fall: %s -> %s",
				i, prev.AvgEntryPrice.String(), cur.AvgEntryPrice.String())
		}
		if !cur.TPTarget.Equal(cur.TotalMargin.Mul(d("1.75"))) {
			t.Fatalf("stage %d tp_target=%s margin=%s",
				i, cur.TPTarget.String(), cur.TotalMargin.String())
		}
	}
	// Scenario as in live trading: the first doubling triggers at 48500.
	if proj.Stages[1].TriggerPrice.Cmp(d("48500")) != 0 {
		t.Fatalf("trigger=%s want=48500", proj.Stages[1].TriggerPrice.String())
	}
	if proj.Stages[1].AvgEntryPrice.Cmp(d("49250")) != 0 {
		t.Fatalf("avg=%s want=49250", proj.Stages[1].AvgEntryPrice.String())
	}
}

func TestSimulate_RejectsBadInput(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	cases := []SimRequest{
		{Symbol: "BTCUSDT", EntryPrice: d("0"), Margin: d("500"), Leverage: 20},
		{Symbol: "BTCUSDT", EntryPrice: d("50000"), Margin: d("0"), Leverage: 20},
		{Symbol: "BTCUSDT", EntryPrice: d("50000"), Margin: d("500"), Leverage: 7},
	}
	for i, req := range cases {
		if _, err := eng.Simulate(req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d err=%v want ErrInvalidInput", i, err)
		}
	}
}
