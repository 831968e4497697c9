package memorystore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levtrade/internal/engine"
	"levtrade/internal/models"
	"levtrade/internal/store"
)

func TestStore_InsertGetUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &models.Position{
		UUID:   "u1",
		Owner:  "alice",
		Symbol: "BTCUSDT",
		Status: models.StatusOpenInitial,
	}
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("id not assigned")
	}
	if err := s.Insert(ctx, &models.Position{UUID: "u1"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("duplicate insert err=%v", err)
	}

	got, err := s.GetByUUID(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = models.StatusClosed
	// The store copies rows; mutating the returned value changes nothing.
	again, _ := s.GetByUUID(ctx, "u1")
	if again.Status != models.StatusOpenInitial {
		t.Fatalf("store row mutated through returned copy")
	}

	got.Version = 2
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ = s.GetByUUID(ctx, "u1")
	if again.Version != 2 || again.Status != models.StatusClosed {
		t.Fatalf("update not applied: %+v", again)
	}

	if _, err := s.GetByUUID(ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestStore_OpenLookupAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	open := &models.Position{UUID: "u1", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusOpenInitial}
	closed := &models.Position{UUID: "u2", Owner: "alice", Symbol: "ETHUSDT", Status: models.StatusClosed}
	if err := s.Insert(ctx, open); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, closed); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetOpenByOwnerSymbol(ctx, "alice", "BTCUSDT")
	if err != nil || got.UUID != "u1" {
		t.Fatalf("open lookup: %v %+v", err, got)
	}
	if _, err := s.GetOpenByOwnerSymbol(ctx, "alice", "ETHUSDT"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("closed position matched open lookup: %v", err)
	}

	openList, err := s.ListOpen(ctx)
	if err != nil || len(openList) != 1 {
		t.Fatalf("list open: %v len=%d", err, len(openList))
	}

	items, total, err := s.List(ctx, store.ListParams{Owner: "alice"})
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("list: %v total=%d len=%d", err, total, len(items))
	}
	items, total, err = s.List(ctx, store.ListParams{Status: models.StatusClosed})
	if err != nil || total != 1 || items[0].UUID != "u2" {
		t.Fatalf("filtered list: %v total=%d", err, total)
	}
}

func TestStore_StagesAndEvents(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &models.Position{UUID: "u1", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusOpenInitial}
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := s.AppendStage(ctx, &models.EntryStage{
			PositionID: p.ID,
			StageIndex: i,
			Margin:     decimal.NewFromInt(int64(500 * (i + 1))),
		})
		if err != nil {
			t.Fatalf("append stage %d: %v", i, err)
		}
	}
	if err := s.AppendStage(ctx, &models.EntryStage{PositionID: 999}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("orphan stage err=%v", err)
	}

	got, _ := s.GetByUUID(ctx, "u1")
	if len(got.Stages) != 3 || got.Stages[2].StageIndex != 2 {
		t.Fatalf("stages=%+v", got.Stages)
	}

	for _, typ := range []string{models.EventOpened, models.EventDoubled} {
		if err := s.AppendEvent(ctx, &models.LifecycleEvent{PositionID: p.ID, EventType: typ}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := s.ListEvents(ctx, p.ID, 10)
	if err != nil || len(events) != 2 {
		t.Fatalf("events: %v len=%d", err, len(events))
	}
	// Newest first.
	if events[0].EventType != models.EventDoubled {
		t.Fatalf("order: %+v", events)
	}
}

func TestStore_InsertRejectsSecondOpenForOwnerSymbol(t *testing.T) {
	s := New()
	ctx := context.Background()

	closedFirst := &models.Position{UUID: "u0", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusClosed}
	if err := s.Insert(ctx, closedFirst); err != nil {
		t.Fatalf("closed insert: %v", err)
	}
	// A closed row does not block opening.
	if err := s.Insert(ctx, &models.Position{UUID: "u1", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusOpenInitial}); err != nil {
		t.Fatalf("open insert: %v", err)
	}
	err := s.Insert(ctx, &models.Position{UUID: "u2", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusDoubled})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("second open insert err=%v want ErrInvalidInput", err)
	}
	// Other symbols and closed rows are unaffected.
	if err := s.Insert(ctx, &models.Position{UUID: "u3", Owner: "alice", Symbol: "ETHUSDT", Status: models.StatusOpenInitial}); err != nil {
		t.Fatalf("other symbol insert: %v", err)
	}
	if err := s.Insert(ctx, &models.Position{UUID: "u4", Owner: "alice", Symbol: "BTCUSDT", Status: models.StatusClosed}); err != nil {
		t.Fatalf("closed insert while open exists: %v", err)
	}
}

type nopSink struct{}

func (nopSink) Publish(engine.Event) {}

func TestStore_ConcurrentEngineOpensSingleWinner(t *testing.T) {
	s := New()
	eng, err := engine.New(s, engine.DefaultSizer(), engine.DefaultPercentBandTracker(),
		nopSink{}, zap.NewNop(), engine.DefaultConfig())
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.OpenPosition(ctx, engine.OpenRequest{
				Owner:      "alice",
				Symbol:     "BTCUSDT",
				EntryPrice: decimal.NewFromInt(50000),
				Margin:     decimal.NewFromInt(500),
				Leverage:   20,
			})
		}(i)
	}
	wg.Wait()

	opened := 0
	for i, oerr := range errs {
		switch {
		case oerr == nil:
			opened++
		case errors.Is(oerr, engine.ErrInvalidInput):
		default:
			t.Fatalf("goroutine %d err=%v", i, oerr)
		}
	}
	if opened != 1 {
		t.Fatalf("opened=%d want=1", opened)
	}
	open, err := s.ListOpen(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("list open: %v len=%d", err, len(open))
	}
}
