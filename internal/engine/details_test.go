package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levtrade/internal/models"
)

// hookStore delegates to a stubStore and runs callbacks at chosen points in a
// persistence sequence, to exercise readers and the refresh task against
// in-flight transitions.
type hookStore struct {
	*stubStore
	afterUpdate   func()
	afterListOpen func()
}

func (h *hookStore) Update(ctx context.Context, p *models.Position) error {
	err := h.stubStore.Update(ctx, p)
	if h.afterUpdate != nil {
		h.afterUpdate()
	}
	return err
}

func (h *hookStore) ListOpen(ctx context.Context) ([]*models.Position, error) {
	items, err := h.stubStore.ListOpen(ctx)
	if h.afterListOpen != nil {
		h.afterListOpen()
	}
	return items, err
}

func newHookedEngine(t *testing.T) (*Engine, *hookStore) {
	t.Helper()
	hs := &hookStore{stubStore: newStubStore()}
	eng, err := New(hs, DefaultSizer(), DefaultPercentBandTracker(), &captureSink{}, zap.NewNop(), DefaultConfig())
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	return eng, hs
}

type failingTracker struct{}

func (failingTracker) Clusters(string, decimal.Decimal) (models.ClusterSnapshot, error) {
	return models.ClusterSnapshot{}, errors.New("order book unavailable")
}

func tightBandTracker(t *testing.T) *PercentBandTracker {
	t.Helper()
	tr, err := NewPercentBandTracker([]decimal.Decimal{d("0.01"), d("0.02")}, nil)
	if err != nil {
		t.Fatalf("tracker init: %v", err)
	}
	return tr
}

func storedClusters(t *testing.T, eng *Engine, uuid string) models.ClusterSnapshot {
	t.Helper()
	pos, err := eng.store.GetByUUID(context.Background(), uuid)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	var snap models.ClusterSnapshot
	if err := json.Unmarshal(pos.Clusters, &snap); err != nil {
		t.Fatalf("decode clusters: %v", err)
	}
	return snap
}

func TestGetPositionDetails_ConsistentDuringTransition(t *testing.T) {
	eng, hs := newHookedEngine(t)
	ctx := context.Background()
	pos := openBTC(t, eng)

	// A doubling persists the tracked columns and the new stage row in two
	// separate store calls. A reader started between the two must block until
	// the transition finishes and then see reconciled totals.
	viewCh := make(chan *PositionView, 1)
	var once sync.Once
	hs.afterUpdate = func() {
		once.Do(func() {
			go func() {
				v, err := eng.GetPositionDetails(ctx, pos.UUID)
				if err != nil {
					v = nil
				}
				viewCh <- v
			}()
			time.Sleep(20 * time.Millisecond)
		})
	}

	if _, err := eng.UpdatePosition(ctx, pos.UUID, d("48500")); err != nil {
		t.Fatalf("tick: %v", err)
	}

	view := <-viewCh
	if view == nil {
		t.Fatalf("details failed mid-transition")
	}
	if !view.ReconciliationOK {
		t.Fatalf("reader observed drifted totals mid-transition: margin=%s size=%s stages=%d",
			view.TotalMargin.String(), view.TotalSize.String(), len(view.Stages))
	}
	if view.TotalMargin.Cmp(d("1500")) != 0 || len(view.Stages) != 2 {
		t.Fatalf("margin=%s stages=%d want post-doubling view", view.TotalMargin.String(), len(view.Stages))
	}
}

func TestRefreshClusters_RecomputesWithoutVersionBump(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	pos := openBTC(t, eng)

	eng.tracker = tightBandTracker(t)
	eng.RefreshClusters(ctx)

	snap := storedClusters(t, eng, pos.UUID)
	if snap.Above[0].PriceLevel.Cmp(d("50500")) != 0 {
		t.Fatalf("above[0]=%s want=50500 after refresh", snap.Above[0].PriceLevel.String())
	}
	reloaded, err := eng.store.GetByUUID(ctx, pos.UUID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Version != 1 {
		t.Fatalf("version=%d want=1, refresh is not a transition", reloaded.Version)
	}
}

func TestRefreshClusters_YieldsWhenVersionMoved(t *testing.T) {
	eng, hs := newHookedEngine(t)
	ctx := context.Background()
	pos := openBTC(t, eng)

	// A transition lands between listing and locking; the refresh must yield
	// and leave the snapshot to the next cadence.
	hs.afterListOpen = func() {
		p, err := hs.stubStore.GetByUUID(ctx, pos.UUID)
		if err != nil {
			t.Errorf("reload in hook: %v", err)
			return
		}
		p.Version++
		if err := hs.stubStore.Update(ctx, p); err != nil {
			t.Errorf("update in hook: %v", err)
		}
	}
	eng.tracker = tightBandTracker(t)
	eng.RefreshClusters(ctx)

	snap := storedClusters(t, eng, pos.UUID)
	if snap.Above[0].PriceLevel.Cmp(d("51500")) != 0 {
		t.Fatalf("above[0]=%s want=51500, stale refresh overwrote a newer version", snap.Above[0].PriceLevel.String())
	}
}

func TestRefreshClusters_SkipsTrailingPositions(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	pos := openBTC(t, eng)

	// Take-profit arms trailing and consumes the 51500 exit level on the way
	// up; only 53000 remains.
	res, err := eng.UpdatePosition(ctx, pos.UUID, d("51875"))
	if err != nil {
		t.Fatalf("tp tick: %v", err)
	}
	if res.Status != models.StatusTrailingExit {
		t.Fatalf("status=%s want=%s", res.Status, models.StatusTrailingExit)
	}

	eng.tracker = tightBandTracker(t)
	eng.RefreshClusters(ctx)

	snap := storedClusters(t, eng, pos.UUID)
	if len(snap.Above) != 1 || snap.Above[0].PriceLevel.Cmp(d("53000")) != 0 {
		t.Fatalf("above=%+v want single 53000 level, refresh re-armed consumed exits", snap.Above)
	}
}

func TestRefreshClusters_TrackerFailureLeavesSnapshot(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	pos := openBTC(t, eng)

	eng.tracker = failingTracker{}
	eng.RefreshClusters(ctx)

	snap := storedClusters(t, eng, pos.UUID)
	if snap.Above[0].PriceLevel.Cmp(d("51500")) != 0 {
		t.Fatalf("above[0]=%s want=51500, failed refresh touched the snapshot", snap.Above[0].PriceLevel.String())
	}

	// Tick processing is unaffected by refresh failures.
	res, err := eng.UpdatePosition(ctx, pos.UUID, d("50500"))
	if err != nil {
		t.Fatalf("tick after failed refresh: %v", err)
	}
	if res.Transition != "" || res.Closed {
		t.Fatalf("unexpected transition %q after failed refresh", res.Transition)
	}
}
