package engine

import (
	"context"
	"fmt"

	"levtrade/internal/models"
	"levtrade/internal/store"
)

// stubStore is a test-only in-memory PositionStore. No locking: engine tests
// drive it from one goroutine.
type stubStore struct {
	nextID    uint64
	positions map[string]*models.Position
	stages    map[uint64][]models.EntryStage
	events    []models.LifecycleEvent
}

func newStubStore() *stubStore {
	return &stubStore{
		positions: map[string]*models.Position{},
		stages:    map[uint64][]models.EntryStage{},
	}
}

func (s *stubStore) Insert(_ context.Context, p *models.Position) error {
	s.nextID++
	p.ID = s.nextID
	cp := *p
	s.positions[p.UUID] = &cp
	return nil
}

func (s *stubStore) Update(_ context.Context, p *models.Position) error {
	if _, ok := s.positions[p.UUID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p.UUID)
	}
	cp := *p
	cp.Stages = nil
	s.positions[p.UUID] = &cp
	return nil
}

func (s *stubStore) GetByUUID(_ context.Context, uuid string) (*models.Position, error) {
	p, ok := s.positions[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	cp := *p
	cp.Stages = append([]models.EntryStage(nil), s.stages[p.ID]...)
	return &cp, nil
}

func (s *stubStore) GetOpenByOwnerSymbol(_ context.Context, owner, symbol string) (*models.Position, error) {
	for _, p := range s.positions {
		if p.Owner == owner && p.Symbol == symbol && !p.IsClosed() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, symbol)
}

func (s *stubStore) ListOpen(_ context.Context) ([]*models.Position, error) {
	var items []*models.Position
	for _, p := range s.positions {
		if !p.IsClosed() {
			cp := *p
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (s *stubStore) List(_ context.Context, _ store.ListParams) ([]*models.Position, int64, error) {
	items, _ := s.ListOpen(context.Background())
	return items, int64(len(items)), nil
}

func (s *stubStore) AppendStage(_ context.Context, stage *models.EntryStage) error {
	s.nextID++
	stage.ID = s.nextID
	s.stages[stage.PositionID] = append(s.stages[stage.PositionID], *stage)
	return nil
}

func (s *stubStore) AppendEvent(_ context.Context, e *models.LifecycleEvent) error {
	s.nextID++
	e.ID = s.nextID
	s.events = append(s.events, *e)
	return nil
}

func (s *stubStore) ListEvents(_ context.Context, positionID uint64, _ int) ([]*models.LifecycleEvent, error) {
	var items []*models.LifecycleEvent
	for i := range s.events {
		if s.events[i].PositionID == positionID {
			cp := s.events[i]
			items = append(items, &cp)
		}
	}
	return items, nil
}

// captureSink records published events in order.
type captureSink struct {
	events []Event
}

func (c *captureSink) Publish(evt Event) {
	c.events = append(c.events, evt)
}
