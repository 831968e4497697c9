package memorystore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"levtrade/internal/engine"
	"levtrade/internal/models"
	"levtrade/internal/store"
)

// Store is the in-memory PositionStore, used by tests and by single-process
// deployments that do not need persistence. All methods copy on the way in
// and out so callers never share row memory with the store.
type Store struct {
	mu        sync.RWMutex
	nextID    uint64
	positions map[uint64]*models.Position
	byUUID    map[string]uint64
	stages    map[uint64][]models.EntryStage
	events    []models.LifecycleEvent
}

func New() *Store {
	return &Store{
		positions: map[uint64]*models.Position{},
		byUUID:    map[string]uint64{},
		stages:    map[uint64][]models.EntryStage{},
	}
}

func (s *Store) Insert(_ context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUUID[p.UUID]; ok {
		return fmt.Errorf("%w: duplicate uuid %s", engine.ErrInvalidInput, p.UUID)
	}
	// At most one non-closed position per (owner, symbol); checked here, under
	// the store mutex, so racing inserts cannot both slip past a prior lookup.
	// Mirrors the partial unique index the postgres store relies on.
	if !p.IsClosed() {
		for _, existing := range s.positions {
			if existing.Owner == p.Owner && existing.Symbol == p.Symbol && !existing.IsClosed() {
				return fmt.Errorf("%w: open position %s already exists for %s/%s",
					engine.ErrInvalidInput, existing.UUID, p.Owner, p.Symbol)
			}
		}
	}
	s.nextID++
	p.ID = s.nextID
	cp := *p
	cp.Stages = nil
	s.positions[p.ID] = &cp
	s.byUUID[p.UUID] = p.ID
	return nil
}

func (s *Store) Update(_ context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("%w: id %d", engine.ErrNotFound, p.ID)
	}
	cp := *p
	cp.Stages = nil
	s.positions[p.ID] = &cp
	return nil
}

func (s *Store) GetByUUID(_ context.Context, uuid string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, uuid)
	}
	cp := *s.positions[id]
	cp.Stages = append([]models.EntryStage(nil), s.stages[id]...)
	return &cp, nil
}

func (s *Store) GetOpenByOwnerSymbol(_ context.Context, owner, symbol string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.Owner == owner && p.Symbol == symbol && !p.IsClosed() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", engine.ErrNotFound, owner, symbol)
}

func (s *Store) ListOpen(_ context.Context) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*models.Position
	for _, p := range s.positions {
		if !p.IsClosed() {
			cp := *p
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) List(_ context.Context, params store.ListParams) ([]*models.Position, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Position
	for _, p := range s.positions {
		if params.Owner != "" && p.Owner != params.Owner {
			continue
		}
		if params.Symbol != "" && p.Symbol != params.Symbol {
			continue
		}
		if params.Status != "" && p.Status != params.Status {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *Store) AppendStage(_ context.Context, stage *models.EntryStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[stage.PositionID]; !ok {
		return fmt.Errorf("%w: position id %d", engine.ErrNotFound, stage.PositionID)
	}
	s.nextID++
	stage.ID = s.nextID
	s.stages[stage.PositionID] = append(s.stages[stage.PositionID], *stage)
	return nil
}

func (s *Store) AppendEvent(_ context.Context, e *models.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.events = append(s.events, *e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, positionID uint64, limit int) ([]*models.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []*models.LifecycleEvent
	for i := len(s.events) - 1; i >= 0 && len(items) < limit; i-- {
		if s.events[i].PositionID == positionID {
			cp := s.events[i]
			items = append(items, &cp)
		}
	}
	return items, nil
}
