package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"levtrade/internal/engine"
	"levtrade/internal/models"
	"levtrade/internal/store"
)

// Store is the postgres-backed PositionStore.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, p *models.Position) error {
	err := s.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Tripped the partial unique index on open (owner, symbol).
		return fmt.Errorf("%w: open position already exists for %s/%s",
			engine.ErrInvalidInput, p.Owner, p.Symbol)
	}
	return err
}

func (s *Store) Update(ctx context.Context, p *models.Position) error {
	return s.db.WithContext(ctx).Omit("Stages").Save(p).Error
}

func (s *Store) GetByUUID(ctx context.Context, uuid string) (*models.Position, error) {
	var p models.Position
	err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("stage_index ASC")
		}).
		Where("uuid = ?", uuid).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetOpenByOwnerSymbol(ctx context.Context, owner, symbol string) (*models.Position, error) {
	var p models.Position
	err := s.db.WithContext(ctx).
		Where("owner = ? AND symbol = ? AND status <> ?", owner, symbol, models.StatusClosed).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", engine.ErrNotFound, owner, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListOpen(ctx context.Context) ([]*models.Position, error) {
	var items []*models.Position
	err := s.db.WithContext(ctx).
		Where("status <> ?", models.StatusClosed).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) List(ctx context.Context, params store.ListParams) ([]*models.Position, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Owner != "" {
		query = query.Where("owner = ?", params.Owner)
	}
	if params.Symbol != "" {
		query = query.Where("symbol = ?", params.Symbol)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []*models.Position
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) AppendStage(ctx context.Context, stage *models.EntryStage) error {
	return s.db.WithContext(ctx).Create(stage).Error
}

func (s *Store) AppendEvent(ctx context.Context, e *models.LifecycleEvent) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) ListEvents(ctx context.Context, positionID uint64, limit int) ([]*models.LifecycleEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []*models.LifecycleEvent
	err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
