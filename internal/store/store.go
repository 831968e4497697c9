package store

import (
	"context"

	"levtrade/internal/models"
)

// ListParams filters and pages position listings.
type ListParams struct {
	Owner  string
	Symbol string
	Status string
	Limit  int
	Offset int
}

// PositionStore is the persistence boundary for positions, their append-only
// entry stages and the lifecycle event log. Implementations must make
// Insert/Update/AppendStage/AppendEvent individually atomic; the engine
// serializes all writes to one position behind a per-position lock, so the
// store never sees concurrent writes for the same row.
type PositionStore interface {
	Insert(ctx context.Context, p *models.Position) error
	Update(ctx context.Context, p *models.Position) error

	// GetByUUID loads a position with its stages preloaded.
	GetByUUID(ctx context.Context, uuid string) (*models.Position, error)
	GetOpenByOwnerSymbol(ctx context.Context, owner, symbol string) (*models.Position, error)
	ListOpen(ctx context.Context) ([]*models.Position, error)
	List(ctx context.Context, params ListParams) ([]*models.Position, int64, error)

	AppendStage(ctx context.Context, s *models.EntryStage) error

	AppendEvent(ctx context.Context, e *models.LifecycleEvent) error
	ListEvents(ctx context.Context, positionID uint64, limit int) ([]*models.LifecycleEvent, error)
}
