package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Position statuses. A position is created in StatusOpenInitial and only ever
// reaches StatusClosed once; StatusClosed is terminal.
const (
	StatusOpenInitial  = "open_initial"
	StatusDoubled      = "doubled"
	StatusMarginAdded  = "margin_added"
	StatusTrailingExit = "trailing_exit"
	StatusClosed       = "closed"
)

type Position struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	UUID  string `gorm:"type:varchar(40);not null;uniqueIndex"`
	Owner string `gorm:"type:varchar(100);not null;index:idx_positions_owner_symbol"`

	Symbol string `gorm:"type:varchar(30);not null;index:idx_positions_owner_symbol"`
	Status string `gorm:"type:varchar(20);not null;default:'open_initial';index"`

	CurrentLeverage int `gorm:"not null"`
	DoublingCount   int `gorm:"not null;default:0"`

	TotalMargin   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalSize     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	TPPrice  decimal.Decimal `gorm:"column:tp_price;type:numeric(20,10);not null;default:0"`
	TPTarget decimal.Decimal `gorm:"column:tp_target;type:numeric(30,10);not null;default:0"`

	TrailingActive        bool            `gorm:"not null;default:false"`
	TrailingHighWaterMark decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	// Ladder is the immutable entry ladder computed at open time: the margins
	// for the initial stage and each doubling, in order.
	Ladder          datatypes.JSON  `gorm:"type:jsonb;not null"`
	MarginAddBudget decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// Clusters is the latest ClusterSnapshot, re-centered after every doubling
	// and on the periodic refresh cadence.
	Clusters datatypes.JSON `gorm:"type:jsonb"`

	// ClosedSize and ReleasedMargin accumulate what partial and final closes
	// took out of the position, so current totals are always reconstructible
	// from the append-only stage history.
	ClosedSize     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ReleasedMargin decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	// Version increments on every mutating transition. The periodic cluster
	// refresh reads it before recomputing and skips the write when a
	// price-driven transition got there first.
	Version uint64 `gorm:"not null;default:0"`

	Stages []EntryStage `gorm:"foreignKey:PositionID;references:ID"`

	ClosedAt  *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}

func (p *Position) IsClosed() bool {
	return p.Status == StatusClosed
}

// EntryStage is one entry of a position: the initial open or a doubling.
// Rows are append-only and survive position close for audit.
type EntryStage struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	PositionID uint64 `gorm:"not null;index"`
	StageIndex int    `gorm:"not null"`

	Margin     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Leverage   int             `gorm:"not null"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Size       decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (EntryStage) TableName() string {
	return "entry_stages"
}
