package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lifecycle event types emitted to notification sinks and appended to the
// audit log.
const (
	EventOpened        = "position_opened"
	EventPartialTP     = "partial_take_profit"
	EventTrailingStart = "trailing_exit_armed"
	EventDoubled       = "position_doubled"
	EventMarginAdded   = "margin_added"
	EventClosed        = "position_closed"
	EventRiskLimitHit  = "risk_limit_exceeded"
)

// LifecycleEvent is the append-only audit record of a position transition.
type LifecycleEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	PositionID uint64 `gorm:"not null;index"`
	Symbol     string `gorm:"type:varchar(30);not null;index"`

	EventType string         `gorm:"type:varchar(40);not null;index"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (LifecycleEvent) TableName() string {
	return "lifecycle_events"
}
