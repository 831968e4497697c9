package db

import (
	"levtrade/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	if err := db.Gorm.AutoMigrate(
		&models.Position{},
		&models.EntryStage{},
		&models.LifecycleEvent{},
	); err != nil {
		return err
	}
	// One non-closed position per (owner, symbol). AutoMigrate cannot express
	// a partial index, so it is created directly.
	return db.Gorm.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_positions_open_owner_symbol
		ON positions (owner, symbol) WHERE status <> 'closed'`).Error
}
