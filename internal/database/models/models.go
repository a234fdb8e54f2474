// Package models contains the database model definitions. The engine
// persists exactly one table of its own state across restarts: arbitrary
// key/value settings (the kick-flash config, and the Art-Net target, which
// is read at startup if present). Manual threshold overrides are not
// persisted. Fixtures, scenes, and sequences are built-in in-memory
// defaults, not loaded from SQLite.
package models

import "time"

// Setting represents a system setting, stored as an opaque key/value pair
// so new settings never require a migration.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }
