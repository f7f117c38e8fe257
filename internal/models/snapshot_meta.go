package models

import "time"

// SnapshotMeta describes the last saved snapshot.
// There should only ever be one row in this table.
type SnapshotMeta struct {
	ID       uint `gorm:"primaryKey"`
	SavedAt  time.Time
	Sessions int
}
