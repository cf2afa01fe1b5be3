// Package storage persists the event log and state snapshots that
// vault.Engine produces, mirroring the gorm model-plus-AutoMigrate pattern
// the teacher's otc-gateway service uses for its own audit trail.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// eventRow is the persisted form of an events.Record.
type eventRow struct {
	Sequence  uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type      string `gorm:"size:64;index"`
	Timestamp time.Time
	Attrs     string `gorm:"type:text"` // JSON-encoded map[string]string
}

func (eventRow) TableName() string { return "events" }

// snapshotRow holds the single latest full-state envelope. Unlike eventRow,
// this table is overwritten in place rather than appended to: Engine only
// ever needs the most recent snapshot to restore from on restart.
type snapshotRow struct {
	ID        uint   `gorm:"primaryKey"`
	Payload   string `gorm:"type:text"` // JSON-encoded vault.Snapshot
	Checksum  string `gorm:"size:64"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// autoMigrate applies schema migrations for both tables.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&eventRow{}, &snapshotRow{})
}
