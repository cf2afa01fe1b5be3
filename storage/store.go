package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nhbvault/events"
	"nhbvault/vault"
)

// Store wraps the gorm connection backing vaultd's event log and state
// snapshots. Both sqlite and postgres are supported; the driver is picked at
// Open time by the caller's config, the way the teacher's services pick a
// sql.Open driver name from their own config structs.
type Store struct {
	db *gorm.DB
}

// Open connects to the store identified by driver ("sqlite" or "postgres")
// and dsn, and migrates its schema. An empty driver defaults to sqlite.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "vaultd.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendEvent persists a single Record. Sequence is the primary key, so a
// replayed Append (same sequence) is a conflict rather than a silent
// duplicate — callers only ever append what Engine's in-memory Log already
// assigned a fresh sequence to.
func (s *Store) AppendEvent(rec events.Record) error {
	attrs, err := json.Marshal(rec.Attrs)
	if err != nil {
		return fmt.Errorf("storage: marshal event attrs: %w", err)
	}
	row := eventRow{
		Sequence:  rec.Sequence,
		Type:      rec.Type,
		Timestamp: rec.Timestamp,
		Attrs:     string(attrs),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// Events returns up to length persisted records starting at start, ordered
// by sequence, matching the in-memory Log.Slice contract so the RPC's
// get_events handler can serve either source interchangeably.
func (s *Store) Events(start, length uint64) ([]events.Record, error) {
	var rows []eventRow
	if err := s.db.Where("sequence >= ?", start).Order("sequence asc").Limit(int(length)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	out := make([]events.Record, 0, len(rows))
	for _, row := range rows {
		var attrs map[string]string
		if err := json.Unmarshal([]byte(row.Attrs), &attrs); err != nil {
			return nil, fmt.Errorf("storage: unmarshal event attrs: %w", err)
		}
		out = append(out, events.Record{
			Sequence:  row.Sequence,
			Type:      row.Type,
			Timestamp: row.Timestamp,
			Attrs:     attrs,
		})
	}
	return out, nil
}

// SaveSnapshot overwrites the single stored snapshot row with snap, stamping
// it with a checksum computed over its JSON encoding so LoadSnapshot can
// detect truncated or corrupted writes.
func (s *Store) SaveSnapshot(snap *vault.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(payload)
	row := snapshotRow{
		ID:       1,
		Payload:  string(payload),
		Checksum: hex.EncodeToString(sum[:]),
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("storage: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted snapshot, or ok=false if genesis (no
// snapshot has been saved yet). A checksum mismatch is a fatal corruption
// error, not something the caller should silently fall back from.
func (s *Store) LoadSnapshot() (snap *vault.Snapshot, ok bool, err error) {
	var row snapshotRow
	result := s.db.First(&row, "id = ?", 1)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: load snapshot: %w", result.Error)
	}
	sum := sha256.Sum256([]byte(row.Payload))
	if hex.EncodeToString(sum[:]) != row.Checksum {
		return nil, false, fmt.Errorf("storage: snapshot checksum mismatch")
	}
	var out vault.Snapshot
	if err := json.Unmarshal([]byte(row.Payload), &out); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal snapshot: %w", err)
	}
	return &out, true, nil
}
