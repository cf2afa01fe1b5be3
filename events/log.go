package events

import (
	"sync"
	"time"
)

// Log is an in-memory, append-only sequence of Records. The engine appends
// under its own state mutex, so Log itself only needs to protect readers
// (RPC's get_events) against concurrent appends.
type Log struct {
	mu      sync.RWMutex
	records []Record
	next    uint64
}

// NewLog constructs an empty log.
func NewLog() *Log {
	return &Log{}
}

// LoadLog rebuilds a Log from records already persisted by storage.Store,
// preserving their original sequence numbers so a restored log's checksum
// matches the one stamped into a snapshot taken before restart. records must
// be ordered by Sequence, as storage.Store.Events returns them.
func LoadLog(records []Record) *Log {
	l := &Log{records: append([]Record(nil), records...)}
	if n := len(records); n > 0 {
		l.next = records[n-1].Sequence + 1
	}
	return l
}

// Append records ev at the next sequence number, stamped with ts, and
// returns the stored Record. ts is supplied by the caller (the engine's
// single mutation point) rather than read internally, keeping Log itself
// free of wall-clock dependencies and deterministic under test.
func (l *Log) Append(ev Event, ts time.Time) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := Record{
		Sequence:  l.next,
		Type:      ev.EventType(),
		Timestamp: ts,
		Attrs:     ev.Attributes(),
	}
	l.records = append(l.records, rec)
	l.next++
	return rec
}

// Len reports the number of records appended so far.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// Slice returns up to length records starting at start, clamped to the log's
// bounds, matching the §6 get_events(start, length) contract.
func (l *Log) Slice(start, length uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if start >= uint64(len(l.records)) {
		return nil
	}
	end := start + length
	if end > uint64(len(l.records)) {
		end = uint64(len(l.records))
	}
	out := make([]Record, end-start)
	copy(out, l.records[start:end])
	return out
}
