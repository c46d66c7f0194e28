// Package xmin implements Core A: an xmin-based incremental replication
// engine between two PostgreSQL databases.
package xmin

import "time"

// WraparoundThreshold is the delta above which a decrease in xmin is
// treated as transaction ID wraparound rather than a stale watermark.
// PostgreSQL xmin is a 32-bit counter; 2 billion, a little under half its
// range (2^31), is the accepted boundary for "this surely wrapped".
const WraparoundThreshold uint32 = 2_000_000_000

// WraparoundCheck is the result of comparing a previous high-water mark
// against the database's current transaction id.
type WraparoundCheck int

const (
	// Normal means incremental sync can proceed from oldXmin.
	Normal WraparoundCheck = iota
	// WraparoundDetected means a full table resync is required.
	WraparoundDetected
)

func (w WraparoundCheck) String() string {
	if w == WraparoundDetected {
		return "wraparound_detected"
	}
	return "normal"
}

// DetectWraparound compares a previously recorded xmin against the
// database's current transaction id and reports whether a 32-bit
// wraparound occurred between the two observations.
func DetectWraparound(oldXmin, currentXmin uint32) WraparoundCheck {
	if oldXmin > currentXmin && oldXmin-currentXmin > WraparoundThreshold {
		return WraparoundDetected
	}
	return Normal
}

// ColumnInfo describes one column of a synced table, read from the
// source's information_schema.
type ColumnInfo struct {
	Name        string
	DataType    string
	IsNullable  bool
	HasDefault  bool
}

// TableSyncState tracks incremental sync progress for a single table.
type TableSyncState struct {
	Schema       string    `json:"schema"`
	Table        string    `json:"table"`
	LastXmin     uint32    `json:"last_xmin"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	LastRowCount uint64    `json:"last_row_count"`
}

// NewTableSyncState returns a fresh state that will sync the whole table
// on its first cycle (LastXmin 0 means "everything is newer").
func NewTableSyncState(schema, table string) TableSyncState {
	return TableSyncState{
		Schema:     schema,
		Table:      table,
		LastSyncAt: time.Now(),
	}
}

// Update records the result of a successful sync cycle.
func (s *TableSyncState) Update(newXmin uint32, rowCount uint64) {
	s.LastXmin = newXmin
	s.LastSyncAt = time.Now()
	s.LastRowCount = rowCount
}

// QualifiedName returns "schema.table".
func (s TableSyncState) QualifiedName() string {
	return s.Schema + "." + s.Table
}

// SyncStats summarizes the outcome of one daemon sync cycle.
type SyncStats struct {
	TablesSynced int
	RowsSynced   uint64
	RowsDeleted  uint64
	Errors       []string
	Duration     time.Duration
}

// IsSuccess reports whether the cycle completed without any per-table error.
func (s SyncStats) IsSuccess() bool {
	return len(s.Errors) == 0
}
