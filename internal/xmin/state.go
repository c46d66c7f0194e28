package xmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

// StateVersion is the on-disk format version for SyncState, allowing
// future migrations.
const StateVersion = 1

// SyncState is the overall incremental-sync progress for a source/target
// database pair, covering every tracked table.
type SyncState struct {
	SourceURL string                     `json:"source_url"`
	TargetURL string                     `json:"target_url"`
	Tables    map[string]TableSyncState  `json:"tables"`
	Version   int                        `json:"version"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewSyncState creates an empty SyncState, redacting passwords from both
// URLs before they are persisted to disk.
func NewSyncState(sourceURL, targetURL string) *SyncState {
	now := time.Now()
	return &SyncState{
		SourceURL: pgutil.RedactURL(sourceURL),
		TargetURL: pgutil.RedactURL(targetURL),
		Tables:    make(map[string]TableSyncState),
		Version:   StateVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetOrCreateTable returns the existing per-table state, or a fresh one
// starting from xmin 0.
func (s *SyncState) GetOrCreateTable(schema, table string) TableSyncState {
	key := schema + "." + table
	if existing, ok := s.Tables[key]; ok {
		return existing
	}
	fresh := NewTableSyncState(schema, table)
	s.Tables[key] = fresh
	return fresh
}

// GetTable returns the state for a table, if tracked.
func (s *SyncState) GetTable(schema, table string) (TableSyncState, bool) {
	state, ok := s.Tables[schema+"."+table]
	return state, ok
}

// UpdateTable records a successful sync cycle for a table.
func (s *SyncState) UpdateTable(schema, table string, newXmin uint32, rowCount uint64) {
	key := schema + "." + table
	state, ok := s.Tables[key]
	if !ok {
		state = NewTableSyncState(schema, table)
	}
	state.Update(newXmin, rowCount)
	s.Tables[key] = state
	s.UpdatedAt = time.Now()
}

// RemoveTable stops tracking a table, e.g. because it was dropped.
func (s *SyncState) RemoveTable(schema, table string) bool {
	key := schema + "." + table
	if _, ok := s.Tables[key]; !ok {
		return false
	}
	delete(s.Tables, key)
	s.UpdatedAt = time.Now()
	return true
}

// TrackedTables lists the "schema.table" keys currently tracked.
func (s *SyncState) TrackedTables() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

// ErrStateNotFound is returned by LoadSyncState when no state file exists
// yet at the given path, distinct from a read or parse failure on a file
// that does exist.
var ErrStateNotFound = errors.New("xmin: sync state not found")

// ErrStateVersionUnsupported is returned when a state file's Version is
// newer than this binary's StateVersion — loading it forward would risk
// silently misinterpreting fields it doesn't know about.
var ErrStateVersionUnsupported = errors.New("xmin: sync state version unsupported")

// LoadSyncState reads and parses a SyncState from path. A missing file
// returns (nil, ErrStateNotFound) so callers can distinguish "no prior
// state" (fine, start fresh) from a corrupt or unreadable file (fatal;
// requires external repair per the error taxonomy).
func LoadSyncState(path string) (*SyncState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("xmin: read sync state from %s: %w", path, err)
	}
	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("xmin: parse sync state from %s: %w", path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: state file %s has version %d, this binary understands up to %d",
			ErrStateVersionUnsupported, path, state.Version, StateVersion)
	}
	return &state, nil
}

// Save persists the state to path using a temp-file-then-rename sequence,
// so a crash mid-write can never leave a truncated or corrupt state file
// behind for the next cycle to load.
func (s *SyncState) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("xmin: create state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("xmin: serialize sync state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("xmin: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("xmin: write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("xmin: fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("xmin: close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("xmin: rename temp state file into place: %w", err)
	}
	return nil
}

// DefaultStatePath returns the conventional state file location relative
// to the working directory.
func DefaultStatePath() string {
	return filepath.Join(".seren-replicator", "xmin-sync-state.json")
}
