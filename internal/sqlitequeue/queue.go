// Package sqlitequeue implements a durable, at-least-once change queue
// backed by an embedded SQLite database, used to hand captured row changes
// from a WAL watcher to a downstream applier.
package sqlitequeue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS changes (
	change_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name    TEXT NOT NULL,
	op            TEXT NOT NULL,
	id            TEXT NOT NULL,
	payload       BLOB,
	wal_frame     TEXT,
	cursor        TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	acked         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS state (
	table_name      TEXT PRIMARY KEY,
	last_change_id  INTEGER NOT NULL DEFAULT 0,
	last_wal_frame  TEXT,
	cursor          TEXT,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// ChangeOperation is the kind of row mutation a change record describes.
type ChangeOperation string

const (
	OpInsert ChangeOperation = "insert"
	OpUpdate ChangeOperation = "update"
	OpDelete ChangeOperation = "delete"
)

// ParseChangeOperation validates a stored operation string.
func ParseChangeOperation(value string) (ChangeOperation, error) {
	switch ChangeOperation(value) {
	case OpInsert, OpUpdate, OpDelete:
		return ChangeOperation(value), nil
	default:
		return "", fmt.Errorf("sqlitequeue: unknown change op %q", value)
	}
}

// NewChange is a row change awaiting durable enqueue.
type NewChange struct {
	TableName    string
	Operation    ChangeOperation
	PrimaryKey   string
	Payload      []byte
	WalFrame     *string
	Cursor       *string
}

// ChangeRecord is a persisted, not-yet-acknowledged change.
type ChangeRecord struct {
	ChangeID   int64
	TableName  string
	Operation  ChangeOperation
	PrimaryKey string
	Payload    []byte
	WalFrame   *string
	Cursor     *string
}

// QueueState tracks per-table consumption progress against the queue.
type QueueState struct {
	TableName     string
	LastChangeID  int64
	LastWalFrame  *string
	Cursor        *string
}

// ChangeQueue is a single SQLite-backed durable queue. Writes are
// serialized through mu: SQLite allows only one writer at a time, and
// database/sql's pooled connections would otherwise race each other into
// SQLITE_BUSY.
type ChangeQueue struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Open creates (or reuses) a queue database at path, enabling WAL journal
// mode for concurrent readers alongside the single writer.
func Open(path string) (*ChangeQueue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlitequeue: create queue directory %s: %w", dir, err)
		}
		if runtime.GOOS != "windows" {
			if err := os.Chmod(dir, 0o700); err != nil {
				return nil, fmt.Errorf("sqlitequeue: set queue directory permissions: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitequeue: open queue database %s: %w", path, err)
	}
	// A single physical writer connection avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitequeue: enable WAL journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitequeue: set synchronous mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitequeue: initialize schema: %w", err)
	}

	return &ChangeQueue{path: path, db: db}, nil
}

// Close releases the underlying database handle.
func (q *ChangeQueue) Close() error {
	return q.db.Close()
}

// Path returns the queue's backing file path.
func (q *ChangeQueue) Path() string {
	return q.path
}

// Enqueue durably records a change and returns its assigned change_id.
func (q *ChangeQueue) Enqueue(change NewChange) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(
		`INSERT INTO changes(table_name, op, id, payload, wal_frame, cursor) VALUES (?, ?, ?, ?, ?, ?)`,
		change.TableName, string(change.Operation), change.PrimaryKey, change.Payload, change.WalFrame, change.Cursor,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitequeue: enqueue change: %w", err)
	}
	return result.LastInsertId()
}

// FetchBatch returns up to limit unacknowledged changes in change_id order.
func (q *ChangeQueue) FetchBatch(limit int) ([]ChangeRecord, error) {
	rows, err := q.db.Query(
		`SELECT change_id, table_name, op, id, payload, wal_frame, cursor
		 FROM changes
		 WHERE acked = 0
		 ORDER BY change_id ASC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitequeue: fetch batch: %w", err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		var op string
		if err := rows.Scan(&rec.ChangeID, &rec.TableName, &op, &rec.PrimaryKey, &rec.Payload, &rec.WalFrame, &rec.Cursor); err != nil {
			return nil, fmt.Errorf("sqlitequeue: scan change record: %w", err)
		}
		operation, err := ParseChangeOperation(op)
		if err != nil {
			return nil, err
		}
		rec.Operation = operation
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AckUpTo marks every change with change_id <= id as acknowledged, and
// returns the number of rows affected.
func (q *ChangeQueue) AckUpTo(changeID int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`UPDATE changes SET acked = 1 WHERE change_id <= ?`, changeID)
	if err != nil {
		return 0, fmt.Errorf("sqlitequeue: ack up to %d: %w", changeID, err)
	}
	return result.RowsAffected()
}

// VacuumAcknowledged deletes every acknowledged change, reclaiming space
// for rows the applier no longer needs. It does not run SQLite's own
// VACUUM command, which would block the single writer far longer than an
// applier cycle should wait.
func (q *ChangeQueue) VacuumAcknowledged() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`DELETE FROM changes WHERE acked = 1`)
	if err != nil {
		return 0, fmt.Errorf("sqlitequeue: vacuum acknowledged changes: %w", err)
	}
	return result.RowsAffected()
}

// GetState returns a table's tracked consumption progress, if any.
func (q *ChangeQueue) GetState(tableName string) (*QueueState, error) {
	row := q.db.QueryRow(
		`SELECT table_name, last_change_id, last_wal_frame, cursor FROM state WHERE table_name = ?`,
		tableName,
	)
	var state QueueState
	if err := row.Scan(&state.TableName, &state.LastChangeID, &state.LastWalFrame, &state.Cursor); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlitequeue: get state for %s: %w", tableName, err)
	}
	return &state, nil
}

// SetState upserts a table's tracked consumption progress.
func (q *ChangeQueue) SetState(state QueueState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.Exec(
		`INSERT INTO state(table_name, last_change_id, last_wal_frame, cursor, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(table_name) DO UPDATE SET
		    last_change_id = excluded.last_change_id,
		    last_wal_frame = excluded.last_wal_frame,
		    cursor = excluded.cursor,
		    updated_at = CURRENT_TIMESTAMP`,
		state.TableName, state.LastChangeID, state.LastWalFrame, state.Cursor,
	)
	if err != nil {
		return fmt.Errorf("sqlitequeue: set state for %s: %w", state.TableName, err)
	}
	return nil
}
