// Package cursorstore persists last-acknowledged change_ids by key using an
// embedded BoltDB file. The sqlite-applier binary records its overall
// high-water mark under the single key "applier" after each applied batch;
// it does not read the cursor back on start.
package cursorstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const cursorBucket = "cursors"

// Cursor tracks an applier's progress against one source table.
type Cursor struct {
	TableName    string    `json:"table_name"`
	LastChangeID int64     `json:"last_change_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store provides cursor persistence using BoltDB.
type Store struct {
	db *bbolt.DB
}

// Open creates (or reuses) a cursor database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cursorstore: open cursor db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cursorstore: create cursor bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveCursor persists a table's cursor.
func (s *Store) SaveCursor(cursor Cursor) error {
	cursor.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		if b == nil {
			return fmt.Errorf("cursorstore: cursor bucket not found")
		}
		data, err := json.Marshal(cursor)
		if err != nil {
			return fmt.Errorf("cursorstore: marshal cursor: %w", err)
		}
		return b.Put([]byte(cursor.TableName), data)
	})
}

// GetCursor retrieves a table's cursor, if one exists.
func (s *Store) GetCursor(tableName string) (*Cursor, error) {
	var cursor Cursor
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cursorBucket))
		if b == nil {
			return fmt.Errorf("cursorstore: cursor bucket not found")
		}
		data := b.Get([]byte(tableName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cursor)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &cursor, nil
}

// GetOrCreateCursor returns a table's existing cursor or a fresh one
// starting at change_id 0.
func (s *Store) GetOrCreateCursor(tableName string) (*Cursor, error) {
	cursor, err := s.GetCursor(tableName)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		return cursor, nil
	}

	fresh := &Cursor{TableName: tableName, UpdatedAt: time.Now()}
	if err := s.SaveCursor(*fresh); err != nil {
		return nil, fmt.Errorf("cursorstore: create cursor: %w", err)
	}
	return fresh, nil
}

// AdvanceCursor updates a table's last-acknowledged change_id.
func (s *Store) AdvanceCursor(tableName string, changeID int64) error {
	cursor, err := s.GetOrCreateCursor(tableName)
	if err != nil {
		return err
	}
	cursor.LastChangeID = changeID
	return s.SaveCursor(*cursor)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats returns BoltDB's own database statistics.
func (s *Store) Stats() bbolt.Stats {
	return s.db.Stats()
}
