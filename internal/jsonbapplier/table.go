// Package jsonbapplier lands captured SQLite row changes into PostgreSQL
// tables of the shape (id text, data jsonb, _source_type text,
// _migrated_at timestamp), so schemaless or cross-engine sources can be
// queried with ordinary JSONB operators downstream.
package jsonbapplier

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// ValidateTableName rejects anything that is not a safe bare identifier.
// Table names land directly in DDL/DML strings in this package (PostgreSQL
// cannot parameterize an identifier), so NewTable calls this and every
// Table's name has been validated before any SQL text is built from it.
func ValidateTableName(name string) error {
	if !validTableName.MatchString(name) {
		return fmt.Errorf("jsonbapplier: invalid table name %q", name)
	}
	return nil
}

// Table wraps a target pool bound to one JSONB landing table.
type Table struct {
	pool *pgxpool.Pool
	name string
}

// NewTable validates name and returns a Table bound to it.
func NewTable(pool *pgxpool.Pool, name string) (*Table, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	return &Table{pool: pool, name: name}, nil
}

// Create creates the landing table (if absent) with its GIN and
// _migrated_at indexes.
func (t *Table) Create(ctx context.Context) error {
	quoted := pgutil.QuoteIdent(t.name)

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			_source_type TEXT NOT NULL,
			_migrated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`, quoted)
	if _, err := t.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("jsonbapplier: create table %s: %w", t.name, err)
	}

	ginSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (data)`,
		pgutil.QuoteIdent("idx_"+t.name+"_data"), quoted)
	if _, err := t.pool.Exec(ctx, ginSQL); err != nil {
		return fmt.Errorf("jsonbapplier: create GIN index on %s: %w", t.name, err)
	}

	timeSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (_migrated_at)`,
		pgutil.QuoteIdent("idx_"+t.name+"_migrated"), quoted)
	if _, err := t.pool.Exec(ctx, timeSQL); err != nil {
		return fmt.Errorf("jsonbapplier: create _migrated_at index on %s: %w", t.name, err)
	}

	return nil
}

// Truncate clears the table and verifies it is actually empty afterward.
func (t *Table) Truncate(ctx context.Context) error {
	quoted := pgutil.QuoteIdent(t.name)
	if _, err := t.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s RESTART IDENTITY CASCADE`, quoted)); err != nil {
		return fmt.Errorf("jsonbapplier: truncate table %s: %w", t.name, err)
	}

	var remaining int64
	if err := t.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoted)).Scan(&remaining); err != nil {
		return fmt.Errorf("jsonbapplier: verify truncate of %s: %w", t.name, err)
	}
	if remaining > 0 {
		return fmt.Errorf("jsonbapplier: truncate verification failed: %s still has %d rows", t.name, remaining)
	}
	return nil
}

// Drop removes the table, if it exists.
func (t *Table) Drop(ctx context.Context) error {
	quoted := pgutil.QuoteIdent(t.name)
	if _, err := t.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, quoted)); err != nil {
		return fmt.Errorf("jsonbapplier: drop table %s: %w", t.name, err)
	}
	return nil
}
