package xmin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

// XminReader reads changed rows from a source PostgreSQL database using the
// xmin system column as a change-detection watermark.
type XminReader struct {
	pool *pgxpool.Pool
}

// NewXminReader wraps an existing connection pool.
func NewXminReader(pool *pgxpool.Pool) *XminReader {
	return &XminReader{pool: pool}
}

// CurrentXmin returns the database's current transaction id, masked to the
// 32-bit range xmin actually occupies.
func (r *XminReader) CurrentXmin(ctx context.Context) (uint32, error) {
	var txid int64
	if err := r.pool.QueryRow(ctx, "SELECT txid_current()::text::bigint").Scan(&txid); err != nil {
		return 0, fmt.Errorf("xmin: get current transaction id: %w", err)
	}
	return uint32(txid & 0xFFFFFFFF), nil
}

func columnList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgutil.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// BatchReader is stateful pagination cursor over (xmin, ctid) produced by
// ReadChangesBatched; repeated calls to FetchBatchRows advance it.
type BatchReader struct {
	schema      string
	table       string
	columns     []string
	currentXmin uint32
	lastCtid    string
	hasCtid     bool
	batchSize   int
	exhausted   bool
}

// ReadChangesBatched prepares a BatchReader for a table, starting from
// sinceXmin (0 syncs everything).
func (r *XminReader) ReadChangesBatched(schema, table string, columns []string, sinceXmin uint32, batchSize int) *BatchReader {
	return &BatchReader{
		schema:      schema,
		table:       table,
		columns:     columns,
		currentXmin: sinceXmin,
		batchSize:   batchSize,
	}
}

// FetchBatchRows executes the next page of a batched read and returns it as
// column-name-keyed maps, sufficient for building upsert parameter lists
// without per-type scanning. ok is false once the table has been fully
// drained. Pagination uses the compound (xmin, ctid) key so that rows
// sharing an xmin value (e.g. from a single bulk-insert transaction) are
// never skipped.
func (r *XminReader) FetchBatchRows(ctx context.Context, b *BatchReader) (rows []map[string]any, maxXmin uint32, ok bool, err error) {
	if b.exhausted {
		return nil, b.currentXmin, false, nil
	}

	cols := columnList(b.columns)
	var query string
	var args []any
	if b.hasCtid {
		if !pgutil.IsValidCtid(b.lastCtid) {
			return nil, 0, false, ErrInvalidCtid
		}
		query = fmt.Sprintf(
			`SELECT %s, xmin::text::bigint AS _xmin, ctid::text AS _ctid FROM %s WHERE (xmin::text::bigint, ctid) > ($1, '%s'::tid) ORDER BY xmin::text::bigint, ctid LIMIT $2`,
			cols, pgutil.QuoteQualified(b.schema, b.table), b.lastCtid,
		)
		args = []any{int64(b.currentXmin), b.batchSize}
	} else {
		query = fmt.Sprintf(
			`SELECT %s, xmin::text::bigint AS _xmin, ctid::text AS _ctid FROM %s WHERE xmin::text::bigint > $1 ORDER BY xmin::text::bigint, ctid LIMIT $2`,
			cols, pgutil.QuoteQualified(b.schema, b.table),
		)
		args = []any{int64(b.currentXmin), b.batchSize}
	}

	result, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, false, fmt.Errorf("xmin: read batch from %s.%s: %w", b.schema, b.table, err)
	}

	collected, err := pgx.CollectRows(result, pgx.RowToMap)
	if err != nil {
		return nil, 0, false, fmt.Errorf("xmin: collect batch from %s.%s: %w", b.schema, b.table, err)
	}

	if len(collected) == 0 {
		b.exhausted = true
		return nil, b.currentXmin, false, nil
	}

	last := collected[len(collected)-1]
	lastXmin, _ := last["_xmin"].(int64)
	lastCtid, _ := last["_ctid"].(string)

	b.currentXmin = uint32(lastXmin & 0xFFFFFFFF)
	b.lastCtid = lastCtid
	b.hasCtid = true
	if len(collected) < b.batchSize {
		b.exhausted = true
	}

	return collected, b.currentXmin, true, nil
}

// EstimateChanges counts rows with xmin greater than sinceXmin without
// materializing them, for progress reporting before a full batch run.
func (r *XminReader) EstimateChanges(ctx context.Context, schema, table string, sinceXmin uint32) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE xmin::text::bigint > $1`, pgutil.QuoteQualified(schema, table))
	var count int64
	if err := r.pool.QueryRow(ctx, query, int64(sinceXmin)).Scan(&count); err != nil {
		return 0, fmt.Errorf("xmin: count changes in %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// ListTables lists all tables in a schema.
func (r *XminReader) ListTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = $1 ORDER BY tablename`, schema)
	if err != nil {
		return nil, fmt.Errorf("xmin: list tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("xmin: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// GetColumns returns column metadata for a table, read from the source's
// information_schema (column metadata is always sourced from the reader
// side, never the writer side, so schema drift on the target cannot
// silently change which columns get synced).
func (r *XminReader) GetColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("xmin: get columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var name, dataType, isNullable string
		var def *string
		if err := rows.Scan(&name, &dataType, &isNullable, &def); err != nil {
			return nil, fmt.Errorf("xmin: scan column info: %w", err)
		}
		cols = append(cols, ColumnInfo{
			Name:       name,
			DataType:   dataType,
			IsNullable: isNullable == "YES",
			HasDefault: def != nil,
		})
	}
	return cols, rows.Err()
}

// GetPrimaryKey returns the primary key column names for a table, in
// their declared ordinal order.
func (r *XminReader) GetPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE i.indisprimary AND n.nspname = $1 AND c.relname = $2
		ORDER BY array_position(i.indkey, a.attnum)`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("xmin: get primary key for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("xmin: scan pk column: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
