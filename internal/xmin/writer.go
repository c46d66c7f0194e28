package xmin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeWriter applies changed rows to a target PostgreSQL database using
// batched upserts, and removes rows the reconciler has identified as
// deleted at the source.
type ChangeWriter struct {
	pool *pgxpool.Pool
}

// NewChangeWriter wraps an existing connection pool.
func NewChangeWriter(pool *pgxpool.Pool) *ChangeWriter {
	return &ChangeWriter{pool: pool}
}

// ApplyBatch upserts rows (each a slice of column values in allColumns
// order) into schema.table, chunking internally to respect PostgreSQL's
// bound-parameter limit. It returns the total number of rows affected.
func (w *ChangeWriter) ApplyBatch(ctx context.Context, schema, table string, primaryKeyColumns, allColumns []string, rows [][]any) (uint64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batchSize := upsertBatchSize(len(allColumns))
	var total uint64
	for _, bounds := range chunkRows(len(rows), batchSize) {
		chunk := rows[bounds[0]:bounds[1]]
		affected, err := w.execUpsert(ctx, schema, table, primaryKeyColumns, allColumns, chunk)
		if err != nil {
			return total, err
		}
		total += affected
	}
	return total, nil
}

func (w *ChangeWriter) execUpsert(ctx context.Context, schema, table string, primaryKeyColumns, allColumns []string, rows [][]any) (uint64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := buildUpsertQuery(schema, table, primaryKeyColumns, allColumns, len(rows))

	params := make([]any, 0, len(rows)*len(allColumns))
	for _, row := range rows {
		params = append(params, row...)
	}

	tag, err := w.pool.Exec(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("xmin: upsert batch into %s.%s: %w", schema, table, err)
	}
	return uint64(tag.RowsAffected()), nil
}

// DeleteRows removes rows identified by primary key tuples, in chunks of
// deleteChunkSize, returning the total number of rows deleted.
func (w *ChangeWriter) DeleteRows(ctx context.Context, schema, table string, primaryKeyColumns []string, pkValues [][]any) (uint64, error) {
	if len(pkValues) == 0 {
		return 0, nil
	}

	var total uint64
	for _, bounds := range chunkRows(len(pkValues), deleteChunkSize) {
		chunk := pkValues[bounds[0]:bounds[1]]
		deleted, err := w.execDelete(ctx, schema, table, primaryKeyColumns, chunk)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	return total, nil
}

func (w *ChangeWriter) execDelete(ctx context.Context, schema, table string, primaryKeyColumns []string, pkValues [][]any) (uint64, error) {
	if len(pkValues) == 0 {
		return 0, nil
	}

	query := buildDeleteQuery(schema, table, primaryKeyColumns, len(pkValues))

	params := make([]any, 0, len(pkValues)*len(primaryKeyColumns))
	for _, row := range pkValues {
		params = append(params, row...)
	}

	tag, err := w.pool.Exec(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("xmin: delete rows from %s.%s: %w", schema, table, err)
	}
	return uint64(tag.RowsAffected()), nil
}
