package jsonbapplier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

// Row is a single document destined for a JSONB landing table.
type Row struct {
	ID   string
	Data json.RawMessage
}

const (
	targetBatchBytes = 10 * 1024 * 1024
	minBatchSize     = 1
	maxBatchSize     = 1000
	maxRetries       = 5
)

func estimateRowSize(r Row) int {
	return len(r.ID) + len(r.Data) + 50
}

// calculateBatchSize picks how many rows starting at startIdx fit within
// the target batch byte budget, targeting ~10MB per round trip.
func calculateBatchSize(rows []Row, startIdx int) int {
	var totalSize, count int
	for _, r := range rows[startIdx:] {
		size := estimateRowSize(r)
		if totalSize+size > targetBatchBytes && count > 0 {
			break
		}
		totalSize += size
		count++
		if count >= maxBatchSize {
			break
		}
	}
	if count < minBatchSize {
		count = minBatchSize
	}
	return count
}

// InsertRow inserts a single row.
func (t *Table) InsertRow(ctx context.Context, row Row, sourceType string) error {
	quoted := pgutil.QuoteIdent(t.name)
	sql := fmt.Sprintf(`INSERT INTO %s (id, data, _source_type) VALUES ($1, $2, $3)`, quoted)
	if _, err := t.pool.Exec(ctx, sql, row.ID, row.Data, sourceType); err != nil {
		return fmt.Errorf("jsonbapplier: insert row %q into %s: %w", row.ID, t.name, err)
	}
	return nil
}

func (t *Table) execBatchInsert(ctx context.Context, rows []Row, sourceType string) error {
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*3)
	for i, r := range rows {
		base := i*3 + 1
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", base, base+1, base+2)
		args = append(args, r.ID, r.Data, sourceType)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, data, _source_type) VALUES %s`,
		pgutil.QuoteIdent(t.name), strings.Join(placeholders, ", "))
	_, err := t.pool.Exec(ctx, sql, args...)
	return err
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "closed") || strings.Contains(msg, "communicating")
}

// InsertBatch inserts rows using adaptively sized multi-value INSERTs,
// targeting ~10MB per round trip. A batch that fails with what looks like
// a connection error gets retried row-by-row rather than given up on
// outright, since a transient drop mid-batch shouldn't lose the whole
// remaining dataset.
func (t *Table) InsertBatch(ctx context.Context, logger zerolog.Logger, rows []Row, sourceType string) error {
	if err := ValidateTableName(t.name); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	total := len(rows)
	inserted := 0
	consecutiveFailures := 0

	for inserted < total {
		batchSize := calculateBatchSize(rows, inserted)
		end := inserted + batchSize
		if end > total {
			end = total
		}
		batch := rows[inserted:end]

		err := t.execBatchInsert(ctx, batch, sourceType)
		if err == nil {
			inserted = end
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		if isConnectionError(err) && consecutiveFailures <= maxRetries && len(batch) > 1 {
			logger.Warn().Err(err).Int("batch_size", len(batch)).Int("attempt", consecutiveFailures).
				Msg("batch insert failed, falling back to row-by-row insert")

			for idx, row := range batch {
				if rowErr := t.InsertRow(ctx, row, sourceType); rowErr != nil {
					return fmt.Errorf("jsonbapplier: insert row %d (id=%q) into %s after batch failure: %w",
						inserted+idx, row.ID, t.name, rowErr)
				}
			}
			inserted = end
			consecutiveFailures = 0
			continue
		}

		return fmt.Errorf("jsonbapplier: insert batch (%d rows at offset %d) into %s: %w", len(batch), inserted, t.name, err)
	}

	return nil
}

// DeleteRows removes rows by id.
func (t *Table) DeleteRows(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, pgutil.QuoteIdent(t.name))
	if _, err := t.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("jsonbapplier: delete rows from %s: %w", t.name, err)
	}
	return nil
}

// UpsertRows inserts or updates rows by id, used for "_latest" dedup
// tables that keep only the most recent document per id.
func (t *Table) UpsertRows(ctx context.Context, rows []Row, sourceType string) error {
	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*3)
	for i, r := range rows {
		base := i*3 + 1
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", base, base+1, base+2)
		args = append(args, r.ID, r.Data, sourceType)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, data, _source_type) VALUES %s
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, _source_type = EXCLUDED._source_type, _migrated_at = NOW()`,
		pgutil.QuoteIdent(t.name), strings.Join(placeholders, ", "))
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("jsonbapplier: upsert rows into %s: %w", t.name, err)
	}
	return nil
}
