package xmin

import (
	"fmt"
	"strings"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

// maxUpsertParams leaves margin under PostgreSQL's ~65535 bound parameter
// limit per statement.
const maxUpsertParams = 65000

// deleteChunkSize bounds how many primary-key tuples go into a single
// DELETE statement.
const deleteChunkSize = 1000

func isPrimaryKeyColumn(col string, pk []string) bool {
	for _, p := range pk {
		if p == col {
			return true
		}
	}
	return false
}

// upsertBatchSize returns how many rows of numColumns columns each fit
// within maxUpsertParams bound parameters.
func upsertBatchSize(numColumns int) int {
	if numColumns <= 0 {
		numColumns = 1
	}
	size := maxUpsertParams / numColumns
	if size < 1 {
		size = 1
	}
	return size
}

// buildUpsertQuery builds an INSERT ... ON CONFLICT DO UPDATE statement for
// numRows rows of allColumns columns, conflicting on primaryKeyColumns. When
// every column is part of the primary key, it falls back to DO NOTHING
// since there is nothing left to update.
func buildUpsertQuery(schema, table string, primaryKeyColumns, allColumns []string, numRows int) string {
	quotedColumns := make([]string, len(allColumns))
	for i, c := range allColumns {
		quotedColumns[i] = pgutil.QuoteIdent(c)
	}

	quotedPK := make([]string, len(primaryKeyColumns))
	for i, c := range primaryKeyColumns {
		quotedPK[i] = pgutil.QuoteIdent(c)
	}

	numCols := len(allColumns)
	valueRows := make([]string, numRows)
	for rowIdx := 0; rowIdx < numRows; rowIdx++ {
		placeholders := make([]string, numCols)
		for colIdx := 0; colIdx < numCols; colIdx++ {
			placeholders[colIdx] = fmt.Sprintf("$%d", rowIdx*numCols+colIdx+1)
		}
		valueRows[rowIdx] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	var updateColumns []string
	for _, c := range allColumns {
		if isPrimaryKeyColumn(c, primaryKeyColumns) {
			continue
		}
		updateColumns = append(updateColumns, fmt.Sprintf("%s = EXCLUDED.%s", pgutil.QuoteIdent(c), pgutil.QuoteIdent(c)))
	}

	updateClause := "DO NOTHING"
	if len(updateColumns) > 0 {
		updateClause = "DO UPDATE SET " + strings.Join(updateColumns, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		pgutil.QuoteQualified(schema, table),
		strings.Join(quotedColumns, ", "),
		strings.Join(valueRows, ", "),
		strings.Join(quotedPK, ", "),
		updateClause,
	)
}

// buildDeleteQuery builds a DELETE statement for numRows primary-key
// tuples. A single-column key uses a flat IN (...) list; a composite key
// uses tuple-IN syntax, since PostgreSQL has no native "IN list of tuples"
// shorthand for bound parameters.
func buildDeleteQuery(schema, table string, primaryKeyColumns []string, numRows int) string {
	numPK := len(primaryKeyColumns)

	if numPK == 1 {
		pkCol := pgutil.QuoteIdent(primaryKeyColumns[0])
		placeholders := make([]string, numRows)
		for i := 0; i < numRows; i++ {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			pgutil.QuoteQualified(schema, table), pkCol, strings.Join(placeholders, ", "))
	}

	quotedPK := make([]string, numPK)
	for i, c := range primaryKeyColumns {
		quotedPK[i] = pgutil.QuoteIdent(c)
	}

	tuples := make([]string, numRows)
	for rowIdx := 0; rowIdx < numRows; rowIdx++ {
		placeholders := make([]string, numPK)
		for colIdx := 0; colIdx < numPK; colIdx++ {
			placeholders[colIdx] = fmt.Sprintf("$%d", rowIdx*numPK+colIdx+1)
		}
		tuples[rowIdx] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	return fmt.Sprintf("DELETE FROM %s WHERE (%s) IN (%s)",
		pgutil.QuoteQualified(schema, table), strings.Join(quotedPK, ", "), strings.Join(tuples, ", "))
}

func chunkRows(numRows, chunkSize int) [][2]int {
	if chunkSize <= 0 {
		chunkSize = numRows
	}
	var chunks [][2]int
	for start := 0; start < numRows; start += chunkSize {
		end := start + chunkSize
		if end > numRows {
			end = numRows
		}
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}
