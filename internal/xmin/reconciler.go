package xmin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenorg/seren-replicator/internal/pgutil"
)

// Reconciler finds rows present in the target but no longer present in the
// source, since xmin-based sync only ever observes inserts and updates and
// can never see a delete.
type Reconciler struct {
	source *pgxpool.Pool
	target *pgxpool.Pool
}

// NewReconciler creates a Reconciler comparing sourcePool against targetPool.
func NewReconciler(sourcePool, targetPool *pgxpool.Pool) *Reconciler {
	return &Reconciler{source: sourcePool, target: targetPool}
}

// FindOrphanedRows returns the primary key tuples present in target but
// absent from source, by diffing full primary-key sets from both sides.
func (r *Reconciler) FindOrphanedRows(ctx context.Context, schema, table string, primaryKeyColumns []string) ([][]string, error) {
	sourcePKs, err := r.allPrimaryKeys(ctx, r.source, schema, table, primaryKeyColumns)
	if err != nil {
		return nil, fmt.Errorf("xmin: get source primary keys for %s.%s: %w", schema, table, err)
	}
	targetPKs, err := r.allPrimaryKeys(ctx, r.target, schema, table, primaryKeyColumns)
	if err != nil {
		return nil, fmt.Errorf("xmin: get target primary keys for %s.%s: %w", schema, table, err)
	}

	sourceSet := make(map[string]struct{}, len(sourcePKs))
	for _, pk := range sourcePKs {
		sourceSet[pkKey(pk)] = struct{}{}
	}

	var orphaned [][]string
	for _, pk := range targetPKs {
		if _, ok := sourceSet[pkKey(pk)]; !ok {
			orphaned = append(orphaned, pk)
		}
	}
	return orphaned, nil
}

// ReconcileTable finds and deletes orphaned rows from the target, returning
// the number of rows deleted.
func (r *Reconciler) ReconcileTable(ctx context.Context, writer *ChangeWriter, schema, table string, primaryKeyColumns []string) (uint64, error) {
	orphaned, err := r.FindOrphanedRows(ctx, schema, table, primaryKeyColumns)
	if err != nil {
		return 0, err
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	pkValues := make([][]any, len(orphaned))
	for i, pk := range orphaned {
		row := make([]any, len(pk))
		for j, v := range pk {
			row[j] = v
		}
		pkValues[i] = row
	}

	return writer.DeleteRows(ctx, schema, table, primaryKeyColumns, pkValues)
}

func (r *Reconciler) allPrimaryKeys(ctx context.Context, pool *pgxpool.Pool, schema, table string, primaryKeyColumns []string) ([][]string, error) {
	quoted := make([]string, len(primaryKeyColumns))
	for i, c := range primaryKeyColumns {
		quoted[i] = pgutil.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), pgutil.QuoteQualified(schema, table))

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		pk := make([]string, len(vals))
		for i, v := range vals {
			pk[i] = fmt.Sprintf("%v", v)
		}
		result = append(result, pk)
	}
	return result, rows.Err()
}

func pkKey(pk []string) string {
	return strings.Join(pk, "\x00")
}
