package xmin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	tableXmin = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xmin_sync_table_xmin",
		Help: "Last synced xmin high-water mark per table",
	}, []string{"table"})

	rowsSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmin_sync_rows_total",
		Help: "Total rows upserted into target tables",
	}, []string{"table"})

	rowsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmin_sync_rows_deleted_total",
		Help: "Total rows deleted from target tables by the reconciler",
	}, []string{"table"})

	syncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmin_sync_errors_total",
		Help: "Total sync errors by table",
	}, []string{"table"})
)

// DaemonConfig configures a SyncDaemon's cycle cadence and scope.
type DaemonConfig struct {
	SyncInterval     time.Duration
	ReconcileInterval time.Duration // zero disables reconciliation
	StatePath        string
	BatchSize        int
	Tables           []string // empty means "discover all tables in Schema"
	Schema           string
	TableConcurrency int // goroutines fanning out across tables per cycle

	// RetryInitialDelay and RetryMaxAttempts govern the exponential
	// backoff applied to TransientIO batch-fetch failures: the delay
	// doubles after each attempt, up to RetryMaxAttempts retries, before
	// the error is surfaced to the per-table error list.
	RetryInitialDelay time.Duration
	RetryMaxAttempts  int
}

// DefaultDaemonConfig mirrors the original implementation's defaults: an
// hourly sync, daily reconciliation, 10k-row batches.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		SyncInterval:      time.Hour,
		ReconcileInterval: 24 * time.Hour,
		StatePath:         DefaultStatePath(),
		BatchSize:         10_000,
		Schema:            "public",
		TableConcurrency:  4,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxAttempts:  5,
	}
}

// SyncDaemon orchestrates continuous xmin-based replication between a
// source and target PostgreSQL database.
type SyncDaemon struct {
	logger zerolog.Logger
	cfg    DaemonConfig
	source *pgxpool.Pool
	target *pgxpool.Pool

	mu        sync.RWMutex
	isHealthy bool
}

// NewSyncDaemon constructs a daemon bound to already-open source/target pools.
func NewSyncDaemon(logger zerolog.Logger, source, target *pgxpool.Pool, cfg DaemonConfig) *SyncDaemon {
	return &SyncDaemon{
		logger:    logger.With().Str("component", "xmin_daemon").Logger(),
		cfg:       cfg,
		source:    source,
		target:    target,
		isHealthy: true,
	}
}

// Healthy reports whether the most recent cycle completed without error.
func (d *SyncDaemon) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isHealthy
}

func (d *SyncDaemon) setHealthy(v bool) {
	d.mu.Lock()
	d.isHealthy = v
	d.mu.Unlock()
}

// Run drives sync and reconcile cycles on their configured tickers until
// ctx is canceled. Shutdown is prioritized: a canceled context is checked
// before either ticker fires, the same "shutdown wins ties" discipline the
// original daemon's select loop uses.
func (d *SyncDaemon) Run(ctx context.Context) error {
	d.logger.Info().
		Dur("sync_interval", d.cfg.SyncInterval).
		Dur("reconcile_interval", d.cfg.ReconcileInterval).
		Msg("starting xmin sync daemon")

	syncTicker := time.NewTicker(d.cfg.SyncInterval)
	defer syncTicker.Stop()

	var reconcileC <-chan time.Time
	if d.cfg.ReconcileInterval > 0 {
		reconcileTicker := time.NewTicker(d.cfg.ReconcileInterval)
		defer reconcileTicker.Stop()
		reconcileC = reconcileTicker.C
	}

	if _, err := d.RunSyncCycle(ctx); err != nil {
		d.logger.Error().Err(err).Msg("initial sync cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncTicker.C:
			if _, err := d.RunSyncCycle(ctx); err != nil {
				d.logger.Error().Err(err).Msg("sync cycle failed")
			}
		case <-reconcileC:
			if err := d.RunReconcileCycle(ctx); err != nil {
				d.logger.Error().Err(err).Msg("reconcile cycle failed")
			}
		}
	}
}

// RunSyncCycle performs one full sync pass over all configured (or
// discovered) tables.
func (d *SyncDaemon) RunSyncCycle(ctx context.Context) (SyncStats, error) {
	start := time.Now()
	stats := SyncStats{}

	state, err := d.loadOrCreateState()
	if err != nil {
		return stats, fmt.Errorf("xmin: load sync state: %w", err)
	}

	reader := NewXminReader(d.source)
	writer := NewChangeWriter(d.target)

	tables := d.cfg.Tables
	if len(tables) == 0 {
		tables, err = reader.ListTables(ctx, d.cfg.Schema)
		if err != nil {
			return stats, fmt.Errorf("xmin: list tables: %w", err)
		}
	}

	concurrency := d.cfg.TableConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, table := range tables {
		table := table
		g.Go(func() error {
			rows, deleted, err := d.syncTable(gctx, reader, writer, state, d.cfg.Schema, table)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				syncErrorsTotal.WithLabelValues(table).Inc()
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", table, err))
				d.logger.Error().Err(err).Str("table", table).Msg("table sync failed")
				return nil // one table's failure does not abort the others
			}
			stats.TablesSynced++
			stats.RowsSynced += rows
			stats.RowsDeleted += deleted
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)

	if err := state.Save(d.cfg.StatePath); err != nil {
		return stats, fmt.Errorf("xmin: save sync state: %w", err)
	}

	d.setHealthy(stats.IsSuccess())
	d.logger.Info().
		Int("tables_synced", stats.TablesSynced).
		Uint64("rows_synced", stats.RowsSynced).
		Uint64("rows_deleted", stats.RowsDeleted).
		Int("errors", len(stats.Errors)).
		Dur("duration", stats.Duration).
		Msg("sync cycle complete")

	return stats, nil
}

func (d *SyncDaemon) syncTable(ctx context.Context, reader *XminReader, writer *ChangeWriter, state *SyncState, schema, table string) (rowsSynced uint64, rowsDeleted uint64, err error) {
	primaryKey, err := reader.GetPrimaryKey(ctx, schema, table)
	if err != nil {
		return 0, 0, fmt.Errorf("get primary key: %w", err)
	}
	if len(primaryKey) == 0 {
		return 0, 0, ErrNoPrimaryKey
	}

	columns, err := reader.GetColumns(ctx, schema, table)
	if err != nil {
		return 0, 0, fmt.Errorf("get columns: %w", err)
	}
	columnNames := make([]string, len(columns))
	for i, c := range columns {
		columnNames[i] = c.Name
	}

	currentXmin, err := reader.CurrentXmin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get current xmin: %w", err)
	}

	tableState := state.GetOrCreateTable(schema, table)
	sinceXmin := tableState.LastXmin

	if DetectWraparound(sinceXmin, currentXmin) == WraparoundDetected {
		d.logger.Warn().Str("table", table).Uint32("old_xmin", sinceXmin).Uint32("current_xmin", currentXmin).
			Msg("xmin wraparound detected, resyncing table from scratch")
		sinceXmin = 0
	}

	batch := reader.ReadChangesBatched(schema, table, columnNames, sinceXmin, d.cfg.BatchSize)

	var maxXmin uint32 = sinceXmin
	for {
		rows, batchMax, ok, err := d.fetchBatchWithRetry(ctx, reader, batch, table)
		if err != nil {
			return rowsSynced, rowsDeleted, fmt.Errorf("fetch batch: %w", err)
		}
		if !ok {
			break
		}
		if len(rows) == 0 {
			continue
		}

		values := make([][]any, len(rows))
		for i, row := range rows {
			rowValues := make([]any, len(columnNames))
			for j, name := range columnNames {
				rowValues[j] = row[name]
			}
			values[i] = rowValues
		}

		affected, err := writer.ApplyBatch(ctx, schema, table, primaryKey, columnNames, values)
		if err != nil {
			return rowsSynced, rowsDeleted, fmt.Errorf("apply batch: %w", err)
		}
		rowsSynced += affected
		maxXmin = batchMax
	}

	state.UpdateTable(schema, table, maxXmin, rowsSynced)
	tableXmin.WithLabelValues(table).Set(float64(maxXmin))
	rowsSyncedTotal.WithLabelValues(table).Add(float64(rowsSynced))

	return rowsSynced, rowsDeleted, nil
}

// fetchBatchWithRetry wraps FetchBatchRows with exponential backoff for
// TransientIO failures (connection reset, timeout, service unavailable).
// Because BatchReader only advances its (xmin, ctid) cursor after a
// successful page, a retry naturally starts a fresh session at the same
// position the original call attempted — nothing to rewind. Non-transient
// errors (a bad query, an invalid ctid) are returned immediately.
func (d *SyncDaemon) fetchBatchWithRetry(ctx context.Context, reader *XminReader, batch *BatchReader, table string) ([]map[string]any, uint32, bool, error) {
	delay := d.cfg.RetryInitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxAttempts := d.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var lastErr error
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		rows, maxXmin, ok, err := reader.FetchBatchRows(ctx, batch)
		if err == nil {
			return rows, maxXmin, ok, nil
		}
		if !isTransientError(err) {
			return nil, 0, false, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		d.logger.Warn().Err(err).Str("table", table).Int("attempt", attempt+1).Dur("delay", delay).
			Msg("transient batch fetch error, retrying with backoff")

		select {
		case <-ctx.Done():
			return nil, 0, false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, 0, false, fmt.Errorf("exhausted %d retries: %w", maxAttempts, lastErr)
}

// isTransientError matches the connection-reset/timeout/unavailable
// substrings that distinguish a TransientIO failure (worth retrying) from
// a QueryFailure or Validation error (not worth retrying), mirroring
// jsonbapplier's isConnectionError heuristic on the writer side.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transientSubstrings := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"closed",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"i/o timeout",
		"eof",
	}
	for _, substr := range transientSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// RunReconcileCycle runs full-table primary-key diffs for every tracked
// table to catch deletions xmin-based sync can never observe.
func (d *SyncDaemon) RunReconcileCycle(ctx context.Context) error {
	state, err := d.loadOrCreateState()
	if err != nil {
		return fmt.Errorf("xmin: load sync state: %w", err)
	}

	reconciler := NewReconciler(d.source, d.target)
	writer := NewChangeWriter(d.target)
	reader := NewXminReader(d.source)

	for _, qualified := range state.TrackedTables() {
		schema, table, ok := splitQualified(qualified)
		if !ok {
			continue
		}

		primaryKey, err := reader.GetPrimaryKey(ctx, schema, table)
		if err != nil {
			d.logger.Error().Err(err).Str("table", table).Msg("reconcile: failed to get primary key")
			continue
		}
		if len(primaryKey) == 0 {
			continue
		}

		deleted, err := reconciler.ReconcileTable(ctx, writer, schema, table, primaryKey)
		if err != nil {
			d.logger.Error().Err(err).Str("table", table).Msg("reconcile failed")
			syncErrorsTotal.WithLabelValues(table).Inc()
			continue
		}
		if deleted > 0 {
			rowsDeletedTotal.WithLabelValues(table).Add(float64(deleted))
			d.logger.Info().Str("table", table).Uint64("deleted", deleted).Msg("reconciled orphaned rows")
		}
	}

	return nil
}

func (d *SyncDaemon) loadOrCreateState() (*SyncState, error) {
	state, err := LoadSyncState(d.cfg.StatePath)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, ErrStateNotFound) {
		return NewSyncState(d.source.Config().ConnString(), d.target.Config().ConnString()), nil
	}
	return nil, fmt.Errorf("xmin: sync state at %s is unusable: %w", d.cfg.StatePath, err)
}

func splitQualified(qualified string) (schema, table string, ok bool) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i], qualified[i+1:], true
		}
	}
	return "", "", false
}
