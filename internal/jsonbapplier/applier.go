package jsonbapplier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/watcherrpc"
)

// SourceType labels the JSONB landing tables this applier writes, matching
// the original source/target pair's "sqlite" provenance tag.
const SourceType = "sqlite"

// globalStateTable is the reserved table_name the watcher's QueueState
// uses to track this applier's overall (not per-table) progress.
const globalStateTable = "_global"

// Mode selects one of the two incremental landing strategies.
type Mode string

const (
	// ModeAppend appends every change with no uniqueness enforced by the
	// applier; the upstream queue is trusted to provide idempotency.
	ModeAppend Mode = "append"
	// ModeAppendDeduped additionally maintains a sibling <table>_latest
	// table upserted by primary key, with deletes applied to both.
	ModeAppendDeduped Mode = "append_deduped"
)

// ParseMode validates an incremental mode string.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeAppend, ModeAppendDeduped:
		return Mode(value), nil
	default:
		return "", fmt.Errorf("jsonbapplier: unknown mode %q", value)
	}
}

// Applier pulls batches of queued changes over watcherrpc and lands them
// into per-table JSONB tables, acknowledging each batch once it is durably
// written and recording its own _global high-water mark alongside the
// queue's per-table state.
type Applier struct {
	client   *watcherrpc.Client
	logger   zerolog.Logger
	mode     Mode
	tables   map[string]*Table
	newTable func(name string) (*Table, error)
}

// NewApplier builds an Applier. newTable is injected so callers supply the
// per-table-name pool wiring; the Applier itself never holds a pool.
func NewApplier(client *watcherrpc.Client, logger zerolog.Logger, mode Mode, newTable func(name string) (*Table, error)) *Applier {
	return &Applier{
		client:   client,
		logger:   logger.With().Str("component", "jsonbapplier").Logger(),
		mode:     mode,
		tables:   make(map[string]*Table),
		newTable: newTable,
	}
}

func (a *Applier) tableFor(name string) (*Table, error) {
	if t, ok := a.tables[name]; ok {
		return t, nil
	}
	t, err := a.newTable(name)
	if err != nil {
		return nil, err
	}
	a.tables[name] = t
	return t, nil
}

// RunOnce health-checks the service, fetches current global state, pulls up
// to limit queued changes, applies them grouped by table, acknowledges the
// highest change_id actually applied, and records that high-water mark (and
// its associated wal_frame/cursor) as the queue's _global state. It returns
// the number of changes applied and that highest change_id.
func (a *Applier) RunOnce(ctx context.Context, limit int64) (int, int64, error) {
	if _, err := a.client.HealthCheck(); err != nil {
		return 0, 0, fmt.Errorf("jsonbapplier: health check: %w", err)
	}

	globalState, err := a.client.GetState(globalStateTable)
	if err != nil {
		return 0, 0, fmt.Errorf("jsonbapplier: fetch global state: %w", err)
	}
	a.logger.Debug().
		Bool("exists", globalState.Exists).
		Int64("last_change_id", globalState.LastChangeID).
		Msg("fetched global applier state")

	changes, err := a.client.ListChanges(limit)
	if err != nil {
		return 0, 0, fmt.Errorf("jsonbapplier: list changes: %w", err)
	}
	if len(changes) == 0 {
		a.logger.Info().Msg("no queued changes, nothing to apply")
		return 0, 0, nil
	}

	byTable := make(map[string][]watcherrpc.Change)
	var maxChangeID int64
	var lastWalFrame, lastCursor string
	for _, c := range changes {
		if _, err := watcherrpc.ParseChangeOp(c.Op); err != nil {
			return 0, 0, fmt.Errorf("jsonbapplier: fatal: %w", err)
		}
		byTable[c.TableName] = append(byTable[c.TableName], c)
		if c.ChangeID >= maxChangeID {
			maxChangeID = c.ChangeID
			lastWalFrame = c.WalFrame
			lastCursor = c.Cursor
		}
	}

	for tableName, tableChanges := range byTable {
		if err := a.applyTable(ctx, tableName, tableChanges); err != nil {
			return 0, 0, fmt.Errorf("jsonbapplier: apply table %s: %w", tableName, err)
		}
	}

	if _, err := a.client.AckChanges(maxChangeID); err != nil {
		return 0, 0, fmt.Errorf("jsonbapplier: ack changes up to %d: %w", maxChangeID, err)
	}

	if err := a.client.SetState(globalStateTable, maxChangeID, lastWalFrame, lastCursor); err != nil {
		return 0, 0, fmt.Errorf("jsonbapplier: set global state: %w", err)
	}

	a.logger.Info().Int("changes", len(changes)).Int64("up_to_change_id", maxChangeID).Msg("applied change batch")
	return len(changes), maxChangeID, nil
}

func (a *Applier) applyTable(ctx context.Context, tableName string, changes []watcherrpc.Change) error {
	table, err := a.tableFor(tableName)
	if err != nil {
		return err
	}
	if err := table.Create(ctx); err != nil {
		return err
	}

	var latest *Table
	if a.mode == ModeAppendDeduped {
		latest, err = a.tableFor(tableName + "_latest")
		if err != nil {
			return err
		}
		if err := latest.Create(ctx); err != nil {
			return err
		}
	}

	var upserts []Row
	var deleteIDs []string
	for _, c := range changes {
		op, err := watcherrpc.ParseChangeOp(c.Op)
		if err != nil {
			return fmt.Errorf("fatal: %w", err)
		}
		switch op {
		case watcherrpc.ChangeOpDelete:
			deleteIDs = append(deleteIDs, c.PrimaryKey)
		default:
			payload := c.Payload
			if len(payload) == 0 {
				payload = []byte("null")
			}
			upserts = append(upserts, Row{ID: c.PrimaryKey, Data: payload})
		}
	}

	if len(upserts) > 0 {
		if err := table.InsertBatch(ctx, a.logger, upserts, SourceType); err != nil {
			return err
		}
		if latest != nil {
			if err := latest.UpsertRows(ctx, upserts, SourceType); err != nil {
				return err
			}
		}
	}
	if len(deleteIDs) > 0 {
		if err := table.DeleteRows(ctx, deleteIDs); err != nil {
			return err
		}
		if latest != nil {
			if err := latest.DeleteRows(ctx, deleteIDs); err != nil {
				return err
			}
		}
	}
	return nil
}
