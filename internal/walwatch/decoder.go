package walwatch

import (
	"errors"
	"strconv"
	"time"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

// ErrNotImplemented marks row-level WAL frame decoding as not yet built:
// this package only observes that the WAL grew, not what changed within it.
var ErrNotImplemented = errors.New("walwatch: row-level WAL decoding is not implemented")

// Frame is a placeholder for a decoded WAL frame. Real frame parsing (page
// headers, commit markers, cell payloads) is out of scope for the growth
// watcher; Decode exists so a future frame-level decoder has a natural
// home without reshaping this package's public surface.
type Frame struct {
	Data []byte
}

// Decode is unimplemented; WalGrowthDecoder is the only decoder this
// package currently ships.
func Decode(raw []byte) (*Frame, error) {
	return nil, ErrNotImplemented
}

// WalGrowthDecoder turns a raw growth Event into a single placeholder
// RowChange, carrying the growth measurement itself as the payload rather
// than the rows that caused it. It is a stand-in until frame-level
// decoding lands; downstream consumers should not assume the table name
// "__wal__" corresponds to any real table.
type WalGrowthDecoder struct{}

// Decode converts a WAL growth event into its placeholder RowChange.
func (WalGrowthDecoder) Decode(event Event) []RowChange {
	now := time.Now()
	return []RowChange{{
		TableName:  "__wal__",
		Operation:  sqlitequeue.OpInsert,
		PrimaryKey: strconv.FormatInt(now.UnixNano(), 10),
		Payload: map[string]any{
			"kind":         "wal_growth",
			"bytes_added":  event.BytesAdded,
			"current_size": event.CurrentSize,
			"recorded_at":  float64(now.UnixNano()) / 1e9,
		},
	}}
}
