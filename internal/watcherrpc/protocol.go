// Package watcherrpc implements an authenticated request/response protocol
// for the change queue, letting a remote applier pull and acknowledge
// changes without sharing a filesystem with the watcher. There is no
// generated protobuf stub in this tree, so the wire format is newline-
// delimited JSON rather than gRPC.
package watcherrpc

import (
	"fmt"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

// Method identifies an RPC operation.
type Method string

const (
	MethodHealthCheck Method = "health_check"
	MethodListChanges Method = "list_changes"
	MethodAckChanges  Method = "ack_changes"
	MethodGetState    Method = "get_state"
	MethodSetState    Method = "set_state"
)

const maxListChangesLimit = 10_000

// ChangeOp is the wire-level closed tagged sum over row-change operations,
// mirroring sqlitequeue.ChangeOperation on the client side of the RPC
// boundary, so clients validate ops without using sqlitequeue's types.
type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "insert"
	ChangeOpUpdate ChangeOp = "update"
	ChangeOpDelete ChangeOp = "delete"
)

// ParseChangeOp validates a wire change's op string, rejecting anything
// outside the closed {insert, update, delete} set.
func ParseChangeOp(value string) (ChangeOp, error) {
	switch ChangeOp(value) {
	case ChangeOpInsert, ChangeOpUpdate, ChangeOpDelete:
		return ChangeOp(value), nil
	default:
		return "", fmt.Errorf("watcherrpc: unknown change op %q", value)
	}
}

// Request is one client call, framed as a single JSON line.
type Request struct {
	Method        Method `json:"method"`
	Authorization string `json:"authorization"`
	Limit         int64  `json:"limit,omitempty"`
	UpToChangeID  int64  `json:"up_to_change_id,omitempty"`
	TableName     string `json:"table_name,omitempty"`
	LastChangeID  int64  `json:"last_change_id,omitempty"`
	LastWalFrame  string `json:"last_wal_frame,omitempty"`
	Cursor        string `json:"cursor,omitempty"`
}

// Response is one server reply, framed as a single JSON line.
type Response struct {
	Error string `json:"error,omitempty"`

	Status string `json:"status,omitempty"`

	Changes []Change `json:"changes,omitempty"`

	Acknowledged int64 `json:"acknowledged,omitempty"`

	Exists       bool   `json:"exists,omitempty"`
	LastChangeID int64  `json:"last_change_id,omitempty"`
	LastWalFrame string `json:"last_wal_frame,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
}

// Change is the wire representation of a queued change record.
type Change struct {
	ChangeID   int64  `json:"change_id"`
	TableName  string `json:"table_name"`
	Op         string `json:"op"`
	PrimaryKey string `json:"primary_key"`
	Payload    []byte `json:"payload,omitempty"`
	WalFrame   string `json:"wal_frame,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

func changeToWire(row sqlitequeue.ChangeRecord) Change {
	c := Change{
		ChangeID:   row.ChangeID,
		TableName:  row.TableName,
		Op:         string(row.Operation),
		PrimaryKey: row.PrimaryKey,
		Payload:    row.Payload,
	}
	if row.WalFrame != nil {
		c.WalFrame = *row.WalFrame
	}
	if row.Cursor != nil {
		c.Cursor = *row.Cursor
	}
	return c
}

func clampListLimit(limit int64) int {
	if limit < 1 {
		return 1
	}
	if limit > maxListChangesLimit {
		return maxListChangesLimit
	}
	return int(limit)
}
