package xmin

import "errors"

// ErrInvalidCtid is returned when a stored pagination cursor fails ctid
// format validation before being inlined into a query.
var ErrInvalidCtid = errors.New("xmin: invalid ctid pagination cursor")

// ErrNoPrimaryKey is returned when a table being synced has no primary key,
// since upserts and the reconciler both require one.
var ErrNoPrimaryKey = errors.New("xmin: table has no primary key")

// ErrWraparound describes the condition in which a full resync is required
// because xmin wraparound was detected for a table. SyncDaemon does not
// return it: on wraparound it resyncs the table from xmin 0 itself.
var ErrWraparound = errors.New("xmin: transaction id wraparound detected, full resync required")
