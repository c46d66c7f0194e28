package sqlitequeue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *ChangeQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.sqlite")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestParseChangeOperation(t *testing.T) {
	op, err := ParseChangeOperation("insert")
	require.NoError(t, err)
	require.Equal(t, OpInsert, op)

	_, err = ParseChangeOperation("truncate")
	require.Error(t, err)
}

func TestEnqueueAndFetchBatch(t *testing.T) {
	q := openTestQueue(t)

	id, err := q.Enqueue(NewChange{
		TableName:  "orders",
		Operation:  OpInsert,
		PrimaryKey: "42",
		Payload:    []byte(`{"status":"new"}`),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	batch, err := q.FetchBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "orders", batch[0].TableName)
	require.Equal(t, OpInsert, batch[0].Operation)
	require.Equal(t, "42", batch[0].PrimaryKey)
}

func TestFetchBatchRespectsLimit(t *testing.T) {
	q := openTestQueue(t)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(NewChange{TableName: "t", Operation: OpUpdate, PrimaryKey: "x"})
		require.NoError(t, err)
	}

	batch, err := q.FetchBatch(3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
}

func TestAckUpToAndVacuum(t *testing.T) {
	q := openTestQueue(t)

	var lastID int64
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(NewChange{TableName: "t", Operation: OpDelete, PrimaryKey: "x"})
		require.NoError(t, err)
		lastID = id
	}

	acked, err := q.AckUpTo(lastID)
	require.NoError(t, err)
	require.Equal(t, int64(3), acked)

	remaining, err := q.FetchBatch(10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	deleted, err := q.VacuumAcknowledged()
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
}

func TestQueueStateRoundTrip(t *testing.T) {
	q := openTestQueue(t)

	state, err := q.GetState("orders")
	require.NoError(t, err)
	require.Nil(t, state)

	frame := "frame-7"
	require.NoError(t, q.SetState(QueueState{TableName: "orders", LastChangeID: 12, LastWalFrame: &frame}))

	loaded, err := q.GetState("orders")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, int64(12), loaded.LastChangeID)
	require.Equal(t, "frame-7", *loaded.LastWalFrame)

	require.NoError(t, q.SetState(QueueState{TableName: "orders", LastChangeID: 20}))
	loaded, err = q.GetState("orders")
	require.NoError(t, err)
	require.Equal(t, int64(20), loaded.LastChangeID)
}
