package watcherrpc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

func testServer(t *testing.T, token string) *Server {
	t.Helper()
	q, err := sqlitequeue.Open(filepath.Join(t.TempDir(), "queue.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return NewServer(q, token, zerolog.Nop())
}

func TestHandleRejectsBadAuth(t *testing.T) {
	s := testServer(t, "secret")
	resp := s.Handle(Request{Method: MethodHealthCheck, Authorization: "Bearer wrong"})
	require.NotEmpty(t, resp.Error)
}

func TestHandleHealthCheck(t *testing.T) {
	s := testServer(t, "secret")
	resp := s.Handle(Request{Method: MethodHealthCheck, Authorization: "Bearer secret"})
	require.Equal(t, "ok", resp.Status)
}

func TestHandleSetStateRequiresTableName(t *testing.T) {
	s := testServer(t, "secret")
	resp := s.Handle(Request{Method: MethodSetState, Authorization: "Bearer secret"})
	require.Contains(t, resp.Error, "table_name")
}

func TestClampListLimit(t *testing.T) {
	require.Equal(t, 1, clampListLimit(0))
	require.Equal(t, 1, clampListLimit(-5))
	require.Equal(t, maxListChangesLimit, clampListLimit(50_000))
	require.Equal(t, 42, clampListLimit(42))
}

func TestParseChangeOp(t *testing.T) {
	op, err := ParseChangeOp("insert")
	require.NoError(t, err)
	require.Equal(t, ChangeOpInsert, op)

	op, err = ParseChangeOp("delete")
	require.NoError(t, err)
	require.Equal(t, ChangeOpDelete, op)

	_, err = ParseChangeOp("truncate")
	require.Error(t, err)
}

func TestServerOverUnixSocketRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "watcher.sock")
	s := testServer(t, "secret")

	handle, err := SpawnUnix(s, sockPath)
	require.NoError(t, err)
	defer handle.Stop()

	client, err := Dial("unix", sockPath, "secret", 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	status, err := client.HealthCheck()
	require.NoError(t, err)
	require.Equal(t, "ok", status)

	require.NoError(t, client.SetState("orders", 5, "", ""))

	resp, err := client.GetState("orders")
	require.NoError(t, err)
	require.True(t, resp.Exists)
	require.Equal(t, int64(5), resp.LastChangeID)
}

func TestServerOverUnixSocketRejectsBadToken(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "watcher.sock")
	s := testServer(t, "secret")

	handle, err := SpawnUnix(s, sockPath)
	require.NoError(t, err)
	defer handle.Stop()

	client, err := Dial("unix", sockPath, "wrong-token", 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.HealthCheck()
	require.Error(t, err)
}
