package walwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStartRejectsMissingPath(t *testing.T) {
	_, _, err := Start(filepath.Join(t.TempDir(), "missing.sqlite"), DefaultConfig(), zerolog.Nop())
	require.Error(t, err)
}

func TestEmitsEventWhenWalGrows(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "watch.sqlite")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite placeholder"), 0o644))
	walPath := dbPath + "-wal"
	require.NoError(t, os.WriteFile(walPath, []byte{}, 0o644))

	h, events, err := Start(dbPath, Config{PollInterval: 20 * time.Millisecond, MinEventBytes: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	// Let the watcher record the empty WAL as its baseline first.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(walPath, make([]byte, 4096), 0o644))

	select {
	case ev := <-events:
		require.Greater(t, ev.BytesAdded, uint64(0))
		require.GreaterOrEqual(t, ev.CurrentSize, ev.BytesAdded)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wal growth event")
	}
}

func TestHandlesWalTruncationWithoutNegativeDelta(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "truncate.sqlite")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite placeholder"), 0o644))
	walPath := dbPath + "-wal"
	require.NoError(t, os.WriteFile(walPath, make([]byte, 4096), 0o644))

	h, events, err := Start(dbPath, Config{PollInterval: 10 * time.Millisecond, MinEventBytes: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	// Let the watcher record the 4096-byte baseline, then shrink the WAL
	// file, simulating a checkpoint/truncate, and give it time to see the
	// shrink before the file grows again.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(walPath, []byte{}, 0o644))
	time.Sleep(50 * time.Millisecond)

	// Grow it again; the watcher must report the new growth relative to
	// the post-truncation baseline, never a negative or huge bogus delta.
	require.NoError(t, os.WriteFile(walPath, make([]byte, 512), 0o644))

	select {
	case ev := <-events:
		require.LessOrEqual(t, ev.BytesAdded, uint64(512))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-truncation growth event")
	}
}

func TestStopClosesEventChannel(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stop.sqlite")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite placeholder"), 0o644))

	h, events, err := Start(dbPath, Config{PollInterval: 5 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	h.Stop()

	_, ok := <-events
	require.False(t, ok)
}

func TestWalGrowthDecoderProducesPlaceholder(t *testing.T) {
	decoder := WalGrowthDecoder{}
	rows := decoder.Decode(Event{BytesAdded: 1024, CurrentSize: 2048})
	require.Len(t, rows, 1)
	require.Equal(t, "__wal__", rows[0].TableName)
	require.Equal(t, "insert", string(rows[0].Operation))
}

func TestRowChangeIntoNewChange(t *testing.T) {
	row := RowChange{
		TableName:  "prices",
		Operation:  "update",
		PrimaryKey: "pk1",
		Payload:    map[string]any{"foo": "bar"},
	}
	change, err := row.IntoNewChange()
	require.NoError(t, err)
	require.Equal(t, "prices", change.TableName)
	require.Contains(t, string(change.Payload), "bar")
}
