package xmin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultDaemonConfig(t *testing.T) {
	cfg := DefaultDaemonConfig()
	require.Equal(t, "public", cfg.Schema)
	require.Equal(t, 10_000, cfg.BatchSize)
	require.Empty(t, cfg.Tables)
	require.Greater(t, cfg.ReconcileInterval.Hours(), cfg.SyncInterval.Hours())
}

func TestSplitQualified(t *testing.T) {
	schema, table, ok := splitQualified("public.orders")
	require.True(t, ok)
	require.Equal(t, "public", schema)
	require.Equal(t, "orders", table)

	_, _, ok = splitQualified("orders")
	require.False(t, ok)
}

func TestSyncDaemonHealthyDefaultsTrue(t *testing.T) {
	d := &SyncDaemon{isHealthy: true}
	require.True(t, d.Healthy())

	d.setHealthy(false)
	require.False(t, d.Healthy())
}

func TestLoadOrCreateStateCorruptFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	d := &SyncDaemon{cfg: DaemonConfig{StatePath: path}}
	_, err := d.loadOrCreateState()
	require.Error(t, err)
}
