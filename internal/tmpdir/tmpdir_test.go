package tmpdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReapStaleRemovesOldMatchingDirs(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TMPDIR", root)

	stale := filepath.Join(root, namePrefix+"111")
	fresh := filepath.Join(root, namePrefix+"222")
	unrelated := filepath.Join(root, "some-other-dir")
	require.NoError(t, os.MkdirAll(stale, 0o700))
	require.NoError(t, os.MkdirAll(fresh, 0o700))
	require.NoError(t, os.MkdirAll(unrelated, 0o700))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	cleaned, err := ReapStale(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, cleaned)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
	_, err = os.Stat(unrelated)
	require.NoError(t, err)
}

func TestReapStaleEmptyTempDir(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TMPDIR", root)

	cleaned, err := ReapStale(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, cleaned)
}
