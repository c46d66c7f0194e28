package cursorstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetCursorMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	cursor, err := s.GetCursor("orders")
	require.NoError(t, err)
	require.Nil(t, cursor)
}

func TestGetOrCreateCursorCreatesFresh(t *testing.T) {
	s := openTestStore(t)
	cursor, err := s.GetOrCreateCursor("orders")
	require.NoError(t, err)
	require.Equal(t, "orders", cursor.TableName)
	require.Equal(t, int64(0), cursor.LastChangeID)
}

func TestAdvanceCursorPersists(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AdvanceCursor("orders", 42))

	cursor, err := s.GetCursor("orders")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.Equal(t, int64(42), cursor.LastChangeID)

	require.NoError(t, s.AdvanceCursor("orders", 100))
	cursor, err = s.GetCursor("orders")
	require.NoError(t, err)
	require.Equal(t, int64(100), cursor.LastChangeID)
}
