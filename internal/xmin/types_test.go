package xmin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectWraparound(t *testing.T) {
	cases := []struct {
		name     string
		old, cur uint32
		want     WraparoundCheck
	}{
		{"current ahead", 100, 200, Normal},
		{"current equal", 100, 100, Normal},
		{"small regression", 1000, 900, Normal},
		{"at threshold boundary", 3_000_000_000, 3_000_000_000 - WraparoundThreshold, Normal},
		{"just past threshold", 3_000_000_000, 3_000_000_000 - WraparoundThreshold - 1, WraparoundDetected},
		{"classic wraparound", 4_000_000_000, 100, WraparoundDetected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectWraparound(tc.old, tc.cur))
		})
	}
}

func TestTableSyncStateUpdate(t *testing.T) {
	s := NewTableSyncState("public", "users")
	require.Equal(t, uint32(0), s.LastXmin)
	s.Update(12345, 100)
	require.Equal(t, uint32(12345), s.LastXmin)
	require.Equal(t, uint64(100), s.LastRowCount)
	require.Equal(t, "public.users", s.QualifiedName())
}
