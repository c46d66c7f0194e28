package jsonbapplier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("append")
	require.NoError(t, err)
	require.Equal(t, ModeAppend, mode)

	mode, err = ParseMode("append_deduped")
	require.NoError(t, err)
	require.Equal(t, ModeAppendDeduped, mode)

	_, err = ParseMode("replace")
	require.Error(t, err)
}
