package jsonbapplier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	require.NoError(t, ValidateTableName("users"))
	require.NoError(t, ValidateTableName("_internal_table"))
	require.Error(t, ValidateTableName("users; DROP TABLE users"))
	require.Error(t, ValidateTableName(""))
	require.Error(t, ValidateTableName("1users"))
}

func TestCalculateBatchSize(t *testing.T) {
	rows := make([]Row, 2000)
	for i := range rows {
		rows[i] = Row{ID: "id", Data: []byte(`{"a":1}`)}
	}

	size := calculateBatchSize(rows, 0)
	require.LessOrEqual(t, size, maxBatchSize)
	require.GreaterOrEqual(t, size, minBatchSize)
}

func TestCalculateBatchSizeRespectsParamLimit(t *testing.T) {
	// 3 params per row (id, data, source_type); maxBatchSize rows should
	// never exceed PostgreSQL's ~65535 parameter limit.
	require.Less(t, maxBatchSize*3, 65535)
}

func TestIsConnectionError(t *testing.T) {
	require.True(t, isConnectionError(errString("connection reset by peer")))
	require.True(t, isConnectionError(errString("conn closed")))
	require.False(t, isConnectionError(errString("syntax error")))
}

type errString string

func (e errString) Error() string { return string(e) }
