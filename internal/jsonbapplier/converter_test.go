package jsonbapplier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteValueToJSONBasicTypes(t *testing.T) {
	v, err := SQLiteValueToJSON(int64(42))
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	v, err = SQLiteValueToJSON("hello")
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	v, err = SQLiteValueToJSON(nil)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSQLiteValueToJSONBlob(t *testing.T) {
	v, err := SQLiteValueToJSON([]byte("Hello"))
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "blob", obj["_type"])
	require.NotEmpty(t, obj["data"])
}

func TestSQLiteValueToJSONNonFiniteFloat(t *testing.T) {
	v, err := SQLiteValueToJSON(math.NaN())
	require.NoError(t, err)
	_, isString := v.(string)
	require.True(t, isString)

	v, err = SQLiteValueToJSON(math.Inf(1))
	require.NoError(t, err)
	_, isString = v.(string)
	require.True(t, isString)
}

func TestRowToJSON(t *testing.T) {
	row := map[string]any{
		"id":   int64(1),
		"name": "Alice",
		"note": nil,
	}
	encoded, err := RowToJSON(row)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"Alice"`)
	require.Contains(t, string(encoded), `"note":null`)
}
