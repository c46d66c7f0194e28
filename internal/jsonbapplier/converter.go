package jsonbapplier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// SQLiteValueToJSON converts one value returned by database/sql for a
// mattn/go-sqlite3 column into its JSON representation. database/sql only
// ever hands back int64, float64, string, []byte, bool, nil, or time.Time
// for this driver, so the dispatch is a closed type switch; time.Time, and
// anything outside that set, falls back to its fmt.Sprintf("%v") string form rather
// than erroring, since a sync pipeline should degrade a surprising column
// type to a readable string instead of failing the whole batch.
func SQLiteValueToJSON(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("%v", v), nil
		}
		return v, nil
	case bool:
		return v, nil
	case string:
		return v, nil
	case []byte:
		return map[string]any{
			"_type": "blob",
			"data":  base64.StdEncoding.EncodeToString(v),
		}, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// RowToJSON converts a column-name-keyed SQLite row into a JSON object
// suitable for JSONB storage.
func RowToJSON(row map[string]any) (json.RawMessage, error) {
	obj := make(map[string]any, len(row))
	for col, value := range row {
		converted, err := SQLiteValueToJSON(value)
		if err != nil {
			return nil, fmt.Errorf("jsonbapplier: convert column %q: %w", col, err)
		}
		obj[col] = converted
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("jsonbapplier: marshal row: %w", err)
	}
	return encoded, nil
}
