package walwatch

import (
	"encoding/json"

	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
)

// RowChange is a captured row mutation, on its way from decoding to the
// durable queue.
type RowChange struct {
	TableName  string
	Operation  sqlitequeue.ChangeOperation
	PrimaryKey string
	Payload    map[string]any
	WalFrame   *string
	Cursor     *string
}

// IntoNewChange serializes the payload and converts this capture into the
// form the queue persists.
func (c RowChange) IntoNewChange() (sqlitequeue.NewChange, error) {
	var payload []byte
	if c.Payload != nil {
		encoded, err := json.Marshal(c.Payload)
		if err != nil {
			return sqlitequeue.NewChange{}, err
		}
		payload = encoded
	}
	return sqlitequeue.NewChange{
		TableName:  c.TableName,
		Operation:  c.Operation,
		PrimaryKey: c.PrimaryKey,
		Payload:    payload,
		WalFrame:   c.WalFrame,
		Cursor:     c.Cursor,
	}, nil
}
