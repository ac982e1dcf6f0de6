package core

import (
	"strings"

	"nexumdb/pkg/common"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const dataPrefix = "data:"

// tablePrefix is the key prefix shared by every row of table.
func tablePrefix(table string) []byte {
	return []byte(dataPrefix + strings.ToLower(table) + ":")
}

// newRowKey returns data:<table>:<uuidv7>. Version 7 ids are time ordered,
// so a prefix scan returns rows in insertion order.
func newRowKey(table string) ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return append(tablePrefix(table), id[:]...), nil
}

func encodeRow(row common.Row) ([]byte, error) {
	return json.Marshal(row)
}

func decodeRow(raw []byte) (common.Row, error) {
	var row common.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}
