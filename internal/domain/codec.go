package domain

import (
	"encoding/json"
	"fmt"
)

// DecodeRow decodes the JSON form of a row of table into its entity type.
func DecodeRow(table string, data []byte) (any, error) {
	switch table {
	case TableUser:
		return decode[User](data)
	case TableRoom:
		return decode[Room](data)
	case TableMessage:
		return decode[Message](data)
	case TablePointer:
		return decode[Pointer](data)
	}
	return nil, fmt.Errorf("decode row: unknown table %q", table)
}

func decode[T any](data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
