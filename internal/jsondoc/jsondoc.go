// Package jsondoc provides a JSON column type for gorm models that works on
// both postgres (jsonb) and sqlite (text).
package jsondoc

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

var errInvalid = errors.New("jsondoc: invalid JSON")

// JSON holds a raw JSON document.
type JSON []byte

// From encodes v into a JSON document. A nil v yields an empty document.
func From(v any) (JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsondoc: encode: %w", err)
	}
	return JSON(b), nil
}

// Decode unmarshals the document into dst. Empty documents leave dst untouched.
func (j JSON) Decode(dst any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dst)
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(j) {
		return nil, errInvalid
	}
	return append([]byte(nil), j...), nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return errInvalid
	}
	*j = append((*j)[:0], data...)
	return nil
}

// Value implements driver.Valuer. Documents are written as text so the same
// model works against sqlite in tests.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, errInvalid
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsondoc: unsupported scan type %T", value)
	}
	if !json.Valid(raw) {
		return errInvalid
	}
	*j = append((*j)[:0], raw...)
	return nil
}
