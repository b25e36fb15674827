package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB is a free-form key/value payload stored as a JSONB column
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}

	*j = result
	return nil
}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Clone returns a shallow copy so callers never share a map with a store
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// Bool reads a boolean key, reporting whether it was present and a bool
func (j JSONB) Bool(key string) (value bool, ok bool) {
	raw, exists := j[key]
	if !exists {
		return false, false
	}
	value, ok = raw.(bool)
	return value, ok
}

// Float reads a numeric key as float64
func (j JSONB) Float(key string) (float64, bool) {
	raw, exists := j[key]
	if !exists {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// String reads a string key
func (j JSONB) String(key string) (string, bool) {
	raw, exists := j[key]
	if !exists {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
