// Package domain defines the core persistence models for the activity feed
// platform. This file provides JSON-backed column types so flexible payloads
// (target lists, opaque metadata) can live in a single TEXT column without
// schema changes.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// StringList is an ordered list of string IDs stored as a JSON array.
type StringList []string

// Value implements driver.Valuer by serializing the list to JSON.
// A nil list is stored as the empty array so reads never see SQL NULL.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner by deserializing a JSON array.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, (*[]string)(l))
}

// Metadata is an opaque key-value payload stored as a JSON object.
type Metadata map[string]any

// Value implements driver.Valuer by serializing the map to JSON.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner by deserializing a JSON object.
func (m *Metadata) Scan(src any) error {
	return scanJSON(src, (*map[string]any)(m))
}

// scanJSON decodes a TEXT/BLOB column into dst, treating NULL and the empty
// string as the zero value.
func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}
