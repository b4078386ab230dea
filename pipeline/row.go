// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package pipeline holds the row and batch types that flow between readers,
// the rank operator and writers.
package pipeline

import (
	"bytes"
	"time"

	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// Row represents a single data row as a map of RowKey to any value.
// A missing key and a nil value are both treated as SQL NULL.
type Row map[wkk.RowKey]any

// CopyRow creates a copy of a row that shares no mutable memory with in.
// Byte slices are cloned; every other value a Row holds is immutable.
func CopyRow(in Row) Row {
	out := make(Row, len(in))
	for k, v := range in {
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		out[k] = v
	}
	return out
}

// ToStringMap converts a Row to map[string]any for encoders that need string keys.
func ToStringMap(row Row) map[string]any {
	result := make(map[string]any, len(row))
	for key, value := range row {
		result[wkk.RowKeyValue(key)] = value
	}
	return result
}

// FromStringMap interns every key of m into a new Row.
func FromStringMap(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		row[wkk.NewRowKey(k)] = v
	}
	return row
}

// IsNull reports whether the column is absent or holds nil.
func (r Row) IsNull(key wkk.RowKey) bool {
	v, ok := r[key]
	return !ok || v == nil
}

// GetString retrieves a string value from the Row.
// Returns empty string if the key is not found or the value is not a string.
func (r Row) GetString(key wkk.RowKey) string {
	if val, ok := r[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt64 retrieves an int64 value from the Row.
// Returns the value and true if found and convertible, or 0 and false otherwise.
func (r Row) GetInt64(key wkk.RowKey) (int64, bool) {
	if val, ok := r[key]; ok {
		switch v := val.(type) {
		case int64:
			return v, true
		case int:
			return int64(v), true
		case int32:
			return int64(v), true
		case int16:
			return int64(v), true
		case int8:
			return int64(v), true
		case float64:
			return int64(v), true
		}
	}
	return 0, false
}

// EstimatedBytes returns a rough in-memory footprint for the row. It is used
// for memory accounting and output batch sizing, so it only has to be
// monotone in the amount of data, not exact.
func (r Row) EstimatedBytes() int64 {
	// map header plus per-entry overhead
	size := int64(48)
	for _, value := range r {
		size += 16 + 16 // key handle + interface header
		size += valueBytes(value)
	}
	return size
}

func valueBytes(value any) int64 {
	switch v := value.(type) {
	case nil, bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	case int, int64, uint, uint64, float64:
		return 8
	case string:
		return int64(len(v)) + 16
	case []byte:
		return int64(len(v)) + 24
	case time.Time:
		return 24
	default:
		return 32
	}
}
