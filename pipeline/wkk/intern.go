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

package wkk

import (
	"unique"
	"unsafe"
)

type rowkey string

// RowKey is an interned column name. Two RowKeys built from the same string
// compare equal with ==, which makes them cheap map keys for Row.
type RowKey = unique.Handle[rowkey]

func NewRowKey(s string) RowKey {
	return unique.Make(rowkey(s))
}

func RowKeyValue(rk RowKey) string {
	return string(rk.Value())
}

// RowKeyValues returns the string form of each key, in order.
func RowKeyValues(keys []RowKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = RowKeyValue(k)
	}
	return out
}

// NewRowKeys interns each name, in order.
func NewRowKeys(names ...string) []RowKey {
	out := make([]RowKey, len(names))
	for i, n := range names {
		out[i] = NewRowKey(n)
	}
	return out
}

// commonKeys maps common column names to pre-allocated RowKeys
var commonKeys = map[string]RowKey{
	"row_number": RowKeyRowNumber,
	"id":         unique.Make(rowkey("id")),
	"name":       unique.Make(rowkey("name")),
	"value":      unique.Make(rowkey("value")),
	"timestamp":  unique.Make(rowkey("timestamp")),
}

// NewRowKeyFromBytes creates a RowKey from bytes without string allocation for common keys
func NewRowKeyFromBytes(keyBytes []byte) RowKey {
	keyStr := unsafe.String(unsafe.SliceData(keyBytes), len(keyBytes))
	if key, exists := commonKeys[keyStr]; exists {
		return key
	}
	return unique.Make(rowkey(string(keyBytes)))
}

// RowKeyRowNumber: "row_number", the default rank column.
var RowKeyRowNumber = NewRowKey("row_number")
