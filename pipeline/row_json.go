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

package pipeline

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// MarshalJSON implements json.Marshaler for Row. Keys are written in sorted
// order so that output files are stable across runs.
func (r Row) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(r))
	values := make(map[string]any, len(r))
	for k, v := range r {
		name := wkk.RowKeyValue(k)
		keys = append(keys, name)
		values[name] = v
	}
	slices.Sort(keys)

	buf := make([]byte, 0, 512)
	buf = append(buf, '{')
	for i, name := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}

		buf = append(buf, '"')
		buf = appendEscapedString(buf, name)
		buf = append(buf, '"', ':')

		switch v := values[name].(type) {
		case string:
			buf = append(buf, '"')
			buf = appendEscapedString(buf, v)
			buf = append(buf, '"')
		case time.Time:
			buf = append(buf, '"')
			buf = v.UTC().AppendFormat(buf, time.RFC3339Nano)
			buf = append(buf, '"')
		default:
			valueBytes, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf = append(buf, valueBytes...)
		}
	}

	buf = append(buf, '}')
	return buf, nil
}

// appendEscapedString appends s to buf with JSON string escaping
func appendEscapedString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			buf = append(buf, '\\', c)
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigit(c>>4), hexDigit(c&0xF))
			} else {
				buf = append(buf, c)
			}
		}
	}
	return buf
}

// hexDigit returns the hex digit for a value 0-15
func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// UnmarshalJSON implements json.Unmarshaler for Row
func (r *Row) UnmarshalJSON(data []byte) error {
	m, err := decodeJSONObject(data)
	if err != nil {
		return err
	}
	*r = FromStringMap(m)
	return nil
}

// Marshal marshals a Row to JSON bytes.
func (r Row) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal unmarshals JSON bytes into a Row.
// It automatically interns all string keys from the JSON into RowKeys,
// enabling efficient key comparison and memory usage.
func (r *Row) Unmarshal(data []byte) error {
	return json.Unmarshal(data, r)
}

// decodeJSONObject decodes a JSON object keeping integral numbers as int64,
// so that sort and partition keys read from JSON compare like typed columns.
func decodeJSONObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				m[k] = i
			} else if f, err := n.Float64(); err == nil {
				m[k] = f
			} else {
				m[k] = n.String()
			}
		}
	}
	return m, nil
}

// DecodeJSONRow decodes a single JSON object into a Row.
func DecodeJSONRow(data []byte) (Row, error) {
	m, err := decodeJSONObject(data)
	if err != nil {
		return nil, err
	}
	return FromStringMap(m), nil
}
