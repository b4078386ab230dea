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

// Package cbor provides the CBOR encoding used for spilled rows.
//
// Every column is written as a two element array of a kind byte and the
// value, so a decoded row holds the same Go types as the row that was
// encoded: int32 stays int32, uint64 above MaxInt64 survives, and a
// time.Time keeps its zone offset. []byte(nil) and an empty []byte are
// distinct kinds.
package cbor

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// Value kinds. The numbering is part of the file format.
const (
	kindNil uint8 = iota
	kindBool
	kindInt
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindUint
	kindUint8
	kindUint16
	kindUint32
	kindUint64
	kindFloat32
	kindFloat64
	kindString
	kindBytes
	kindNilBytes
	kindTime
)

type typedValue struct {
	_    struct{} `cbor:",toarray"`
	Kind uint8
	V    any
}

type wireRow map[string]typedValue

// Config holds CBOR encoder and decoder configurations optimized for Row data.
type Config struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewConfig creates a new CBOR configuration optimized for Row data processing.
func NewConfig() (*Config, error) {
	encMode, err := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		BigIntConvert: cbor.BigIntConvertNone,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		IntDec: cbor.IntDecConvertNone,
		UTF8:   cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Config{
		encMode: encMode,
		decMode: decMode,
	}, nil
}

// NewEncoder creates a new CBOR encoder using the optimized configuration.
func (c *Config) NewEncoder(w io.Writer) *cbor.Encoder {
	return c.encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder using the optimized configuration.
func (c *Config) NewDecoder(r io.Reader) *cbor.Decoder {
	return c.decMode.NewDecoder(r)
}

// EncodeRow encodes a Row to CBOR bytes, with column names as string keys.
func (c *Config) EncodeRow(row pipeline.Row) ([]byte, error) {
	wire, err := toWire(row)
	if err != nil {
		return nil, err
	}
	return c.encMode.Marshal(wire)
}

// DecodeRow decodes CBOR bytes produced by EncodeRow.
func (c *Config) DecodeRow(data []byte) (pipeline.Row, error) {
	var wire wireRow
	if err := c.decMode.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	return fromWire(wire)
}

// EncodeRowTo writes row to a streaming encoder.
func EncodeRowTo(enc *cbor.Encoder, row pipeline.Row) error {
	wire, err := toWire(row)
	if err != nil {
		return err
	}
	return enc.Encode(wire)
}

// DecodeRowFrom reads the next row from a streaming decoder. It returns
// io.EOF at the end of the stream.
func DecodeRowFrom(dec *cbor.Decoder) (pipeline.Row, error) {
	var wire wireRow
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	return fromWire(wire)
}

func toWire(row pipeline.Row) (wireRow, error) {
	wire := make(wireRow, len(row))
	for key, value := range row {
		tv, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", wkk.RowKeyValue(key), err)
		}
		wire[wkk.RowKeyValue(key)] = tv
	}
	return wire, nil
}

func encodeValue(value any) (typedValue, error) {
	switch v := value.(type) {
	case nil:
		return typedValue{Kind: kindNil}, nil
	case bool:
		return typedValue{Kind: kindBool, V: v}, nil
	case int:
		return typedValue{Kind: kindInt, V: int64(v)}, nil
	case int8:
		return typedValue{Kind: kindInt8, V: int64(v)}, nil
	case int16:
		return typedValue{Kind: kindInt16, V: int64(v)}, nil
	case int32:
		return typedValue{Kind: kindInt32, V: int64(v)}, nil
	case int64:
		return typedValue{Kind: kindInt64, V: v}, nil
	case uint:
		return typedValue{Kind: kindUint, V: uint64(v)}, nil
	case uint8:
		return typedValue{Kind: kindUint8, V: uint64(v)}, nil
	case uint16:
		return typedValue{Kind: kindUint16, V: uint64(v)}, nil
	case uint32:
		return typedValue{Kind: kindUint32, V: uint64(v)}, nil
	case uint64:
		return typedValue{Kind: kindUint64, V: v}, nil
	case float32:
		return typedValue{Kind: kindFloat32, V: math.Float32bits(v)}, nil
	case float64:
		return typedValue{Kind: kindFloat64, V: math.Float64bits(v)}, nil
	case string:
		return typedValue{Kind: kindString, V: v}, nil
	case []byte:
		if v == nil {
			return typedValue{Kind: kindNilBytes}, nil
		}
		return typedValue{Kind: kindBytes, V: v}, nil
	case time.Time:
		b, err := v.MarshalBinary()
		if err != nil {
			return typedValue{}, err
		}
		return typedValue{Kind: kindTime, V: b}, nil
	default:
		return typedValue{}, fmt.Errorf("unsupported type %T", v)
	}
}

func fromWire(wire wireRow) (pipeline.Row, error) {
	row := make(pipeline.Row, len(wire))
	for name, tv := range wire {
		value, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		row[wkk.NewRowKey(name)] = value
	}
	return row, nil
}

func decodeValue(tv typedValue) (any, error) {
	switch tv.Kind {
	case kindNil:
		return nil, nil
	case kindNilBytes:
		return []byte(nil), nil
	case kindBool:
		v, ok := tv.V.(bool)
		if !ok {
			return nil, kindMismatch(tv)
		}
		return v, nil
	case kindInt, kindInt8, kindInt16, kindInt32, kindInt64:
		var i int64
		switch n := tv.V.(type) {
		case int64:
			i = n
		case uint64:
			if n > math.MaxInt64 {
				return nil, kindMismatch(tv)
			}
			i = int64(n)
		default:
			return nil, kindMismatch(tv)
		}
		switch tv.Kind {
		case kindInt:
			return int(i), nil
		case kindInt8:
			return int8(i), nil
		case kindInt16:
			return int16(i), nil
		case kindInt32:
			return int32(i), nil
		}
		return i, nil
	case kindUint, kindUint8, kindUint16, kindUint32, kindUint64, kindFloat32, kindFloat64:
		u, ok := tv.V.(uint64)
		if !ok {
			return nil, kindMismatch(tv)
		}
		switch tv.Kind {
		case kindUint:
			return uint(u), nil
		case kindUint8:
			return uint8(u), nil
		case kindUint16:
			return uint16(u), nil
		case kindUint32:
			return uint32(u), nil
		case kindFloat32:
			return math.Float32frombits(uint32(u)), nil
		case kindFloat64:
			return math.Float64frombits(u), nil
		}
		return u, nil
	case kindString:
		v, ok := tv.V.(string)
		if !ok {
			return nil, kindMismatch(tv)
		}
		return v, nil
	case kindBytes:
		v, ok := tv.V.([]byte)
		if !ok {
			return nil, kindMismatch(tv)
		}
		if v == nil {
			v = []byte{}
		}
		return v, nil
	case kindTime:
		b, ok := tv.V.([]byte)
		if !ok {
			return nil, kindMismatch(tv)
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", tv.Kind)
}

func kindMismatch(tv typedValue) error {
	return fmt.Errorf("value of type %T does not match kind %d", tv.V, tv.Kind)
}
