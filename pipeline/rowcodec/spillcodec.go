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

// Package rowcodec implements the compact binary row encoding used for
// operator spill files.
package rowcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// SpillCodec provides a compact, low-allocation binary encoding intended for
// process-local spill files. The format is not stable across process restarts
// and intentionally relies on a process-level RowKey dictionary to avoid
// per-row column name serialization.
//
// SpillCodec is NOT safe for concurrent use. Each goroutine should use its own
// instance. The underlying key dictionary is shared and thread-safe, but the
// scratch buffers within each codec instance are not.
type SpillCodec struct {
	varintBuf [binary.MaxVarintLen64]byte
	scalarBuf [9]byte
}

// Reader is what DecodeRowFrom needs from its input; *bufio.Reader and
// *bytes.Reader both qualify.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Spill type tags.
const (
	spillTagNil byte = iota + 1
	spillTagBool
	spillTagInt
	spillTagInt8
	spillTagInt16
	spillTagInt32
	spillTagInt64
	spillTagUint8
	spillTagUint16
	spillTagUint32
	spillTagUint64
	spillTagFloat32
	spillTagFloat64
	spillTagString
	spillTagBytes
	spillTagNilBytes
	spillTagTime
	spillTagUint
)

var (
	spillKeyMu   sync.RWMutex
	spillKeyToID = make(map[wkk.RowKey]uint32)
	spillIDToKey = make([]wkk.RowKey, 0, 256)
)

// NewSpillCodec returns a SpillCodec instance.
func NewSpillCodec() *SpillCodec {
	return &SpillCodec{}
}

// EncodeRowTo writes row to w and returns the number of bytes written.
// Each record is self-delimiting: a uvarint field count followed by
// (key id, tag, payload) triples.
func (c *SpillCodec) EncodeRowTo(w io.Writer, row pipeline.Row) (int64, error) {
	n := binary.PutUvarint(c.varintBuf[:], uint64(len(row)))
	if _, err := w.Write(c.varintBuf[:n]); err != nil {
		return 0, err
	}
	written := int64(n)

	for key, value := range row {
		binary.LittleEndian.PutUint32(c.scalarBuf[:4], c.ensureKeyID(key))
		if _, err := w.Write(c.scalarBuf[:4]); err != nil {
			return written, err
		}
		written += 4

		count, err := c.writeValue(w, value)
		written += count
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *SpillCodec) writeValue(w io.Writer, value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return c.writeTag(w, spillTagNil)
	case bool:
		var b uint64
		if v {
			b = 1
		}
		return c.writeFixed(w, spillTagBool, b, 1)
	case int:
		return c.writeFixed(w, spillTagInt, uint64(v), 8)
	case int8:
		return c.writeFixed(w, spillTagInt8, uint64(v), 1)
	case int16:
		return c.writeFixed(w, spillTagInt16, uint64(v), 2)
	case int32:
		return c.writeFixed(w, spillTagInt32, uint64(v), 4)
	case int64:
		return c.writeFixed(w, spillTagInt64, uint64(v), 8)
	case uint:
		return c.writeFixed(w, spillTagUint, uint64(v), 8)
	case uint8:
		return c.writeFixed(w, spillTagUint8, uint64(v), 1)
	case uint16:
		return c.writeFixed(w, spillTagUint16, uint64(v), 2)
	case uint32:
		return c.writeFixed(w, spillTagUint32, uint64(v), 4)
	case uint64:
		return c.writeFixed(w, spillTagUint64, v, 8)
	case float32:
		return c.writeFixed(w, spillTagFloat32, uint64(math.Float32bits(v)), 4)
	case float64:
		return c.writeFixed(w, spillTagFloat64, math.Float64bits(v), 8)
	case string:
		return c.writeLengthPrefixed(w, spillTagString, []byte(v))
	case []byte:
		if v == nil {
			return c.writeTag(w, spillTagNilBytes)
		}
		return c.writeLengthPrefixed(w, spillTagBytes, v)
	case time.Time:
		// MarshalBinary keeps the zone offset along with the instant.
		b, err := v.MarshalBinary()
		if err != nil {
			return 0, err
		}
		return c.writeLengthPrefixed(w, spillTagTime, b)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// DecodeRowFrom reads one record from r into dst, clearing dst first.
// It returns io.EOF only when r is exhausted before the record starts.
func (c *SpillCodec) DecodeRowFrom(r Reader, dst pipeline.Row) error {
	clear(dst)

	fieldCount, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read field count: %w", err)
	}

	var zeroKey wkk.RowKey
	for i := uint64(0); i < fieldCount; i++ {
		if _, err := io.ReadFull(r, c.scalarBuf[:4]); err != nil {
			return fmt.Errorf("read key id: %w", noEOF(err))
		}
		keyID := binary.LittleEndian.Uint32(c.scalarBuf[:4])
		key := c.lookupKey(keyID)
		if key == zeroKey {
			return fmt.Errorf("unknown key id %d", keyID)
		}

		value, err := c.readValue(r)
		if err != nil {
			return fmt.Errorf("read value for %q: %w", wkk.RowKeyValue(key), noEOF(err))
		}
		dst[key] = value
	}
	return nil
}

func (c *SpillCodec) readValue(r Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case spillTagNil:
		return nil, nil
	case spillTagNilBytes:
		return []byte(nil), nil
	case spillTagBool:
		v, err := c.readFixed(r, 1)
		return v == 1, err
	case spillTagInt:
		v, err := c.readFixed(r, 8)
		return int(int64(v)), err
	case spillTagInt8:
		v, err := c.readFixed(r, 1)
		return int8(v), err
	case spillTagInt16:
		v, err := c.readFixed(r, 2)
		return int16(v), err
	case spillTagInt32:
		v, err := c.readFixed(r, 4)
		return int32(v), err
	case spillTagInt64:
		v, err := c.readFixed(r, 8)
		return int64(v), err
	case spillTagUint:
		v, err := c.readFixed(r, 8)
		return uint(v), err
	case spillTagUint8:
		v, err := c.readFixed(r, 1)
		return uint8(v), err
	case spillTagUint16:
		v, err := c.readFixed(r, 2)
		return uint16(v), err
	case spillTagUint32:
		v, err := c.readFixed(r, 4)
		return uint32(v), err
	case spillTagUint64:
		return c.readFixed(r, 8)
	case spillTagFloat32:
		v, err := c.readFixed(r, 4)
		return math.Float32frombits(uint32(v)), err
	case spillTagFloat64:
		v, err := c.readFixed(r, 8)
		return math.Float64frombits(v), err
	case spillTagString:
		b, err := c.readLengthPrefixed(r)
		return string(b), err
	case spillTagBytes:
		return c.readLengthPrefixed(r)
	case spillTagTime:
		b, err := c.readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown type tag %d", tag)
	}
}

func (c *SpillCodec) ensureKeyID(key wkk.RowKey) uint32 {
	spillKeyMu.RLock()
	id, ok := spillKeyToID[key]
	spillKeyMu.RUnlock()
	if ok {
		return id
	}

	spillKeyMu.Lock()
	defer spillKeyMu.Unlock()
	if id, ok := spillKeyToID[key]; ok {
		return id
	}
	if len(spillIDToKey) >= math.MaxUint32 {
		panic("spill key dictionary overflow: too many unique keys")
	}
	id = uint32(len(spillIDToKey))
	spillKeyToID[key] = id
	spillIDToKey = append(spillIDToKey, key)
	return id
}

func (c *SpillCodec) lookupKey(id uint32) wkk.RowKey {
	spillKeyMu.RLock()
	defer spillKeyMu.RUnlock()
	if int(id) >= len(spillIDToKey) {
		var zero wkk.RowKey
		return zero
	}
	return spillIDToKey[id]
}

func (c *SpillCodec) writeTag(w io.Writer, tag byte) (int64, error) {
	c.scalarBuf[0] = tag
	_, err := w.Write(c.scalarBuf[:1])
	return 1, err
}

func (c *SpillCodec) writeFixed(w io.Writer, tag byte, val uint64, width int) (int64, error) {
	c.scalarBuf[0] = tag
	switch width {
	case 1:
		c.scalarBuf[1] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(c.scalarBuf[1:3], uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(c.scalarBuf[1:5], uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(c.scalarBuf[1:9], val)
	default:
		return 0, fmt.Errorf("invalid scalar width %d", width)
	}
	_, err := w.Write(c.scalarBuf[:1+width])
	return int64(1 + width), err
}

func (c *SpillCodec) readFixed(r Reader, width int) (uint64, error) {
	if _, err := io.ReadFull(r, c.scalarBuf[:width]); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(c.scalarBuf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(c.scalarBuf[:2])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(c.scalarBuf[:4])), nil
	default:
		return binary.LittleEndian.Uint64(c.scalarBuf[:8]), nil
	}
}

func (c *SpillCodec) writeLengthPrefixed(w io.Writer, tag byte, data []byte) (int64, error) {
	c.scalarBuf[0] = tag
	if _, err := w.Write(c.scalarBuf[:1]); err != nil {
		return 0, err
	}
	n := binary.PutUvarint(c.varintBuf[:], uint64(len(data)))
	if _, err := w.Write(c.varintBuf[:n]); err != nil {
		return 1, err
	}
	if _, err := w.Write(data); err != nil {
		return int64(1 + n), err
	}
	return int64(1 + n + len(data)), nil
}

func (c *SpillCodec) readLengthPrefixed(r Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// noEOF turns a bare EOF in the middle of a record into ErrUnexpectedEOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
