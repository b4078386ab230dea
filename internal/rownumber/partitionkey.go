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

package rownumber

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// Partition key value tags.
const (
	keyTagNull byte = iota
	keyTagFalse
	keyTagTrue
	keyTagInt
	keyTagUint
	keyTagFloat
	keyTagString
	keyTagBytes
	keyTagTime
)

// encodePartitionKey appends the canonical encoding of row's partition
// columns to buf. Rows with equal partition values produce equal bytes:
// nulls share one tag and numbers are normalized so that 3, int8(3) and
// 3.0 land in the same partition.
func encodePartitionKey(buf []byte, cols []wkk.RowKey, row pipeline.Row) ([]byte, error) {
	for _, col := range cols {
		v, ok := row[col]
		if !ok || v == nil {
			buf = append(buf, keyTagNull)
			continue
		}
		var err error
		buf, err = appendKeyValue(buf, v)
		if err != nil {
			return nil, &DataError{Column: wkk.RowKeyValue(col), Msg: err.Error()}
		}
	}
	return buf, nil
}

func appendKeyValue(buf []byte, v any) ([]byte, error) {
	if kind, i, u, f := numeric(v); kind != kindNone {
		return appendKeyNumber(buf, kind, i, u, f), nil
	}
	switch val := v.(type) {
	case bool:
		if val {
			return append(buf, keyTagTrue), nil
		}
		return append(buf, keyTagFalse), nil
	case string:
		buf = append(buf, keyTagString)
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		return append(buf, val...), nil
	case []byte:
		buf = append(buf, keyTagBytes)
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		return append(buf, val...), nil
	case time.Time:
		buf = append(buf, keyTagTime)
		buf = binary.BigEndian.AppendUint64(buf, uint64(val.Unix()))
		return binary.BigEndian.AppendUint32(buf, uint32(val.Nanosecond())), nil
	}
	return nil, fmt.Errorf("unsupported partition key type %T", v)
}

func appendKeyNumber(buf []byte, kind numKind, i int64, u uint64, f float64) []byte {
	switch kind {
	case kindUint:
		if u <= math.MaxInt64 {
			return appendKeyInt(buf, int64(u))
		}
		buf = append(buf, keyTagUint)
		return binary.BigEndian.AppendUint64(buf, u)
	case kindFloat:
		switch {
		case math.IsNaN(f):
			buf = append(buf, keyTagFloat)
			return binary.BigEndian.AppendUint64(buf, math.Float64bits(math.NaN()))
		case f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64:
			return appendKeyInt(buf, int64(f))
		case f == math.Trunc(f) && f >= math.MaxInt64 && f < math.MaxUint64:
			buf = append(buf, keyTagUint)
			return binary.BigEndian.AppendUint64(buf, uint64(f))
		}
		buf = append(buf, keyTagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return appendKeyInt(buf, i)
}

func appendKeyInt(buf []byte, i int64) []byte {
	buf = append(buf, keyTagInt)
	return binary.BigEndian.AppendUint64(buf, uint64(i))
}

// spillBucket maps an encoded partition key to one of n spill buckets.
func spillBucket(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

// PartitionShard assigns row to one of n shards by its partition columns, so
// that every row of a partition reaches the same operator. The hash is
// seeded apart from spillBucket so shards still use every spill bucket.
func PartitionShard(cols []wkk.RowKey, row pipeline.Row, n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	buf, err := encodePartitionKey([]byte{0xff}, cols, row)
	if err != nil {
		return 0, err
	}
	return int(xxhash.Sum64(buf) % uint64(n)), nil
}
