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
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// CompareRows orders a and b by keys. It returns a negative number when a
// ranks before b, zero when they tie on every key, and a positive number
// otherwise.
func CompareRows(keys []SortKey, a, b pipeline.Row) (int, error) {
	c := newComparator(keys)
	r := c.compare(a, b)
	return r, c.takeErr()
}

// comparator is CompareRows with the keys interned once. The first value
// error is kept so it can be used from heap callbacks, which cannot return
// one.
type comparator struct {
	keys []SortKey
	cols []wkk.RowKey
	err  error
}

func newComparator(keys []SortKey) *comparator {
	cols := make([]wkk.RowKey, len(keys))
	for i, k := range keys {
		cols[i] = wkk.NewRowKey(k.Column)
	}
	return &comparator{keys: keys, cols: cols}
}

func (c *comparator) compare(a, b pipeline.Row) int {
	for i, key := range c.keys {
		col := c.cols[i]
		aNull, bNull := a.IsNull(col), b.IsNull(col)
		switch {
		case aNull && bNull:
			continue
		case aNull:
			if key.Order.NullsFirst {
				return -1
			}
			return 1
		case bNull:
			if key.Order.NullsFirst {
				return 1
			}
			return -1
		}

		r, err := compareValues(a[col], b[col])
		if err != nil {
			if c.err == nil {
				c.err = &DataError{Column: key.Column, Msg: err.Error()}
			}
			return 0
		}
		if r != 0 {
			if key.Order.Descending {
				return -r
			}
			return r
		}
	}
	return 0
}

func (c *comparator) takeErr() error {
	err := c.err
	c.err = nil
	return err
}

type numKind int

const (
	kindNone numKind = iota
	kindInt
	kindUint
	kindFloat
)

func numeric(v any) (numKind, int64, uint64, float64) {
	switch n := v.(type) {
	case int:
		return kindInt, int64(n), 0, 0
	case int8:
		return kindInt, int64(n), 0, 0
	case int16:
		return kindInt, int64(n), 0, 0
	case int32:
		return kindInt, int64(n), 0, 0
	case int64:
		return kindInt, n, 0, 0
	case uint:
		return kindUint, 0, uint64(n), 0
	case uint8:
		return kindUint, 0, uint64(n), 0
	case uint16:
		return kindUint, 0, uint64(n), 0
	case uint32:
		return kindUint, 0, uint64(n), 0
	case uint64:
		return kindUint, 0, n, 0
	case float32:
		return kindFloat, 0, 0, float64(n)
	case float64:
		return kindFloat, 0, 0, n
	}
	return kindNone, 0, 0, 0
}

// compareValues orders two non-null values. Numbers of any width compare
// by value, NaN sorts after every other float.
func compareValues(a, b any) (int, error) {
	ak, ai, au, af := numeric(a)
	bk, bi, bu, bf := numeric(b)
	if ak != kindNone && bk != kindNone {
		return compareNumbers(ak, ai, au, af, bk, bi, bu, bf), nil
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !av:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func compareNumbers(ak numKind, ai int64, au uint64, af float64, bk numKind, bi int64, bu uint64, bf float64) int {
	switch {
	case ak == kindInt && bk == kindInt:
		return cmp.Compare(ai, bi)
	case ak == kindUint && bk == kindUint:
		return cmp.Compare(au, bu)
	case ak == kindInt && bk == kindUint:
		if ai < 0 {
			return -1
		}
		return cmp.Compare(uint64(ai), bu)
	case ak == kindUint && bk == kindInt:
		if bi < 0 {
			return 1
		}
		return cmp.Compare(au, uint64(bi))
	}
	return compareFloats(toFloat(ak, ai, au, af), toFloat(bk, bi, bu, bf))
}

func toFloat(k numKind, i int64, u uint64, f float64) float64 {
	switch k {
	case kindInt:
		return float64(i)
	case kindUint:
		return float64(u)
	}
	return f
}

func compareFloats(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a, b)
}
