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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/pipeline"
)

func TestCompareValues(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"int64 less", int64(1), int64(2), -1},
		{"mixed int widths equal", int8(5), int64(5), 0},
		{"int vs int32", int(7), int32(3), 1},
		{"uint vs negative int", uint32(1), int64(-1), 1},
		{"negative int vs uint", int16(-3), uint64(math.MaxUint64), -1},
		{"large uints", uint64(math.MaxUint64), uint64(math.MaxUint64 - 1), 1},
		{"int vs float", int64(2), 2.5, -1},
		{"float vs int equal", 3.0, int64(3), 0},
		{"float32 vs float64", float32(1.5), 1.5, 0},
		{"NaN after numbers", math.NaN(), math.Inf(1), 1},
		{"number before NaN", int64(math.MaxInt64), math.NaN(), -1},
		{"NaN equals NaN", math.NaN(), math.NaN(), 0},
		{"negative zero", math.Copysign(0, -1), 0.0, 0},
		{"strings", "apple", "banana", -1},
		{"bytes", []byte{2}, []byte{1, 9}, 1},
		{"bools", false, true, -1},
		{"bools equal", true, true, 0},
		{"times", t0.Add(time.Second), t0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compareValues(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareValues_Mismatch(t *testing.T) {
	pairs := [][2]any{
		{"1", int64(1)},
		{true, int64(1)},
		{[]byte("a"), "a"},
		{time.Now(), int64(0)},
		{struct{}{}, struct{}{}},
	}
	for _, p := range pairs {
		_, err := compareValues(p[0], p[1])
		assert.Error(t, err, "%T vs %T", p[0], p[1])
	}
}

func TestCompareRows_Nulls(t *testing.T) {
	withValue := pipeline.Row{colS: int64(1)}
	withNil := pipeline.Row{colS: nil}
	missing := pipeline.Row{}

	tests := []struct {
		order SortOrder
		want  int
	}{
		{SortOrder{}, 1},
		{SortOrder{NullsFirst: true}, -1},
		{SortOrder{Descending: true}, 1},
		{SortOrder{Descending: true, NullsFirst: true}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			keys := []SortKey{{Column: "s", Order: tt.order}}
			got, err := CompareRows(keys, withNil, withValue)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			got, err = CompareRows(keys, withValue, missing)
			require.NoError(t, err)
			assert.Equal(t, -tt.want, got)

			got, err = CompareRows(keys, withNil, missing)
			require.NoError(t, err)
			assert.Zero(t, got)
		})
	}
}

func TestCompareRows_MultipleKeys(t *testing.T) {
	keys := []SortKey{
		{Column: "s", Order: SortOrder{Descending: true}},
		{Column: "id"},
	}
	a := pipeline.Row{colS: int64(5), colID: int64(2)}
	b := pipeline.Row{colS: int64(5), colID: int64(1)}
	c := pipeline.Row{colS: int64(9), colID: int64(3)}

	got, err := CompareRows(keys, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, got, "tie on s falls through to id")

	got, err = CompareRows(keys, c, a)
	require.NoError(t, err)
	assert.Equal(t, -1, got, "descending puts the larger value first")

	got, err = CompareRows(keys, a, a)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestCompareRows_DataError(t *testing.T) {
	keys := []SortKey{{Column: "s"}}
	_, err := CompareRows(keys, pipeline.Row{colS: "x"}, pipeline.Row{colS: int64(1)})
	var derr *DataError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "s", derr.Column)
	assert.Contains(t, derr.Error(), "cannot compare string with int64")
}

func TestComparator_KeepsFirstError(t *testing.T) {
	c := newComparator([]SortKey{{Column: "s"}})
	c.compare(pipeline.Row{colS: "x"}, pipeline.Row{colS: int64(1)})
	c.compare(pipeline.Row{colS: true}, pipeline.Row{colS: int64(1)})

	err := c.takeErr()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string")
	assert.NoError(t, c.takeErr())
}
