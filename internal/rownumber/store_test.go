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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/pipeline"
)

func sValues(rows []pipeline.Row) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i] = row[colS].(int64)
	}
	return out
}

func TestPartitionStore_KeepsBestRows(t *testing.T) {
	store := newPartitionStore(3, newComparator([]SortKey{{Column: "s"}}), true)
	for _, s := range []int64{50, 10, 40, 30, 20, 60, 5} {
		require.NoError(t, store.insert("k", pipeline.Row{colS: s}))
		assert.LessOrEqual(t, store.size("k"), 3)
	}

	assert.Equal(t, []string{"k"}, store.partitions())
	assert.Equal(t, 3, store.residentRows())
	assert.Equal(t, []int64{5, 10, 20}, sValues(store.drain("k")))
	assert.Zero(t, store.residentRows())
	assert.Zero(t, store.memoryBytes())
	assert.Empty(t, store.partitions())
	assert.Nil(t, store.drain("k"))
}

func TestPartitionStore_TiesDoNotReplace(t *testing.T) {
	store := newPartitionStore(1, newComparator([]SortKey{{Column: "s"}}), true)
	require.NoError(t, store.insert("", pipeline.Row{colS: int64(1), colID: int64(1)}))
	require.NoError(t, store.insert("", pipeline.Row{colS: int64(1), colID: int64(2)}))

	rows := store.drain("")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][colID])
}

func TestPartitionStore_CopiesRetainedRows(t *testing.T) {
	row := pipeline.Row{colS: int64(1)}
	copying := newPartitionStore(2, newComparator([]SortKey{{Column: "s"}}), true)
	require.NoError(t, copying.insert("", row))
	row[colS] = int64(2)
	assert.Equal(t, int64(1), copying.drain("")[0][colS])

	owning := newPartitionStore(2, newComparator([]SortKey{{Column: "s"}}), false)
	require.NoError(t, owning.insert("", row))
	assert.Equal(t, int64(2), owning.drain("")[0][colS])
}

func TestPartitionStore_MemoryAccounting(t *testing.T) {
	store := newPartitionStore(2, newComparator([]SortKey{{Column: "s"}}), true)
	small := pipeline.Row{colS: int64(9), colP: "x"}
	big := pipeline.Row{colS: int64(1), colP: "a much longer string value than before"}

	require.NoError(t, store.insert("a", small))
	require.NoError(t, store.insert("b", small))
	assert.Equal(t, 2*small.EstimatedBytes(), store.memoryBytes())

	require.NoError(t, store.insert("a", small))
	require.NoError(t, store.insert("a", big))
	assert.Equal(t, 2*small.EstimatedBytes()+big.EstimatedBytes(), store.memoryBytes())

	store.drain("a")
	assert.Equal(t, small.EstimatedBytes(), store.memoryBytes())

	store.reset()
	assert.Zero(t, store.memoryBytes())
	assert.Empty(t, store.partitions())
}

func TestPartitionStore_LargestPartitions(t *testing.T) {
	store := newPartitionStore(10, newComparator([]SortKey{{Column: "s"}}), true)
	sizes := map[string]int{"a": 1, "b": 4, "c": 2}
	for key, n := range sizes {
		for i := range n {
			require.NoError(t, store.insert(key, pipeline.Row{colS: int64(i)}))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, store.partitions())
	assert.Equal(t, []string{"b", "c", "a"}, store.largestPartitions())
}

func TestPartitionStore_ComparisonError(t *testing.T) {
	store := newPartitionStore(1, newComparator([]SortKey{{Column: "s"}}), true)
	require.NoError(t, store.insert("", pipeline.Row{colS: int64(1)}))
	err := store.insert("", pipeline.Row{colS: "one"})
	var derr *DataError
	assert.ErrorAs(t, err, &derr)
}

func TestRowArena_ReusesSlots(t *testing.T) {
	var a rowArena
	h1 := a.put(pipeline.Row{colS: int64(1)})
	h2 := a.put(pipeline.Row{colS: int64(2)})
	assert.NotEqual(t, h1, h2)

	a.release(h1)
	h3 := a.put(pipeline.Row{colS: int64(3)})
	assert.Equal(t, h1, h3)
	assert.Equal(t, int64(3), a.get(h3)[colS])
	assert.Equal(t, 2, a.live)
	assert.Len(t, a.rows, 2)
}
