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
	"container/heap"
	"slices"

	"github.com/cardinalhq/rankrunner/pipeline"
)

// partitionStore keeps at most limit rows for every resident partition.
type partitionStore struct {
	limit int
	cmp   *comparator
	arena *rowArena
	heaps map[string]*partitionHeap
	// copyRows makes insert copy rows it retains. Rows decoded from spill
	// files are already owned and skip the copy.
	copyRows bool
}

func newPartitionStore(limit int, cmp *comparator, copyRows bool) *partitionStore {
	return &partitionStore{
		limit:    limit,
		cmp:      cmp,
		arena:    &rowArena{},
		heaps:    make(map[string]*partitionHeap),
		copyRows: copyRows,
	}
}

// insert offers row to the partition named by key. While the partition
// holds fewer than limit rows the row is kept; after that it replaces the
// worst kept row only if it ranks strictly better.
func (s *partitionStore) insert(key string, row pipeline.Row) error {
	h, ok := s.heaps[key]
	if !ok {
		h = &partitionHeap{
			handles: make([]rowHandle, 0, min(s.limit, 16)),
			arena:   s.arena,
			cmp:     s.cmp,
		}
		s.heaps[key] = h
	}

	if h.Len() < s.limit {
		heap.Push(h, s.arena.put(s.own(row)))
		return s.cmp.takeErr()
	}

	root := h.root()
	if s.cmp.compare(row, s.arena.get(root)) < 0 {
		s.arena.replace(root, s.own(row))
		heap.Fix(h, 0)
	}
	return s.cmp.takeErr()
}

func (s *partitionStore) own(row pipeline.Row) pipeline.Row {
	if s.copyRows {
		return pipeline.CopyRow(row)
	}
	return row
}

// drain removes a partition and returns its rows best-first.
func (s *partitionStore) drain(key string) []pipeline.Row {
	h, ok := s.heaps[key]
	if !ok {
		return nil
	}
	delete(s.heaps, key)

	rows := make([]pipeline.Row, h.Len())
	for i := len(rows) - 1; i >= 0; i-- {
		rows[i] = s.arena.release(heap.Pop(h).(rowHandle))
	}
	return rows
}

// partitions returns the resident partition keys in a stable order.
func (s *partitionStore) partitions() []string {
	keys := make([]string, 0, len(s.heaps))
	for key := range s.heaps {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// largestPartitions returns the resident partition keys, most rows first.
func (s *partitionStore) largestPartitions() []string {
	keys := s.partitions()
	slices.SortStableFunc(keys, func(a, b string) int {
		return s.heaps[b].Len() - s.heaps[a].Len()
	})
	return keys
}

func (s *partitionStore) size(key string) int {
	if h, ok := s.heaps[key]; ok {
		return h.Len()
	}
	return 0
}

func (s *partitionStore) memoryBytes() int64 { return s.arena.bytes }

func (s *partitionStore) residentRows() int { return s.arena.live }

func (s *partitionStore) reset() {
	clear(s.heaps)
	s.arena.reset()
}
