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

// partitionHeap is a max-heap of handles: the root is the worst row kept
// for the partition, the first candidate for replacement.
type partitionHeap struct {
	handles []rowHandle
	arena   *rowArena
	cmp     *comparator
}

func (h *partitionHeap) Len() int { return len(h.handles) }

func (h *partitionHeap) Less(i, j int) bool {
	return h.cmp.compare(h.arena.get(h.handles[i]), h.arena.get(h.handles[j])) > 0
}

func (h *partitionHeap) Swap(i, j int) {
	h.handles[i], h.handles[j] = h.handles[j], h.handles[i]
}

func (h *partitionHeap) Push(x any) {
	h.handles = append(h.handles, x.(rowHandle))
}

func (h *partitionHeap) Pop() any {
	n := len(h.handles)
	x := h.handles[n-1]
	h.handles = h.handles[:n-1]
	return x
}

func (h *partitionHeap) root() rowHandle {
	return h.handles[0]
}
