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
	"github.com/cardinalhq/rankrunner/pipeline"
)

// rowHandle indexes a slot in a rowArena.
type rowHandle int32

// rowArena owns every resident row. Heaps refer to rows by handle so that
// releasing a partition is a bulk slot release rather than a pointer walk.
type rowArena struct {
	rows  []pipeline.Row
	sizes []int64
	free  []rowHandle
	bytes int64
	live  int
}

func (a *rowArena) put(row pipeline.Row) rowHandle {
	size := row.EstimatedBytes()
	a.bytes += size
	a.live++
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.rows[h] = row
		a.sizes[h] = size
		return h
	}
	a.rows = append(a.rows, row)
	a.sizes = append(a.sizes, size)
	return rowHandle(len(a.rows) - 1)
}

func (a *rowArena) get(h rowHandle) pipeline.Row {
	return a.rows[h]
}

// replace swaps the row held in h and adjusts the byte accounting.
func (a *rowArena) replace(h rowHandle, row pipeline.Row) {
	size := row.EstimatedBytes()
	a.bytes += size - a.sizes[h]
	a.rows[h] = row
	a.sizes[h] = size
}

// release frees h and returns the row it held.
func (a *rowArena) release(h rowHandle) pipeline.Row {
	row := a.rows[h]
	a.bytes -= a.sizes[h]
	a.live--
	a.rows[h] = nil
	a.sizes[h] = 0
	a.free = append(a.free, h)
	return row
}

// reset drops every row.
func (a *rowArena) reset() {
	clear(a.rows)
	a.rows = a.rows[:0]
	a.sizes = a.sizes[:0]
	a.free = a.free[:0]
	a.bytes = 0
	a.live = 0
}
