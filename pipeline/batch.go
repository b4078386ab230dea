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
	"sync"
)

// Batch is a group of rows moved between pipeline stages as a unit.
//
// A Batch returned by a Reader is owned by that Reader until the caller is
// done with it; callers that retain rows past the next Next() call must copy
// them (see CopyRow). Batches may be returned to the pool with ReturnBatch.
type Batch struct {
	rows []Row
}

// batchPool provides memory-efficient batch reuse.
type batchPool struct {
	pool sync.Pool
	sz   int
}

func newBatchPool(batchSize int) *batchPool {
	return &batchPool{
		pool: sync.Pool{
			New: func() any {
				return &Batch{rows: make([]Row, 0, batchSize)}
			},
		},
		sz: batchSize,
	}
}

func (p *batchPool) Get() *Batch {
	b := p.pool.Get().(*Batch)
	b.rows = b.rows[:0]
	return b
}

func (p *batchPool) Put(b *Batch) {
	// Drop oversized batches to avoid unbounded growth
	if cap(b.rows) > p.sz*4 {
		return
	}
	clear(b.rows)
	b.rows = b.rows[:0]
	p.pool.Put(b)
}

// Global batch pool for memory efficiency across all readers and workers
var globalBatchPool = newBatchPool(1000)

// GetBatch returns a reusable, empty batch from the global pool.
func GetBatch() *Batch {
	return globalBatchPool.Get()
}

// ReturnBatch returns a batch to the global pool for reuse.
// The batch should not be used after calling this function.
func ReturnBatch(batch *Batch) {
	if batch != nil {
		globalBatchPool.Put(batch)
	}
}

// NewBatch builds a batch holding the given rows. The rows are not copied.
func NewBatch(rows ...Row) *Batch {
	b := GetBatch()
	b.rows = append(b.rows, rows...)
	return b
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.rows)
}

// Get returns the row at the given index.
func (b *Batch) Get(index int) Row {
	if index < 0 || index >= len(b.rows) {
		return nil
	}
	return b.rows[index]
}

// AddRow appends a new empty row and returns it for the caller to fill.
func (b *Batch) AddRow() Row {
	row := make(Row)
	b.rows = append(b.rows, row)
	return row
}

// AppendRow appends row to the batch. The batch takes ownership of it.
func (b *Batch) AppendRow(row Row) {
	b.rows = append(b.rows, row)
}

// Rows returns the rows of the batch. The slice is only valid until the
// batch is returned to the pool.
func (b *Batch) Rows() []Row {
	return b.rows
}

// CopyBatch creates a copy of a batch with every row copied.
func CopyBatch(in *Batch) *Batch {
	out := globalBatchPool.Get()
	for _, row := range in.rows {
		out.rows = append(out.rows, CopyRow(row))
	}
	return out
}
