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
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rankrunner/internal/idgen"
	"github.com/cardinalhq/rankrunner/internal/spillers"
	"github.com/cardinalhq/rankrunner/pipeline"
)

type bucketFiles struct {
	files  []*spillers.SpillFile
	writer spillers.Writer
	used   bool
}

// spillWriter appends rows of spilled partitions to per-bucket files. A
// bucket accumulates one file per spill run.
type spillWriter struct {
	spiller    spillers.Spiller
	dir        string
	operatorID string
	buckets    []bucketFiles
	metricOpts otelmetric.AddOption

	bytes       int64
	rows        int64
	files       int64
	usedBuckets int64
}

func newSpillWriter(spiller spillers.Spiller, dir, operatorID string, numBuckets int, metricOpts otelmetric.AddOption) *spillWriter {
	return &spillWriter{
		spiller:    spiller,
		dir:        dir,
		operatorID: operatorID,
		buckets:    make([]bucketFiles, numBuckets),
		metricOpts: metricOpts,
	}
}

// append writes row to bucket, opening a new file for the bucket if the
// current run has none yet.
func (w *spillWriter) append(ctx context.Context, bucket int, row pipeline.Row) error {
	b := &w.buckets[bucket]
	if b.writer == nil {
		prefix := fmt.Sprintf("rownumber-%s-p%d-%s", w.operatorID, bucket, idgen.NewSpillID())
		writer, err := w.spiller.Create(w.dir, prefix)
		if err != nil {
			return fmt.Errorf("spill partition %d: %w", bucket, err)
		}
		b.writer = writer
		if !b.used {
			b.used = true
			w.usedBuckets++
			spilledPartitionsCounter.Add(ctx, 1, w.metricOpts)
		}
	}

	n, err := b.writer.Append(row)
	if err != nil {
		return fmt.Errorf("spill partition %d: %w", bucket, err)
	}
	w.bytes += n
	w.rows++
	return nil
}

// spillRows appends rows, already sorted best-first, to bucket.
func (w *spillWriter) spillRows(ctx context.Context, bucket int, rows []pipeline.Row) error {
	for _, row := range rows {
		if err := w.append(ctx, bucket, row); err != nil {
			return err
		}
	}
	return nil
}

// finishRun closes every open file so the next run starts new ones.
func (w *spillWriter) finishRun(ctx context.Context) error {
	var result *multierror.Error
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.writer == nil {
			continue
		}
		file, err := b.writer.Close()
		b.writer = nil
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("close spill partition %d: %w", i, err))
			continue
		}
		b.files = append(b.files, file)
		w.files++
		spilledFilesCounter.Add(ctx, 1, w.metricOpts)
		spilledRowsCounter.Add(ctx, file.RowCount, w.metricOpts)
		spilledBytesCounter.Add(ctx, file.ByteCount, w.metricOpts)
	}
	return result.ErrorOrNil()
}

// hasOpenFiles reports whether the current run has written anything yet.
func (w *spillWriter) hasOpenFiles() bool {
	for i := range w.buckets {
		if w.buckets[i].writer != nil {
			return true
		}
	}
	return false
}

// bucketsWithFiles lists the buckets that hold closed files.
func (w *spillWriter) bucketsWithFiles() []int {
	var out []int
	for i := range w.buckets {
		if len(w.buckets[i].files) > 0 {
			out = append(out, i)
		}
	}
	return out
}

// cleanup aborts open files and removes every file not yet replayed.
func (w *spillWriter) cleanup() error {
	var result *multierror.Error
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.writer != nil {
			if err := b.writer.Abort(); err != nil {
				result = multierror.Append(result, err)
			}
			b.writer = nil
		}
		for _, file := range b.files {
			if err := w.spiller.Cleanup(file); err != nil {
				result = multierror.Append(result, err)
			}
		}
		b.files = nil
	}
	return result.ErrorOrNil()
}
