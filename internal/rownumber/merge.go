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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rankrunner/internal/spillers"
)

// mergeBucket replays every file of bucket through a fresh store, which
// restores the limit for partitions that received rows after they were
// spilled. Each file is removed once replayed.
func (o *Operator) mergeBucket(ctx context.Context, bucket int) (*partitionStore, error) {
	ctx, span := tracer.Start(ctx, "rownumber.mergeBucket", trace.WithAttributes(
		attribute.String("operator.id", o.id),
		attribute.Int("spill.partition", bucket),
	))
	defer span.End()

	store := newPartitionStore(o.cfg.Limit, o.cmp, false)
	b := &o.writer.buckets[bucket]
	var rows int64
	for len(b.files) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := b.files[0]
		n, err := o.replayFile(store, file)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "replay failed")
			return nil, err
		}
		rows += n
		b.files = b.files[1:]
		if err := o.writer.spiller.Cleanup(file); err != nil {
			o.logger.Warn("Failed to remove replayed spill file", slog.String("path", file.Path), slog.Any("error", err))
		}
	}

	span.SetAttributes(
		attribute.Int64("spill.rows_replayed", rows),
		attribute.Int("spill.partitions_restored", len(store.heaps)),
	)
	o.logger.Debug("Merged spill partition",
		slog.Int("bucket", bucket),
		slog.Int64("rowsReplayed", rows),
		slog.Int("partitions", len(store.heaps)),
		slog.Int("rowsKept", store.residentRows()))
	return store, nil
}

func (o *Operator) replayFile(store *partitionStore, file *spillers.SpillFile) (int64, error) {
	reader, err := o.writer.spiller.Open(file)
	if err != nil {
		return 0, fmt.Errorf("open spill file: %w", err)
	}
	defer func() { _ = reader.Close() }()

	var rows int64
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read spill file %s: %w", file.Path, err)
		}
		rows++

		key, err := encodePartitionKey(o.keyBuf[:0], o.partitionCols, row)
		if err != nil {
			return rows, err
		}
		o.keyBuf = key
		if err := store.insert(string(key), row); err != nil {
			return rows, err
		}
	}
	if rows != file.RowCount {
		return rows, fmt.Errorf("spill file %s: read %d rows, wrote %d", file.Path, rows, file.RowCount)
	}
	return rows, nil
}
