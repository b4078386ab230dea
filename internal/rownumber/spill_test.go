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
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rankrunner/internal/spillers"
	"github.com/cardinalhq/rankrunner/pipeline"
)

func TestSpillWriter_RunsAndCleanup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := newSpillWriter(spillers.NewBinarySpiller(), dir, "42", 4, otelmetric.WithAttributes())

	rows := []pipeline.Row{{colS: int64(1)}, {colS: int64(2)}}
	require.NoError(t, w.spillRows(ctx, 2, rows))
	require.NoError(t, w.append(ctx, 0, pipeline.Row{colS: int64(3)}))
	require.NoError(t, w.finishRun(ctx))

	require.NoError(t, w.append(ctx, 2, pipeline.Row{colS: int64(4)}))
	require.NoError(t, w.finishRun(ctx))
	require.NoError(t, w.finishRun(ctx), "finishing an empty run is harmless")

	assert.Equal(t, []int{0, 2}, w.bucketsWithFiles())
	assert.Len(t, w.buckets[2].files, 2)
	assert.Equal(t, int64(4), w.rows)
	assert.Equal(t, int64(3), w.files)
	assert.Equal(t, int64(2), w.usedBuckets)
	assert.Positive(t, w.bytes)

	var total int64
	for _, b := range w.buckets {
		for _, f := range b.files {
			total += f.ByteCount
		}
	}
	assert.Equal(t, w.bytes, total)

	names, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, names, 3)
	pattern := regexp.MustCompile(`^rownumber-42-p[02]-[0-9A-Z]{26}-\d+\.bin$`)
	for _, name := range names {
		assert.Regexp(t, pattern, filepath.Base(name))
	}

	require.NoError(t, w.append(ctx, 1, pipeline.Row{colS: int64(5)}))
	require.NoError(t, w.cleanup())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, w.bucketsWithFiles())
}

func TestSpillWriter_CreateFailure(t *testing.T) {
	w := newSpillWriter(spillers.NewBinarySpiller(), filepath.Join(t.TempDir(), "missing"), "1", 2, otelmetric.WithAttributes())
	err := w.append(context.Background(), 1, pipeline.Row{colS: int64(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spill partition 1")
}
