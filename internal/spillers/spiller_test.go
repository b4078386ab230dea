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

package spillers

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

func allSpillers(t *testing.T) []Spiller {
	t.Helper()
	var out []Spiller
	for _, name := range []string{CodecBinary, CodecCBOR, CodecGob} {
		s, err := New(name)
		require.NoError(t, err)
		require.Equal(t, name, s.Name())
		out = append(out, s)
	}
	return out
}

func readAll(t *testing.T, s Spiller, f *SpillFile) []pipeline.Row {
	t.Helper()
	reader, err := s.Open(f)
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()

	var rows []pipeline.Row
	for {
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestSpillers_AppendAndReadBackInOrder(t *testing.T) {
	id := wkk.NewRowKey("id")
	name := wkk.NewRowKey("name")
	score := wkk.NewRowKey("score")
	missing := wkk.NewRowKey("missing")

	input := []pipeline.Row{
		{id: int64(3), name: "charlie", score: 92.1, missing: nil},
		{id: int64(1), name: "alice", score: 95.5, missing: nil},
		{id: int64(2), name: "bob", score: 87.2, missing: nil},
	}

	for _, s := range allSpillers(t) {
		t.Run(s.Name(), func(t *testing.T) {
			dir := t.TempDir()
			w, err := s.Create(dir, "test")
			require.NoError(t, err)

			var total int64
			for _, row := range input {
				n, err := w.Append(row)
				require.NoError(t, err)
				assert.Positive(t, n)
				total += n
			}

			f, err := w.Close()
			require.NoError(t, err)
			assert.Equal(t, int64(3), f.RowCount)
			assert.Equal(t, total, f.ByteCount)

			info, err := os.Stat(f.Path)
			require.NoError(t, err)
			assert.Equal(t, total, info.Size())

			rows := readAll(t, s, f)
			require.Equal(t, input, rows, "rows come back in write order")

			require.NoError(t, s.Cleanup(f))
			_, err = os.Stat(f.Path)
			assert.True(t, os.IsNotExist(err))
			require.NoError(t, s.Cleanup(f), "cleanup is idempotent")
		})
	}
}

func TestSpillers_EmptyFile(t *testing.T) {
	for _, s := range allSpillers(t) {
		t.Run(s.Name(), func(t *testing.T) {
			w, err := s.Create(t.TempDir(), "empty")
			require.NoError(t, err)
			f, err := w.Close()
			require.NoError(t, err)
			assert.Zero(t, f.RowCount)
			assert.Empty(t, readAll(t, s, f))
			require.NoError(t, s.Cleanup(f))
		})
	}
}

func TestSpillers_AbortRemovesFile(t *testing.T) {
	for _, s := range allSpillers(t) {
		t.Run(s.Name(), func(t *testing.T) {
			dir := t.TempDir()
			w, err := s.Create(dir, "abort")
			require.NoError(t, err)
			_, err = w.Append(pipeline.Row{wkk.NewRowKey("x"): int64(1)})
			require.NoError(t, err)
			require.NoError(t, w.Abort())

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSpillers_CreateInMissingDirectory(t *testing.T) {
	for _, s := range allSpillers(t) {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Create("/nonexistent/spill/dir", "x")
			assert.Error(t, err)
		})
	}
}

func TestNewUnknownCodec(t *testing.T) {
	_, err := New("parquet")
	assert.ErrorContains(t, err, "unknown spill codec")

	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, CodecBinary, s.Name())
}
