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

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/config"
	"github.com/cardinalhq/rankrunner/internal/rownumber"
)

func writeRankInput(t *testing.T, rows int, partitions int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	var b strings.Builder
	for i := range rows {
		fmt.Fprintf(&b, "{\"p\":%d,\"s\":%d,\"v\":\"row-%d\"}\n", i%partitions, (i*7919)%rows, i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func readRankOutput(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var rows []map[string]any
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		rows = append(rows, m)
	}
	require.NoError(t, sc.Err())
	return rows
}

func testRankConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Spill.Directory = t.TempDir()
	cfg.Spill.MaxDiskUtilization = 0
	cfg.Spill.MinFreeBytes = 0
	return cfg
}

func TestRunRank(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			opts := rankOptions{
				input:       writeRankInput(t, 1000, 10),
				partitionBy: []string{"p"},
				orderBy:     []string{"s desc"},
				limit:       3,
				rowNumber:   true,
				parallelism: parallelism,
			}
			var out bytes.Buffer
			require.NoError(t, runRank(context.Background(), opts, testRankConfig(t), &out))

			rows := readRankOutput(t, &out)
			require.Len(t, rows, 30)

			byPartition := map[float64][]map[string]any{}
			for _, r := range rows {
				p := r["p"].(float64)
				byPartition[p] = append(byPartition[p], r)
			}
			require.Len(t, byPartition, 10)
			for p, group := range byPartition {
				sort.Slice(group, func(i, j int) bool {
					return group[i][rownumber.DefaultRowNumberColumn].(float64) < group[j][rownumber.DefaultRowNumberColumn].(float64)
				})
				for i, r := range group {
					assert.Equal(t, float64(i+1), r[rownumber.DefaultRowNumberColumn], "partition %v", p)
					if i > 0 {
						assert.GreaterOrEqual(t, group[i-1]["s"].(float64), r["s"].(float64), "partition %v", p)
					}
				}
			}
		})
	}
}

func TestRunRankForcedSpill(t *testing.T) {
	cfg := testRankConfig(t)
	cfg.Spill.TestingSpillPct = 100
	cfg.Input.BatchSize = 50

	opts := rankOptions{
		input:       writeRankInput(t, 2000, 40),
		partitionBy: []string{"p"},
		orderBy:     []string{"s"},
		limit:       2,
		parallelism: 2,
	}
	var out bytes.Buffer
	require.NoError(t, runRank(context.Background(), opts, cfg, &out))

	rows := readRankOutput(t, &out)
	assert.Len(t, rows, 80)
	for _, r := range rows {
		assert.NotContains(t, r, rownumber.DefaultRowNumberColumn)
	}

	leftovers, err := os.ReadDir(cfg.Spill.Directory)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunRankInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opts rankOptions
		want string
	}{
		{
			name: "no sort keys",
			opts: rankOptions{partitionBy: []string{"p"}, limit: 1},
			want: "Number of sorting keys must be greater than zero",
		},
		{
			name: "zero limit",
			opts: rankOptions{orderBy: []string{"s"}, limit: 0},
			want: "Limit must be greater than zero",
		},
		{
			name: "overlapping keys",
			opts: rankOptions{partitionBy: []string{"p"}, orderBy: []string{"p"}, limit: 1},
			want: "Found duplicate key: p",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.input = writeRankInput(t, 10, 2)
			err := runRank(context.Background(), tt.opts, testRankConfig(t), &bytes.Buffer{})
			require.Error(t, err)
			assert.ErrorIs(t, err, rownumber.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunRankBadSortKey(t *testing.T) {
	opts := rankOptions{orderBy: []string{"s sideways"}, limit: 1}
	err := runRank(context.Background(), opts, testRankConfig(t), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunRankMissingInput(t *testing.T) {
	opts := rankOptions{
		input:   filepath.Join(t.TempDir(), "missing.jsonl"),
		orderBy: []string{"s"},
		limit:   1,
	}
	err := runRank(context.Background(), opts, testRankConfig(t), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open input")
}

func TestRunRankCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := rankOptions{
		input:       writeRankInput(t, 5000, 10),
		orderBy:     []string{"s"},
		limit:       1,
		parallelism: 2,
	}
	err := runRank(ctx, opts, testRankConfig(t), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
