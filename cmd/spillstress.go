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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/rankrunner/internal/rownumber"
	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

type spillStressOptions struct {
	iterations int
	rows       int
	partitions int
	limit      int
	spillPct   int
	codec      string
	dir        string
}

func init() {
	opts := spillStressOptions{}
	cmd := &cobra.Command{
		Use:   "spillstress",
		Short: "Run the operator against random rows with forced spills",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("rankrunner-spillstress", os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()
			return spillStress(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.iterations, "iterations", 10, "Number of runs")
	flags.IntVar(&opts.rows, "rows", 100_000, "Rows per run")
	flags.IntVar(&opts.partitions, "partitions", 1000, "Distinct partition values")
	flags.IntVar(&opts.limit, "limit", 5, "Rows kept per partition")
	flags.IntVar(&opts.spillPct, "spill-pct", 5, "Percent chance of a spill after each batch")
	flags.StringVar(&opts.codec, "codec", "binary", "Spill encoding: binary, cbor or gob")
	flags.StringVar(&opts.dir, "dir", "", "Spill directory (default the temp dir)")

	rootCmd.AddCommand(cmd)
}

func spillStress(ctx context.Context, opts spillStressOptions) error {
	dir := opts.dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create spill directory: %w", err)
	}

	for loop := range opts.iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		stats, err := spillStressRun(ctx, opts, dir, uint64(loop))
		if err != nil {
			return fmt.Errorf("iteration %d: %w", loop+1, err)
		}
		slog.Info("Iteration complete",
			slog.Int("iteration", loop+1),
			slog.Int64("outputRows", stats.OutputRows),
			slog.Int64("spillRuns", stats.SpillRuns),
			slog.Int64("spilledFiles", stats.SpilledFiles),
			slog.Int64("spilledBytes", stats.SpilledBytes),
			slog.Duration("elapsed", time.Since(start)))

		leftovers, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range leftovers {
			if strings.HasPrefix(e.Name(), "rownumber-") {
				return fmt.Errorf("iteration %d left spill file %s behind", loop+1, e.Name())
			}
		}
	}
	return nil
}

func spillStressRun(ctx context.Context, opts spillStressOptions, dir string, seed uint64) (rownumber.Stats, error) {
	p := wkk.NewRowKey("p")
	s := wkk.NewRowKey("s")
	op, err := rownumber.NewOperator(rownumber.Config{
		PartitionKeys:     []string{"p"},
		SortKeys:          []rownumber.SortKey{{Column: "s"}},
		Limit:             opts.limit,
		GenerateRowNumber: true,
	}, rownumber.WithSpillConfig(rownumber.SpillConfig{
		Enabled:         true,
		Directory:       dir,
		TestingSpillPct: opts.spillPct,
		Codec:           opts.codec,
	}))
	if err != nil {
		return rownumber.Stats{}, err
	}
	defer func() { _ = op.Close() }()

	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	batch := pipeline.GetBatch()
	for i := range opts.rows {
		batch.AppendRow(pipeline.Row{
			p: int64(rng.IntN(max(opts.partitions, 1))),
			s: rng.Int64N(1_000_000),
		})
		if batch.Len() == 1000 || i == opts.rows-1 {
			if err := op.AddInput(ctx, batch); err != nil {
				return rownumber.Stats{}, err
			}
			pipeline.ReturnBatch(batch)
			batch = pipeline.GetBatch()
		}
	}
	pipeline.ReturnBatch(batch)

	if err := op.NoMoreInput(ctx); err != nil {
		return rownumber.Stats{}, err
	}

	counts := make(map[int64]int64)
	for {
		out, err := op.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rownumber.Stats{}, err
		}
		for _, row := range out.Rows() {
			pv := row[p].(int64)
			counts[pv]++
			rn, _ := row.GetInt64(wkk.NewRowKey(rownumber.DefaultRowNumberColumn))
			if rn != counts[pv] {
				return rownumber.Stats{}, fmt.Errorf("partition %d: row number %d, want %d", pv, rn, counts[pv])
			}
		}
		pipeline.ReturnBatch(out)
	}
	for pv, n := range counts {
		if n > int64(opts.limit) {
			return rownumber.Stats{}, fmt.Errorf("partition %d produced %d rows, limit %d", pv, n, opts.limit)
		}
	}
	return op.Stats(), nil
}
