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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/rankrunner/config"
	"github.com/cardinalhq/rankrunner/internal/debugging"
	"github.com/cardinalhq/rankrunner/internal/diskbudget"
	"github.com/cardinalhq/rankrunner/internal/filereader"
	"github.com/cardinalhq/rankrunner/internal/logctx"
	"github.com/cardinalhq/rankrunner/internal/rownumber"
	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

type rankOptions struct {
	input       string
	format      string
	output      string
	partitionBy []string
	orderBy     []string
	limit       int
	rowNumber   bool
	parallelism int
}

func init() {
	opts := rankOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "rank",
		Short:   "Keep the top N rows of every partition",
		Example: `  rankrunner rank --input rows.jsonl --partition-by p --order-by "s desc nulls first" --limit 10 --row-number`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("rankrunner", os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(ctx)

			cfg, err := config.LoadFrom(v)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := io.Writer(os.Stdout)
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			ctx = logctx.With(ctx, slog.String("input", opts.input))
			return runRank(ctx, opts, cfg, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", "-", "Input file, or - for stdin")
	flags.StringVar(&opts.format, "format", "", "Input format: jsonl or csv (default from the file extension)")
	flags.StringVar(&opts.output, "output", "-", "Output file for JSON lines, or - for stdout")
	flags.StringSliceVar(&opts.partitionBy, "partition-by", nil, "Partition columns")
	flags.StringArrayVar(&opts.orderBy, "order-by", nil, "Sort key as \"column [asc|desc] [nulls first|nulls last]\", repeatable")
	flags.IntVar(&opts.limit, "limit", 1, "Rows kept per partition")
	flags.BoolVar(&opts.rowNumber, "row-number", false, "Add the rank to every output row")
	flags.IntVar(&opts.parallelism, "parallelism", 1, "Number of operators, rows are sharded by partition")

	flags.String("row-number-column", rownumber.DefaultRowNumberColumn, "Name of the rank column")
	flags.String("spill-dir", "", "Directory for spill files (default the temp dir)")
	flags.Bool("spill", true, "Allow spilling to disk")
	flags.Int64("max-memory", 0, "Resident bytes per operator before spilling, 0 for no limit")
	flags.String("spill-codec", "binary", "Spill encoding: binary, cbor or gob")
	flags.String("spill-policy", string(rownumber.SpillAll), "Partitions to spill: all or largest")
	flags.Int("spill-partitions", rownumber.DefaultNumSpillPartitions, "Number of spill buckets per operator")
	flags.Float64("max-disk-utilization", diskbudget.DefaultHighWatermark, "Refuse to spill above this spill filesystem utilization, 0 to disable")
	flags.Int("batch-size", filereader.DefaultBatchSize, "Rows per input batch")

	for key, flag := range map[string]string{
		"output.row_number_column":   "row-number-column",
		"spill.directory":            "spill-dir",
		"spill.enabled":              "spill",
		"spill.max_memory_bytes":     "max-memory",
		"spill.codec":                "spill-codec",
		"spill.policy":               "spill-policy",
		"spill.partitions":           "spill-partitions",
		"spill.max_disk_utilization": "max-disk-utilization",
		"input.batch_size":           "batch-size",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Errorf("bind flag %s: %w", flag, err))
		}
	}

	rootCmd.AddCommand(cmd)
}

func (o rankOptions) operatorConfig(rowNumberColumn string) (rownumber.Config, error) {
	keys := make([]rownumber.SortKey, 0, len(o.orderBy))
	for _, s := range o.orderBy {
		key, err := rownumber.ParseSortKey(s)
		if err != nil {
			return rownumber.Config{}, err
		}
		keys = append(keys, key)
	}
	cfg := rownumber.Config{
		PartitionKeys:     o.partitionBy,
		SortKeys:          keys,
		Limit:             o.limit,
		GenerateRowNumber: o.rowNumber,
		RowNumberColumn:   rowNumberColumn,
	}
	return cfg, cfg.Validate()
}

// runRank reads the input, shards it by partition across operators and
// writes every operator's output to out as JSON lines.
func runRank(ctx context.Context, opts rankOptions, cfg *config.Config, out io.Writer) error {
	start := time.Now()
	opCfg, err := opts.operatorConfig(cfg.Output.RowNumberColumn)
	if err != nil {
		return err
	}

	spillCfg := cfg.Spill.Operator()
	if spillCfg.Directory == "" {
		spillCfg.Directory = os.TempDir()
	}
	if spillCfg.Enabled {
		if err := os.MkdirAll(spillCfg.Directory, 0o755); err != nil {
			return fmt.Errorf("create spill directory: %w", err)
		}
	}

	guard := diskbudget.NewGuard(cfg.Spill.MaxDiskUtilization, cfg.Spill.MinFreeBytes, nil)
	shards := max(opts.parallelism, 1)
	ops := make([]*rownumber.Operator, shards)
	for i := range ops {
		op, err := rownumber.NewOperator(opCfg,
			rownumber.WithSpillConfig(spillCfg),
			rownumber.WithPreferredBatchBytes(cfg.Output.PreferredBatchBytes),
			rownumber.WithDiskCheck(guard.Check),
			rownumber.WithLogger(logctx.FromContext(ctx).With(slog.Int("shard", i))),
			rownumber.WithMeterAttributes(append(commonAttributes.ToSlice(), attribute.Int("shard", i))...),
		)
		if err != nil {
			for _, prev := range ops[:i] {
				_ = prev.Close()
			}
			return err
		}
		ops[i] = op
	}
	defer func() {
		for _, op := range ops {
			if err := op.Close(); err != nil {
				logctx.FromContext(ctx).Warn("Failed to close operator", slog.String("operatorID", op.ID()), slog.Any("error", err))
			}
		}
	}()

	reader, err := filereader.Open(opts.input, opts.format, cfg.Input.BatchSize)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	sink := &jsonLinesSink{w: bufio.NewWriterSize(out, 256*1024)}
	g, gctx := errgroup.WithContext(ctx)

	inputs := make([]chan *pipeline.Batch, shards)
	for i := range inputs {
		inputs[i] = make(chan *pipeline.Batch, 4)
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range inputs {
				close(ch)
			}
		}()
		return shardInput(gctx, reader, wkk.NewRowKeys(opCfg.PartitionKeys...), inputs)
	})

	for i, op := range ops {
		in := inputs[i]
		g.Go(func() error {
			return driveOperator(gctx, op, in, sink)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := sink.flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	var total rownumber.Stats
	for _, op := range ops {
		s := op.Stats()
		total.InputRows += s.InputRows
		total.OutputRows += s.OutputRows
		total.SpilledRows += s.SpilledRows
		total.SpilledBytes += s.SpilledBytes
		total.SpilledFiles += s.SpilledFiles
		total.SpillRuns += s.SpillRuns
		total.Partitions += s.Partitions
		total.PeakMemoryBytes = max(total.PeakMemoryBytes, s.PeakMemoryBytes)
	}
	logctx.FromContext(ctx).Info("Rank complete",
		slog.Int("shards", shards),
		slog.Int64("inputRows", total.InputRows),
		slog.Int64("outputRows", total.OutputRows),
		slog.Uint64("partitions", total.Partitions),
		slog.Int64("spillRuns", total.SpillRuns),
		slog.Int64("spilledRows", total.SpilledRows),
		slog.Int64("spilledBytes", total.SpilledBytes),
		slog.Int64("spilledFiles", total.SpilledFiles),
		slog.Int64("peakMemoryBytes", total.PeakMemoryBytes),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// shardInput routes every row to the operator owning its partition.
func shardInput(ctx context.Context, reader filereader.Reader, cols []wkk.RowKey, inputs []chan *pipeline.Batch) error {
	for {
		batch, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		parts := []*pipeline.Batch{batch}
		if len(inputs) > 1 {
			parts = make([]*pipeline.Batch, len(inputs))
			for i := 0; i < batch.Len(); i++ {
				row := batch.Get(i)
				shard, err := rownumber.PartitionShard(cols, row, len(inputs))
				if err != nil {
					return err
				}
				if parts[shard] == nil {
					parts[shard] = pipeline.GetBatch()
				}
				parts[shard].AppendRow(row)
			}
		}

		for i, part := range parts {
			if part == nil {
				continue
			}
			select {
			case inputs[i] <- part:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func driveOperator(ctx context.Context, op *rownumber.Operator, in <-chan *pipeline.Batch, sink *jsonLinesSink) error {
	for batch := range in {
		err := op.AddInput(ctx, batch)
		pipeline.ReturnBatch(batch)
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := op.NoMoreInput(ctx); err != nil {
		return err
	}
	for {
		batch, err := op.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = sink.write(batch)
		pipeline.ReturnBatch(batch)
		if err != nil {
			return err
		}
	}
}

// jsonLinesSink serializes rows from several operators onto one writer.
type jsonLinesSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (s *jsonLinesSink) write(batch *pipeline.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range batch.Rows() {
		b, err := row.MarshalJSON()
		if err != nil {
			return err
		}
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func (s *jsonLinesSink) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
