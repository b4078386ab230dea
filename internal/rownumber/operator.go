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

// Package rownumber implements a blocking operator that keeps the first
// Limit rows of every partition, ordered by a list of sort keys, and
// optionally numbers them. Resident partitions can be spilled to disk when
// memory runs short; results are identical either way.
package rownumber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/axiomhq/hyperloglog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rankrunner/internal/idgen"
	"github.com/cardinalhq/rankrunner/internal/spillers"
	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

// DefaultPreferredBatchBytes is the output batch size used when none is set.
const DefaultPreferredBatchBytes int64 = 1 << 20

// testingSpillSeed seeds the generator behind SpillConfig.TestingSpillPct.
const testingSpillSeed = 0x5eed

// State is the operator's lifecycle phase.
type State int

const (
	StateAccumulating State = iota
	StateSpilling
	StateFinalizing
	StateProducing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateSpilling:
		return "spilling"
	case StateFinalizing:
		return "finalizing"
	case StateProducing:
		return "producing"
	case StateFinished:
		return "finished"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Option configures an Operator.
type Option func(*Operator)

func WithSpillConfig(cfg SpillConfig) Option {
	return func(o *Operator) { o.spillCfg = cfg }
}

func WithSpillSignal(signal SpillSignal) Option {
	return func(o *Operator) { o.signal = signal }
}

// WithPreferredBatchBytes sets the estimated size at which an output batch
// is considered full. Every batch holds at least one row.
func WithPreferredBatchBytes(n int64) Option {
	return func(o *Operator) { o.batchBytes = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Operator) { o.logger = logger }
}

// WithSpiller overrides the spiller chosen by SpillConfig.Codec.
func WithSpiller(spiller spillers.Spiller) Option {
	return func(o *Operator) { o.spiller = spiller }
}

// WithDiskCheck runs check against the spill directory before every spill
// run. A non-nil error fails the spill.
func WithDiskCheck(check func(dir string) error) Option {
	return func(o *Operator) { o.diskCheck = check }
}

// WithMeterAttributes adds attributes to every metric the operator records.
func WithMeterAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *Operator) { o.meterAttrs = append(o.meterAttrs, attrs...) }
}

// Operator computes the bounded Top-N per partition. It is driven by a
// single goroutine: AddInput until the input ends, NoMoreInput, then Next
// until io.EOF.
type Operator struct {
	cfg        Config
	spillCfg   SpillConfig
	signal     SpillSignal
	batchBytes int64
	logger     *slog.Logger
	spiller    spillers.Spiller
	meterAttrs []attribute.KeyValue
	diskCheck  func(dir string) error

	id            string
	partitionCols []wkk.RowKey
	rowNumberCol  wkk.RowKey
	cmp           *comparator
	store         *partitionStore
	// spilled maps a partition key to its bucket once the partition has
	// been written to disk. Later rows for it bypass the store.
	spilled map[string]int
	writer  *spillWriter
	rng     *rand.Rand
	keyBuf  []byte

	state    State
	stats    Stats
	sketch   *hyperloglog.Sketch
	finished bool

	// producing
	active         *partitionStore
	pending        []string
	pendingBuckets []int
	current        []pipeline.Row
	currentIdx     int
}

// NewOperator validates cfg and the options and returns an operator in the
// accumulating state.
func NewOperator(cfg Config, opts ...Option) (*Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Operator{
		cfg:        cfg,
		batchBytes: DefaultPreferredBatchBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.spillCfg.Validate(); err != nil {
		return nil, err
	}
	o.spillCfg = o.spillCfg.withDefaults()
	if o.batchBytes <= 0 {
		o.batchBytes = DefaultPreferredBatchBytes
	}
	if o.spiller == nil {
		spiller, err := spillers.New(o.spillCfg.Codec)
		if err != nil {
			return nil, err
		}
		o.spiller = spiller
	}

	o.id = strconv.FormatInt(idgen.NextOperatorID(), 10)
	o.logger = o.logger.With(slog.String("operatorID", o.id))
	o.partitionCols = wkk.NewRowKeys(cfg.PartitionKeys...)
	o.rowNumberCol = wkk.NewRowKey(cfg.rowNumberColumn())
	o.cmp = newComparator(cfg.SortKeys)
	o.store = newPartitionStore(cfg.Limit, o.cmp, true)
	o.spilled = make(map[string]int)
	o.rng = rand.New(rand.NewPCG(testingSpillSeed, testingSpillSeed))
	o.sketch = hyperloglog.New()
	o.state = StateAccumulating
	return o, nil
}

// ID identifies the operator in logs and spill file names.
func (o *Operator) ID() string { return o.id }

func (o *Operator) State() State { return o.state }

// Stats returns a snapshot of the operator's counters.
func (o *Operator) Stats() Stats {
	s := o.stats
	s.Partitions = o.sketch.Estimate()
	if o.writer != nil {
		s.SpilledBytes = o.writer.bytes
		s.SpilledRows = o.writer.rows
		s.SpilledFiles = o.writer.files
		s.SpilledPartitions = o.writer.usedBuckets
	}
	return s
}

// MemoryBytes is the estimated size of the rows held in memory.
func (o *Operator) MemoryBytes() int64 {
	n := o.store.memoryBytes()
	if o.active != nil && o.active != o.store {
		n += o.active.memoryBytes()
	}
	return n
}

func (o *Operator) metricOpts() otelmetric.AddOption {
	return otelmetric.WithAttributeSet(attribute.NewSet(o.meterAttrs...))
}

// AddInput ranks every row of batch. The batch is not retained.
func (o *Operator) AddInput(ctx context.Context, batch *pipeline.Batch) error {
	if o.state != StateAccumulating {
		return ErrOperatorFinished
	}
	if err := ctx.Err(); err != nil {
		return o.fail(err)
	}

	for i := 0; i < batch.Len(); i++ {
		if err := o.addRow(ctx, batch.Get(i)); err != nil {
			return o.fail(err)
		}
	}
	o.stats.InputRows += int64(batch.Len())
	o.stats.PeakMemoryBytes = max(o.stats.PeakMemoryBytes, o.store.memoryBytes())

	if err := o.maybeSpill(ctx); err != nil {
		return o.fail(err)
	}
	return nil
}

func (o *Operator) addRow(ctx context.Context, row pipeline.Row) error {
	key, err := encodePartitionKey(o.keyBuf[:0], o.partitionCols, row)
	if err != nil {
		return err
	}
	o.keyBuf = key
	o.sketch.Insert(key)

	if bucket, ok := o.spilled[string(key)]; ok {
		return o.writer.append(ctx, bucket, row)
	}
	return o.store.insert(string(key), row)
}

func (o *Operator) maybeSpill(ctx context.Context) error {
	mem := o.store.memoryBytes()
	reason := ""
	switch {
	case o.signal != nil && o.signal.ShouldSpill(mem):
		reason = "signal"
	case o.spillCfg.MaxMemoryBytes > 0 && mem > o.spillCfg.MaxMemoryBytes:
		reason = "threshold"
	case o.spillCfg.Enabled && o.spillCfg.TestingSpillPct > 0 && o.rng.IntN(100) < o.spillCfg.TestingSpillPct:
		reason = "testing"
	}
	if reason == "" {
		return nil
	}
	if !o.spillCfg.Enabled {
		return fmt.Errorf("%w: %d bytes resident", ErrSpillDisabled, mem)
	}
	return o.spill(ctx, reason)
}

// Spill writes resident partitions to disk following the configured
// policy. It is a no-op once input has ended.
func (o *Operator) Spill(ctx context.Context) error {
	switch o.state {
	case StateFinished:
		return ErrOperatorFinished
	case StateAccumulating:
	default:
		return nil
	}
	if !o.spillCfg.Enabled {
		return ErrSpillDisabled
	}
	if err := o.spill(ctx, "request"); err != nil {
		return o.fail(err)
	}
	return nil
}

func (o *Operator) spill(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.store.residentRows() == 0 && (o.writer == nil || !o.writer.hasOpenFiles()) {
		o.logger.Debug("Nothing to spill", slog.String("reason", reason))
		return nil
	}
	if o.diskCheck != nil {
		if err := o.diskCheck(o.spillCfg.Directory); err != nil {
			return fmt.Errorf("spill to %s: %w", o.spillCfg.Directory, err)
		}
	}
	o.state = StateSpilling
	ctx, span := tracer.Start(ctx, "rownumber.spill", trace.WithAttributes(
		attribute.String("operator.id", o.id),
		attribute.String("spill.reason", reason),
		attribute.String("spill.policy", string(o.spillCfg.Policy)),
	))
	defer span.End()

	if o.writer == nil {
		o.writer = newSpillWriter(o.spiller, o.spillCfg.Directory, o.id, o.spillCfg.NumSpillPartitions, o.metricOpts())
	}

	memBefore := o.store.memoryBytes()
	rowsBefore := o.writer.rows
	keys, target := o.spillCandidates()
	spilled := 0
	for _, key := range keys {
		if target >= 0 && o.store.memoryBytes() <= target {
			break
		}
		bucket := spillBucket(key, o.spillCfg.NumSpillPartitions)
		if err := o.writer.spillRows(ctx, bucket, o.store.drain(key)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "spill failed")
			return err
		}
		o.spilled[key] = bucket
		spilled++
	}
	if err := o.writer.finishRun(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spill failed")
		return err
	}

	o.stats.SpillRuns++
	spillRunsCounter.Add(ctx, 1, o.metricOpts())
	span.SetAttributes(attribute.Int("spill.partitions", spilled))
	level := slog.LevelInfo
	if spilled == 0 {
		level = slog.LevelDebug
	}
	o.logger.Log(ctx, level, "Spilled partitions",
		slog.String("reason", reason),
		slog.Int("partitions", spilled),
		slog.Int64("rows", o.writer.rows-rowsBefore),
		slog.Int64("memoryBefore", memBefore),
		slog.Int64("memoryAfter", o.store.memoryBytes()))

	o.state = StateAccumulating
	return nil
}

// spillCandidates returns partition keys in spill order and the memory
// level at which to stop, or -1 to spill all of them.
func (o *Operator) spillCandidates() ([]string, int64) {
	if o.spillCfg.Policy != SpillLargestFirst {
		return o.store.partitions(), -1
	}
	threshold := o.spillCfg.MaxMemoryBytes
	if threshold <= 0 {
		threshold = o.store.memoryBytes()
	}
	return o.store.largestPartitions(), threshold / 2
}

// NoMoreInput ends the input and prepares output.
func (o *Operator) NoMoreInput(ctx context.Context) error {
	if o.state != StateAccumulating {
		return ErrOperatorFinished
	}
	if err := ctx.Err(); err != nil {
		return o.fail(err)
	}
	o.state = StateFinalizing

	if o.writer != nil {
		if err := o.writer.finishRun(ctx); err != nil {
			return o.fail(err)
		}
		o.pendingBuckets = o.writer.bucketsWithFiles()
	}

	o.active = o.store
	o.pending = o.store.partitions()
	o.state = StateProducing
	o.logger.Debug("Input complete",
		slog.Int64("inputRows", o.stats.InputRows),
		slog.Int("residentPartitions", len(o.pending)),
		slog.Int("spilledPartitions", len(o.spilled)),
		slog.Int("spillBuckets", len(o.pendingBuckets)))
	return nil
}

// Next returns the next output batch, or io.EOF once every row has been
// returned.
func (o *Operator) Next(ctx context.Context) (*pipeline.Batch, error) {
	switch o.state {
	case StateFinished:
		return nil, io.EOF
	case StateProducing:
	default:
		return nil, fmt.Errorf("next called in state %s", o.state)
	}
	if err := ctx.Err(); err != nil {
		return nil, o.fail(err)
	}

	batch := pipeline.GetBatch()
	var size int64
	for size < o.batchBytes {
		if o.currentIdx >= len(o.current) {
			more, err := o.advance(ctx)
			if err != nil {
				pipeline.ReturnBatch(batch)
				return nil, o.fail(err)
			}
			if !more {
				break
			}
			continue
		}

		row := o.current[o.currentIdx]
		o.current[o.currentIdx] = nil
		o.currentIdx++
		if o.currentIdx > o.cfg.Limit {
			pipeline.ReturnBatch(batch)
			return nil, o.fail(fmt.Errorf("partition produced %d rows, limit is %d", o.currentIdx, o.cfg.Limit))
		}
		if o.cfg.GenerateRowNumber {
			row[o.rowNumberCol] = int64(o.currentIdx)
		}
		batch.AppendRow(row)
		size += row.EstimatedBytes()
	}

	if batch.Len() == 0 {
		pipeline.ReturnBatch(batch)
		if err := o.Close(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	o.stats.OutputRows += int64(batch.Len())
	return batch, nil
}

// advance loads the next partition to emit, merging the next spill bucket
// when the current store is exhausted. It reports false when nothing is
// left.
func (o *Operator) advance(ctx context.Context) (bool, error) {
	for len(o.pending) == 0 {
		if o.active != nil && o.active != o.store {
			o.active.reset()
		}
		if len(o.pendingBuckets) == 0 {
			o.current, o.currentIdx = nil, 0
			return false, nil
		}
		bucket := o.pendingBuckets[0]
		o.pendingBuckets = o.pendingBuckets[1:]
		store, err := o.mergeBucket(ctx, bucket)
		if err != nil {
			return false, err
		}
		o.active = store
		o.pending = store.partitions()
		o.stats.PeakMemoryBytes = max(o.stats.PeakMemoryBytes, o.MemoryBytes())
	}

	key := o.pending[0]
	o.pending = o.pending[1:]
	o.current = o.active.drain(key)
	o.currentIdx = 0
	return true, nil
}

// Close releases every row and removes all spill files. It is safe to
// call more than once.
func (o *Operator) Close() error {
	if o.finished {
		return nil
	}
	o.finished = true
	o.state = StateFinished

	o.store.reset()
	if o.active != nil {
		o.active.reset()
	}
	o.current, o.pending, o.pendingBuckets = nil, nil, nil
	clear(o.spilled)

	if o.writer != nil {
		if err := o.writer.cleanup(); err != nil {
			return fmt.Errorf("remove spill files: %w", err)
		}
	}
	return nil
}

// fail closes the operator after a fatal error and returns err.
func (o *Operator) fail(err error) error {
	if cerr := o.Close(); cerr != nil {
		o.logger.Error("Failed to clean up after error", slog.Any("error", cerr))
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		o.logger.Error("Row number operator failed", slog.Any("error", err))
	}
	return err
}
