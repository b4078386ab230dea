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
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Stats summarizes one operator run. Counters only grow.
type Stats struct {
	SpilledBytes      int64
	SpilledRows       int64
	SpilledFiles      int64
	SpilledPartitions int64
	InputRows         int64
	OutputRows        int64
	// Partitions is an estimate of the distinct partitions seen.
	Partitions      uint64
	SpillRuns       int64
	PeakMemoryBytes int64
}

var (
	spilledBytesCounter      otelmetric.Int64Counter
	spilledRowsCounter       otelmetric.Int64Counter
	spilledFilesCounter      otelmetric.Int64Counter
	spilledPartitionsCounter otelmetric.Int64Counter
	spillRunsCounter         otelmetric.Int64Counter
)

var tracer = otel.Tracer("github.com/cardinalhq/rankrunner/internal/rownumber")

func init() {
	meter := otel.Meter("github.com/cardinalhq/rankrunner/internal/rownumber")

	var err error
	spilledBytesCounter, err = meter.Int64Counter(
		"rankrunner.rownumber.spilled.bytes",
		otelmetric.WithDescription("Encoded bytes written to row number spill files"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spilled.bytes counter: %w", err))
	}

	spilledRowsCounter, err = meter.Int64Counter(
		"rankrunner.rownumber.spilled.rows",
		otelmetric.WithDescription("Rows written to row number spill files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spilled.rows counter: %w", err))
	}

	spilledFilesCounter, err = meter.Int64Counter(
		"rankrunner.rownumber.spilled.files",
		otelmetric.WithDescription("Row number spill files written"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spilled.files counter: %w", err))
	}

	spilledPartitionsCounter, err = meter.Int64Counter(
		"rankrunner.rownumber.spilled.partitions",
		otelmetric.WithDescription("Distinct spill partitions that received rows"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spilled.partitions counter: %w", err))
	}

	spillRunsCounter, err = meter.Int64Counter(
		"rankrunner.rownumber.spill.runs",
		otelmetric.WithDescription("Number of times an operator spilled its resident partitions"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spill.runs counter: %w", err))
	}
}
