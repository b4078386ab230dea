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

// Package filereader reads rows for the rank command from JSON lines and
// CSV input, optionally gzip compressed.
package filereader

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cardinalhq/rankrunner/pipeline"
)

// MaxLineSizeBytes bounds a single JSON line.
const MaxLineSizeBytes = 1024 * 1024

// DefaultBatchSize is the number of rows per batch when none is given.
const DefaultBatchSize = 1000

// Input formats accepted by Open.
const (
	FormatJSONLines = "jsonl"
	FormatCSV       = "csv"
)

// Reader returns rows in batches.
type Reader interface {
	// Next returns the next batch of rows, or io.EOF when there are no
	// more. The batch belongs to the caller.
	Next(ctx context.Context) (*pipeline.Batch, error)

	// Close releases any resources held by the reader.
	Close() error

	// TotalRowsReturned is the number of rows returned so far.
	TotalRowsReturned() int64
}

// Open opens path ("-" for stdin) in the given format. Files ending in .gz
// are decompressed. An empty format is inferred from the file extension.
func Open(path, format string, batchSize int) (Reader, error) {
	var rc io.ReadCloser
	if path == "-" {
		rc = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		rc = f
	}

	name := path
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("open gzip input %s: %w", path, err)
		}
		rc = &gzipReadCloser{Reader: gz, underlying: rc}
		name = strings.TrimSuffix(name, ".gz")
	}

	if format == "" {
		format = formatFromName(name)
	}
	switch strings.ToLower(format) {
	case FormatJSONLines, "json", "ndjson":
		return NewJSONLinesReader(rc, batchSize)
	case FormatCSV:
		return NewCSVReader(rc, batchSize)
	default:
		_ = rc.Close()
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
}

func formatFromName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return FormatCSV
	}
	return FormatJSONLines
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}
