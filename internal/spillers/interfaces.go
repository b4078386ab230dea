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

// Package spillers provides the append-only spill file service used by the
// rank operator: rows are appended to a file and later read back in the
// order they were written. Implementations differ only in row encoding.
package spillers

import (
	"fmt"
	"strings"

	"github.com/cardinalhq/rankrunner/pipeline"
)

// SpillFile represents a completed spill file on disk.
type SpillFile struct {
	// Path is the filesystem path to the spill file
	Path string

	// RowCount is the number of rows written to this spill file
	RowCount int64

	// ByteCount is the number of encoded bytes written to this spill file
	ByteCount int64
}

// Writer appends rows to a single spill file.
type Writer interface {
	// Append encodes row at the end of the file and returns the number of
	// bytes it added.
	Append(row pipeline.Row) (int64, error)

	// Close flushes and closes the file, returning its descriptor.
	Close() (*SpillFile, error)

	// Abort closes and removes the file without producing a descriptor.
	Abort() error
}

// Reader provides an interface for reading rows back from a spill file.
type Reader interface {
	// Next reads the next row from the spill file.
	// Returns io.EOF when no more rows are available.
	Next() (pipeline.Row, error)

	// Close closes the spill reader and cleans up resources.
	Close() error
}

// Spiller creates, opens and removes spill files of one encoding.
type Spiller interface {
	// Name identifies the encoding; it is also used as the file extension.
	Name() string

	// Create opens a new spill file in dir whose name starts with prefix.
	Create(dir, prefix string) (Writer, error)

	// Open opens a spill file for reading.
	// The returned Reader will read rows in the same order they were written.
	Open(spillFile *SpillFile) (Reader, error)

	// Cleanup removes the spill file from disk. Removing a file that is
	// already gone is not an error.
	Cleanup(spillFile *SpillFile) error
}

// Codec names accepted by New.
const (
	CodecBinary = "binary"
	CodecCBOR   = "cbor"
	CodecGob    = "gob"
)

// New returns the Spiller for the named codec. An empty name selects the
// binary codec.
func New(codec string) (Spiller, error) {
	switch strings.ToLower(codec) {
	case "", CodecBinary:
		return NewBinarySpiller(), nil
	case CodecCBOR:
		return NewCborSpiller()
	case CodecGob:
		return NewGobSpiller(), nil
	default:
		return nil, fmt.Errorf("unknown spill codec %q", codec)
	}
}
