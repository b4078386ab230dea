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
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cardinalhq/rankrunner/pipeline"
)

func init() {
	// Register every scalar a Row may hold so interface values survive gob.
	gob.Register(map[string]any{})
	gob.Register(int(0))
	gob.Register(int8(0))
	gob.Register(int16(0))
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(uint(0))
	gob.Register(uint8(0))
	gob.Register(uint16(0))
	gob.Register(uint32(0))
	gob.Register(uint64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]byte{})
	gob.Register(time.Time{})
}

// GobSpiller implements the Spiller interface using Go's gob encoding.
type GobSpiller struct{}

// NewGobSpiller creates a new GOB-based spiller.
func NewGobSpiller() *GobSpiller {
	return &GobSpiller{}
}

func (s *GobSpiller) Name() string { return CodecGob }

func (s *GobSpiller) Create(dir, prefix string) (Writer, error) {
	fw, err := createSpillFile(dir, prefix, "gob")
	if err != nil {
		return nil, err
	}
	return &gobSpillWriter{file: fw, encoder: gob.NewEncoder(fw.writer())}, nil
}

// Open opens a GOB spill file for reading.
func (s *GobSpiller) Open(spillFile *SpillFile) (Reader, error) {
	file, err := os.Open(spillFile.Path)
	if err != nil {
		return nil, fmt.Errorf("open spill file %s: %w", spillFile.Path, err)
	}
	return &gobSpillReader{
		file:    file,
		decoder: gob.NewDecoder(file),
	}, nil
}

func (s *GobSpiller) Cleanup(spillFile *SpillFile) error {
	return removeSpillFile(spillFile)
}

type gobSpillWriter struct {
	file    *spillFileWriter
	encoder *gob.Encoder
}

func (w *gobSpillWriter) Append(row pipeline.Row) (int64, error) {
	before := w.file.counter.n
	if err := w.encoder.Encode(pipeline.ToStringMap(row)); err != nil {
		return 0, fmt.Errorf("encode row to spill file: %w", err)
	}
	w.file.rows++
	return w.file.counter.n - before, nil
}

func (w *gobSpillWriter) Close() (*SpillFile, error) { return w.file.close() }

func (w *gobSpillWriter) Abort() error { return w.file.abort() }

// gobSpillReader implements Reader for GOB-encoded files.
type gobSpillReader struct {
	file    *os.File
	decoder *gob.Decoder
	closed  bool
}

// Next reads the next row from the GOB spill file.
func (r *gobSpillReader) Next() (pipeline.Row, error) {
	if r.closed {
		return nil, io.EOF
	}

	var row map[string]any
	if err := r.decoder.Decode(&row); err != nil {
		return nil, err
	}
	return pipeline.FromStringMap(row), nil
}

// Close closes the GOB spill reader and cleans up resources.
func (r *gobSpillReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
