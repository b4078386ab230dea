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
	"fmt"
	"os"

	cbor2 "github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/rankrunner/internal/cbor"
	"github.com/cardinalhq/rankrunner/pipeline"
)

// CborSpiller implements the Spiller interface using CBOR encoding. Rows
// read back hold the same Go types they were written with.
type CborSpiller struct {
	config *cbor.Config
}

// NewCborSpiller creates a new CBOR-based spiller.
func NewCborSpiller() (*CborSpiller, error) {
	config, err := cbor.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR config: %w", err)
	}
	return &CborSpiller{config: config}, nil
}

func (s *CborSpiller) Name() string { return CodecCBOR }

func (s *CborSpiller) Create(dir, prefix string) (Writer, error) {
	fw, err := createSpillFile(dir, prefix, "cbor")
	if err != nil {
		return nil, err
	}
	return &cborSpillWriter{file: fw, encoder: s.config.NewEncoder(fw.writer())}, nil
}

// Open opens a CBOR spill file for reading.
func (s *CborSpiller) Open(spillFile *SpillFile) (Reader, error) {
	file, err := os.Open(spillFile.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spill file %s: %w", spillFile.Path, err)
	}
	return &cborSpillReader{
		file:    file,
		decoder: s.config.NewDecoder(file),
	}, nil
}

func (s *CborSpiller) Cleanup(spillFile *SpillFile) error {
	return removeSpillFile(spillFile)
}

type cborSpillWriter struct {
	file    *spillFileWriter
	encoder *cbor2.Encoder
}

func (w *cborSpillWriter) Append(row pipeline.Row) (int64, error) {
	before := w.file.counter.n
	if err := cbor.EncodeRowTo(w.encoder, row); err != nil {
		return 0, fmt.Errorf("failed to encode row: %w", err)
	}
	w.file.rows++
	return w.file.counter.n - before, nil
}

func (w *cborSpillWriter) Close() (*SpillFile, error) { return w.file.close() }

func (w *cborSpillWriter) Abort() error { return w.file.abort() }

// cborSpillReader implements Reader for CBOR files.
type cborSpillReader struct {
	file    *os.File
	decoder *cbor2.Decoder
}

// Next reads the next row from the CBOR spill file.
func (r *cborSpillReader) Next() (pipeline.Row, error) {
	return cbor.DecodeRowFrom(r.decoder) // io.EOF is returned naturally at end of file
}

// Close closes the CBOR spill reader.
func (r *cborSpillReader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
