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
	"bufio"
	"fmt"
	"os"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/rowcodec"
)

// BinarySpiller writes rows with the compact rowcodec.SpillCodec. It keeps
// every Go value type intact and is the default.
type BinarySpiller struct{}

// NewBinarySpiller creates a new binary spiller.
func NewBinarySpiller() *BinarySpiller {
	return &BinarySpiller{}
}

func (s *BinarySpiller) Name() string { return CodecBinary }

func (s *BinarySpiller) Create(dir, prefix string) (Writer, error) {
	fw, err := createSpillFile(dir, prefix, "bin")
	if err != nil {
		return nil, err
	}
	return &binarySpillWriter{file: fw, codec: rowcodec.NewSpillCodec()}, nil
}

func (s *BinarySpiller) Open(spillFile *SpillFile) (Reader, error) {
	file, err := os.Open(spillFile.Path)
	if err != nil {
		return nil, fmt.Errorf("open spill file %s: %w", spillFile.Path, err)
	}
	return &binarySpillReader{
		file:  file,
		buf:   bufio.NewReaderSize(file, spillBufferSize),
		codec: rowcodec.NewSpillCodec(),
	}, nil
}

func (s *BinarySpiller) Cleanup(spillFile *SpillFile) error {
	return removeSpillFile(spillFile)
}

type binarySpillWriter struct {
	file  *spillFileWriter
	codec *rowcodec.SpillCodec
}

func (w *binarySpillWriter) Append(row pipeline.Row) (int64, error) {
	n, err := w.codec.EncodeRowTo(w.file.writer(), row)
	if err != nil {
		return n, fmt.Errorf("encode row to spill file: %w", err)
	}
	w.file.rows++
	return n, nil
}

func (w *binarySpillWriter) Close() (*SpillFile, error) { return w.file.close() }

func (w *binarySpillWriter) Abort() error { return w.file.abort() }

type binarySpillReader struct {
	file   *os.File
	buf    *bufio.Reader
	codec  *rowcodec.SpillCodec
	closed bool
}

func (r *binarySpillReader) Next() (pipeline.Row, error) {
	row := make(pipeline.Row)
	if err := r.codec.DecodeRowFrom(r.buf, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *binarySpillReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
