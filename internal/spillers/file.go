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
	"errors"
	"fmt"
	"io"
	"os"
)

const spillBufferSize = 64 * 1024

// countingWriter tracks how many bytes went through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// spillFileWriter owns the file handle and buffering shared by every codec.
type spillFileWriter struct {
	file    *os.File
	buf     *bufio.Writer
	counter *countingWriter
	rows    int64
	closed  bool
}

func createSpillFile(dir, prefix, ext string) (*spillFileWriter, error) {
	file, err := os.CreateTemp(dir, prefix+"-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}
	buf := bufio.NewWriterSize(file, spillBufferSize)
	return &spillFileWriter{
		file:    file,
		buf:     buf,
		counter: &countingWriter{w: buf},
	}, nil
}

func (w *spillFileWriter) writer() io.Writer {
	return w.counter
}

func (w *spillFileWriter) close() (*SpillFile, error) {
	if w.closed {
		return nil, errors.New("spill file already closed")
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
		return nil, fmt.Errorf("flush spill file %s: %w", w.file.Name(), err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return nil, fmt.Errorf("close spill file %s: %w", w.file.Name(), err)
	}
	return &SpillFile{
		Path:      w.file.Name(),
		RowCount:  w.rows,
		ByteCount: w.counter.n,
	}, nil
}

func (w *spillFileWriter) abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.file.Close()
	if err := os.Remove(w.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spill file %s: %w", w.file.Name(), err)
	}
	return nil
}

func removeSpillFile(spillFile *SpillFile) error {
	if spillFile == nil || spillFile.Path == "" {
		return nil
	}
	if err := os.Remove(spillFile.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spill file %s: %w", spillFile.Path, err)
	}
	return nil
}
