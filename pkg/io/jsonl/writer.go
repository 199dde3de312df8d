// Package jsonl writes detection results as newline-delimited JSON.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	dataio "github.com/hed1ad/omniad/pkg/io"
)

// Writer encodes one result per line.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	n      int
}

var _ dataio.Writer = (*Writer)(nil)

// NewWriter wraps w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Create truncates or creates path and writes results to it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write outputs a single result.
func (w *Writer) Write(result dataio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(result); err != nil {
		return fmt.Errorf("result %d: %w", result.Row, err)
	}
	w.n++
	return nil
}

// WriteAll outputs results in order and stops at the first failure.
func (w *Writer) WriteAll(results []dataio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Count returns the number of results written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Flush writes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and, for writers from Create, closes the file.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
