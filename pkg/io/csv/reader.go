// Package csv provides CSV file reading for tabular data.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	dataio "github.com/hed1ad/omniad/pkg/io"
)

// ErrMalformedRow is returned for a record that is not a row of numbers.
var ErrMalformedRow = errors.New("malformed csv row")

// Reader reads data from CSV files.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	comma     rune
	headers   []string

	mu        sync.Mutex
	streamErr error
}

var _ dataio.Reader = (*Reader)(nil)

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.comma = c
	}
}

// NewReader creates a new CSV reader for filename.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, err := newReader(file, file, opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return r, nil
}

// NewReaderFrom creates a CSV reader over src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	return newReader(src, nil, opts)
}

func newReader(src io.Reader, closer io.Closer, opts []Option) (*Reader, error) {
	r := &Reader{
		closer:    closer,
		hasHeader: true,
		comma:     ',',
	}
	for _, opt := range opts {
		opt(r)
	}

	r.reader = csv.NewReader(src)
	r.reader.Comma = r.comma
	r.reader.TrimLeadingSpace = true
	r.reader.ReuseRecord = true

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, errors.New("missing header row")
			}
			return nil, err
		}
		r.headers = make([]string, len(headers))
		for i, h := range headers {
			r.headers[i] = strings.TrimSpace(h)
		}
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// FeatureNames returns the header names, or nil without a header.
func (r *Reader) FeatureNames() []string {
	if r.headers == nil {
		return nil
	}
	return append([]string(nil), r.headers...)
}

// Read returns all data. The first malformed row aborts the read with an
// error naming its line.
func (r *Reader) Read() (*dataio.Dataset, error) {
	var data [][]float64

	for {
		row, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}

	return &dataio.Dataset{FeatureNames: r.FeatureNames(), Rows: data}, nil
}

// Stream returns a channel of rows for real-time processing. The channel is
// closed at end of input, on cancellation or at the first malformed row;
// Err reports the latter.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			row, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.mu.Lock()
				r.streamErr = err
				r.mu.Unlock()
				return
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Err returns the error that ended the last Stream, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamErr
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) next() ([]float64, error) {
	record, err := r.reader.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		return nil, err
	}
	line, _ := r.reader.FieldPos(0)

	if r.headers != nil && len(record) != len(r.headers) {
		return nil, fmt.Errorf("%w: line %d: %d fields, header has %d", ErrMalformedRow, line, len(record), len(r.headers))
	}
	row, err := parseRow(record)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
	}
	return row, nil
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		row[i] = f
	}
	return row, nil
}
