// Package archive persists fitted detectors as single-file containers.
//
// A container is a zip file with three independently readable entries:
// metadata.json (format version, algorithm id, threshold, class name),
// attributes.json (the detector's fit-time attributes) and backend.bin (the
// backend's own encoding of its model, copied through unmodified). Readers
// locate entries by name and always consult metadata first.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/omniad/pkg/detectors"
	"github.com/hed1ad/omniad/pkg/metrics"
	"github.com/hed1ad/omniad/pkg/registry"
)

// DefaultMaxSegmentSize bounds the decompressed size of a single segment.
const DefaultMaxSegmentSize = 1 << 30

// Codec saves and loads detector archives.
type Codec struct {
	registry       *registry.Registry
	logger         *zap.Logger
	maxSegmentSize int64
	now            func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithRegistry sets the registry used to rebuild detectors on load.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Codec) {
		c.registry = r
	}
}

// WithLogger sets the codec logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxSegmentSize bounds the decompressed size of each segment on load.
func WithMaxSegmentSize(n int64) Option {
	return func(c *Codec) {
		c.maxSegmentSize = n
	}
}

// NewCodec creates a codec. Without WithRegistry it uses registry.Default().
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		logger:         zap.NewNop(),
		maxSegmentSize: DefaultMaxSegmentSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = registry.Default()
	}
	return c
}

// Save writes the fitted detector d to path. All segments are encoded in
// memory first and the file is published atomically, so a failure never
// leaves a truncated archive at path.
func (c *Codec) Save(ctx context.Context, d *detectors.Detector, path string) (*Metadata, error) {
	meta, size, err := c.save(ctx, d, path)
	metrics.ObserveArchive("save", size, err)
	if err != nil {
		c.logger.Debug("archive save failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("save %s: %w", path, err)
	}
	c.logger.Info("archive saved",
		zap.String("path", path),
		zap.String("algorithm", meta.AlgorithmID),
		zap.String("archive_id", meta.ArchiveID),
		zap.Int64("bytes", size),
	)
	return meta, nil
}

func (c *Codec) save(ctx context.Context, d *detectors.Detector, path string) (*Metadata, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	snap, err := d.Snapshot()
	if err != nil {
		if errors.Is(err, detectors.ErrNotFitted) {
			return nil, 0, err
		}
		return nil, 0, &SegmentError{Segment: SegmentBackend, Phase: "encode", Err: err}
	}

	meta := &Metadata{
		FormatVersion:   FormatVersion,
		AlgorithmID:     d.AlgorithmID(),
		Threshold:       snap.Threshold,
		ClassName:       d.ClassName(),
		Contamination:   d.Contamination(),
		Hyperparameters: d.Hyperparameters(),
		ArchiveID:       uuid.NewString(),
		CreatedAt:       c.now().UTC(),
		LibraryVersion:  LibraryVersion,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, 0, &SegmentError{Segment: SegmentMetadata, Phase: "encode", Err: err}
	}
	attrJSON, err := json.Marshal(snap.Attributes)
	if err != nil {
		return nil, 0, &SegmentError{Segment: SegmentAttributes, Phase: "encode", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	size, err := writeAtomic(path, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		entries := []struct {
			name    string
			segment string
			data    []byte
			method  uint16
		}{
			{metadataEntry, SegmentMetadata, metaJSON, zip.Deflate},
			{attributesEntry, SegmentAttributes, attrJSON, zip.Deflate},
			{backendEntry, SegmentBackend, snap.Backend, zip.Store},
		}
		for _, e := range entries {
			fw, err := zw.CreateHeader(&zip.FileHeader{
				Name:     e.name,
				Method:   e.method,
				Modified: meta.CreatedAt,
			})
			if err != nil {
				return &SegmentError{Segment: e.segment, Phase: "write", Err: err}
			}
			if _, err := fw.Write(e.data); err != nil {
				return &SegmentError{Segment: e.segment, Phase: "write", Err: err}
			}
		}
		return zw.Close()
	})
	if err != nil {
		return nil, 0, err
	}
	return meta, size, nil
}

// Load reads the archive at path and returns a Fitted detector. Metadata is
// decoded and its format version checked before the registry is consulted.
func (c *Codec) Load(ctx context.Context, path string, opts ...detectors.Option) (*detectors.Detector, error) {
	d, size, err := c.load(ctx, path, opts)
	metrics.ObserveArchive("load", size, err)
	if err != nil {
		c.logger.Debug("archive load failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	c.logger.Info("archive loaded", zap.String("path", path), zap.String("algorithm", d.AlgorithmID()))
	return d, nil
}

func (c *Codec) load(ctx context.Context, path string, opts []detectors.Option) (*detectors.Detector, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	ct, err := c.open(path)
	if err != nil {
		return nil, 0, err
	}
	defer ct.Close()

	meta, err := c.readMetadata(ct)
	if err != nil {
		return nil, 0, err
	}

	attrData, err := c.readSegment(ct, attributesEntry)
	if err != nil {
		return nil, 0, err
	}
	var attrs detectors.Attributes
	if err := json.Unmarshal(attrData, &attrs); err != nil {
		return nil, 0, corruptf(SegmentAttributes, "decode", "%v", err)
	}
	if attrs == nil {
		return nil, 0, corruptf(SegmentAttributes, "decode", "attributes are null")
	}

	backendData, err := c.readSegment(ct, backendEntry)
	if err != nil {
		return nil, 0, err
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	shell, err := c.registry.Resolve(meta.AlgorithmID, meta.Hyperparameters, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve shell: %w", err)
	}
	if shell.ClassName() != meta.ClassName {
		return nil, 0, corruptf(SegmentMetadata, "decode", "class_name %q does not match %q for algorithm %q",
			meta.ClassName, shell.ClassName(), meta.AlgorithmID)
	}

	err = shell.Restore(&detectors.Snapshot{
		Threshold:  meta.Threshold,
		Attributes: attrs,
		Backend:    backendData,
	})
	if err != nil {
		var re *detectors.RestoreError
		if errors.As(err, &re) {
			segment := re.Part
			if segment == "threshold" || segment == "snapshot" {
				segment = SegmentMetadata
			}
			return nil, 0, &SegmentError{
				Segment: segment,
				Phase:   "decode",
				Err:     fmt.Errorf("%w: %w", ErrCorruptArchive, re.Err),
			}
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	return shell, ct.size, nil
}

// ReadMetadata returns only the metadata segment of the archive at path. The
// other segments are not decompressed.
func (c *Codec) ReadMetadata(path string) (*Metadata, error) {
	ct, err := c.open(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	defer ct.Close()

	meta, err := c.readMetadata(ct)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	return meta, nil
}

// container is an open archive whose entries are read on demand.
type container struct {
	f       *os.File
	size    int64
	entries map[string]*zip.File
}

func (ct *container) Close() error { return ct.f.Close() }

var segmentOf = map[string]string{
	metadataEntry:   SegmentMetadata,
	attributesEntry: SegmentAttributes,
	backendEntry:    SegmentBackend,
}

// open indexes the known entries of the container without reading them.
func (c *Codec) open(path string) (*container, error) {
	path = resolvePath(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: not a valid container: %v", ErrCorruptArchive, err)
	}

	ct := &container{f: f, size: info.Size(), entries: make(map[string]*zip.File, len(segmentOf))}
	for _, zf := range zr.File {
		segment, ok := segmentOf[zf.Name]
		if !ok {
			continue
		}
		if _, dup := ct.entries[zf.Name]; dup {
			f.Close()
			return nil, corruptf(segment, "read", "duplicate entry %s", zf.Name)
		}
		ct.entries[zf.Name] = zf
	}
	return ct, nil
}

// readMetadata reads and decodes the metadata entry. It runs before any other
// entry is decompressed so the format version gates everything else.
func (c *Codec) readMetadata(ct *container) (*Metadata, error) {
	data, err := c.readSegment(ct, metadataEntry)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

func (c *Codec) readSegment(ct *container, name string) ([]byte, error) {
	segment := segmentOf[name]
	zf, ok := ct.entries[name]
	if !ok {
		return nil, corruptf(segment, "read", "segment is missing")
	}
	data, err := c.readEntry(zf)
	if err != nil {
		return nil, &SegmentError{Segment: segment, Phase: "read", Err: err}
	}
	return data, nil
}

func (c *Codec) readEntry(zf *zip.File) ([]byte, error) {
	if zf.UncompressedSize64 > uint64(c.maxSegmentSize) {
		return nil, fmt.Errorf("%w: entry %s is %d bytes, limit %d", ErrCorruptArchive, zf.Name, zf.UncompressedSize64, c.maxSegmentSize)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, c.maxSegmentSize+1))
	if err != nil {
		// Checksum and inflate failures both mean the bytes on disk are bad.
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if n > c.maxSegmentSize {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", ErrCorruptArchive, zf.Name, c.maxSegmentSize)
	}
	return buf.Bytes(), nil
}

// resolvePath falls back to path+".zip" when path itself does not exist.
func resolvePath(path string) string {
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
		if _, err := os.Stat(path + ".zip"); err == nil {
			return path + ".zip"
		}
	}
	return path
}

// Save writes d to path with a codec bound to registry.Default().
func Save(ctx context.Context, d *detectors.Detector, path string) (*Metadata, error) {
	return NewCodec().Save(ctx, d, path)
}

// Load reads path with a codec bound to registry.Default().
func Load(ctx context.Context, path string, opts ...detectors.Option) (*detectors.Detector, error) {
	return NewCodec().Load(ctx, path, opts...)
}
