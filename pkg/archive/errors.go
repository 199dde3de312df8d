package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptArchive is returned when a container or one of its segments
	// is missing or cannot be decoded.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrUnsupportedVersion is returned for a metadata format_version this
	// codec does not know.
	ErrUnsupportedVersion = errors.New("unsupported archive format version")

	// ErrIO is returned when the underlying storage fails.
	ErrIO = errors.New("archive i/o error")
)

// Segment names inside the container.
const (
	SegmentMetadata   = "metadata"
	SegmentAttributes = "attributes"
	SegmentBackend    = "backend"
)

// SegmentError adds the segment and phase to an archive failure.
type SegmentError struct {
	Segment string // metadata, attributes or backend
	Phase   string // encode, write, read or decode
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("%s segment: %s: %v", e.Segment, e.Phase, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

func corruptf(segment, phase, format string, args ...any) error {
	return &SegmentError{
		Segment: segment,
		Phase:   phase,
		Err:     fmt.Errorf("%w: %s", ErrCorruptArchive, fmt.Sprintf(format, args...)),
	}
}
