package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/hed1ad/omniad/pkg/detectors"
)

// FormatVersion is the container layout version written by this codec.
const FormatVersion = 1

// LibraryVersion is recorded in every archive for diagnostics.
const LibraryVersion = "0.1.0"

// supportedVersions lists the format versions Load understands.
var supportedVersions = []int{1}

// Entry names of the three segments.
const (
	metadataEntry   = "metadata.json"
	attributesEntry = "attributes.json"
	backendEntry    = "backend.bin"
)

// Metadata is the first segment a reader consults.
type Metadata struct {
	FormatVersion int     `json:"format_version" yaml:"format_version"`
	AlgorithmID   string  `json:"algorithm_id" yaml:"algorithm_id"`
	Threshold     float64 `json:"threshold" yaml:"threshold"`
	ClassName     string  `json:"class_name" yaml:"class_name"`

	// Informational fields; readers must not require them.
	Contamination   float64                   `json:"contamination,omitempty" yaml:"contamination,omitempty"`
	Hyperparameters detectors.Hyperparameters `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
	ArchiveID       string                    `json:"archive_id,omitempty" yaml:"archive_id,omitempty"`
	CreatedAt       time.Time                 `json:"created_at" yaml:"created_at"`
	LibraryVersion  string                    `json:"library_version,omitempty" yaml:"library_version,omitempty"`
}

// rawMetadata distinguishes absent required fields from zero values.
type rawMetadata struct {
	FormatVersion   *int                      `json:"format_version"`
	AlgorithmID     *string                   `json:"algorithm_id"`
	Threshold       *float64                  `json:"threshold"`
	ClassName       *string                   `json:"class_name"`
	Contamination   float64                   `json:"contamination"`
	Hyperparameters detectors.Hyperparameters `json:"hyperparameters"`
	ArchiveID       string                    `json:"archive_id"`
	CreatedAt       time.Time                 `json:"created_at"`
	LibraryVersion  string                    `json:"library_version"`
}

// decodeMetadata parses the metadata segment. The format version is checked
// before anything else so newer layouts fail with ErrUnsupportedVersion.
func decodeMetadata(data []byte) (*Metadata, error) {
	var raw rawMetadata
	dec := json.NewDecoder(bytes.NewReader(data))
	// Keep integer hyperparameters such as seeds exact.
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, corruptf(SegmentMetadata, "decode", "%v", err)
	}

	if raw.FormatVersion == nil {
		return nil, corruptf(SegmentMetadata, "decode", "format_version is missing")
	}
	if !slices.Contains(supportedVersions, *raw.FormatVersion) {
		return nil, &SegmentError{
			Segment: SegmentMetadata,
			Phase:   "decode",
			Err:     fmt.Errorf("%w: %d (supported: %v)", ErrUnsupportedVersion, *raw.FormatVersion, supportedVersions),
		}
	}

	switch {
	case raw.AlgorithmID == nil || *raw.AlgorithmID == "":
		return nil, corruptf(SegmentMetadata, "decode", "algorithm_id is missing")
	case raw.Threshold == nil:
		return nil, corruptf(SegmentMetadata, "decode", "threshold is missing")
	case raw.ClassName == nil || *raw.ClassName == "":
		return nil, corruptf(SegmentMetadata, "decode", "class_name is missing")
	}

	return &Metadata{
		FormatVersion:   *raw.FormatVersion,
		AlgorithmID:     *raw.AlgorithmID,
		Threshold:       *raw.Threshold,
		ClassName:       *raw.ClassName,
		Contamination:   raw.Contamination,
		Hyperparameters: raw.Hyperparameters,
		ArchiveID:       raw.ArchiveID,
		CreatedAt:       raw.CreatedAt,
		LibraryVersion:  raw.LibraryVersion,
	}, nil
}
