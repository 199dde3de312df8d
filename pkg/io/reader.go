// Package io provides input/output utilities for data ingestion and result output.
package io

import "context"

// Dataset is a feature matrix with named columns.
type Dataset struct {
	// FeatureNames names the columns of Rows; nil when the source has no names.
	FeatureNames []string

	// Rows holds one sample per row.
	Rows [][]float64
}

// Reader is the interface for reading data from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() (*Dataset, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// FeatureNames returns the column names, if known.
	FeatureNames() []string

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result represents an anomaly detection result.
type Result struct {
	Row       int            `json:"row"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Score     float64        `json:"score"`
	IsAnomaly bool           `json:"is_anomaly"`
	Features  []float64      `json:"features,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Results pairs scores and labels with their input rows. includeFeatures
// controls whether the raw rows are copied into the results.
func Results(rows [][]float64, scores []float64, labels []bool, includeFeatures bool) []Result {
	out := make([]Result, len(scores))
	for i := range scores {
		out[i] = Result{
			Row:       i,
			Score:     scores[i],
			IsAnomaly: i < len(labels) && labels[i],
		}
		if includeFeatures && i < len(rows) {
			out[i].Features = rows[i]
		}
	}
	return out
}
