// Package metrics exposes Prometheus collectors for detector lifecycle and
// archive operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	FitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniad_fits_total",
			Help: "Total number of detector fits",
		},
		[]string{"algorithm", "status"},
	)

	FitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omniad_fit_duration_seconds",
			Help:    "Detector fit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
		},
		[]string{"algorithm"},
	)

	RowsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniad_rows_scored_total",
			Help: "Total number of rows scored by fitted detectors",
		},
		[]string{"algorithm"},
	)

	ArchiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniad_archive_operations_total",
			Help: "Total number of archive save/load operations",
		},
		[]string{"operation", "status"},
	)

	ArchiveBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omniad_archive_bytes",
			Help:    "Size of archives written or read",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
		},
		[]string{"operation"},
	)
)

// StatusOf maps an error to a status label.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// ObserveFit records one fit attempt.
func ObserveFit(algorithm string, start time.Time, err error) {
	FitsTotal.WithLabelValues(algorithm, StatusOf(err)).Inc()
	if err == nil {
		FitDuration.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())
	}
}

// ObserveArchive records one archive operation and, on success, its size.
func ObserveArchive(operation string, size int64, err error) {
	ArchiveOperationsTotal.WithLabelValues(operation, StatusOf(err)).Inc()
	if err == nil && size > 0 {
		ArchiveBytes.WithLabelValues(operation).Observe(float64(size))
	}
}
