// Package zscore implements a per-feature z-score baseline as a detectors.Backend.
//
// Fit records the mean and standard deviation of every feature; a sample's
// score aggregates the absolute z-scores of its features.
package zscore

import (
	"context"
	"fmt"
	"math"

	"github.com/hed1ad/omniad/pkg/detectors"
)

// AlgorithmID is the registry key for z-score detectors.
const AlgorithmID = "ZScore"

// ParamAggregate selects how per-feature z-scores are combined.
const ParamAggregate = "aggregate"

// Aggregate combines per-feature absolute z-scores into one score.
type Aggregate string

const (
	AggregateMean Aggregate = "mean" // average absolute z-score
	AggregateMax  Aggregate = "max"  // largest absolute z-score
)

const (
	artifactVersion    = "1.0.0"
	artifactConstraint = "^1.0"
)

// Backend fits z-score baselines.
type Backend struct {
	aggregate Aggregate
}

var (
	_ detectors.Backend        = (*Backend)(nil)
	_ detectors.FeatureCounter = (*Model)(nil)
)

// NewBackend creates a backend using the given aggregation.
func NewBackend(agg Aggregate) (*Backend, error) {
	switch agg {
	case AggregateMean, AggregateMax:
	default:
		return nil, fmt.Errorf("%w: %s must be %q or %q, got %q",
			detectors.ErrConfig, ParamAggregate, AggregateMean, AggregateMax, agg)
	}
	return &Backend{aggregate: agg}, nil
}

// New builds an Unfitted z-score detector from hyperparameters.
func New(params detectors.Hyperparameters, opts ...detectors.Option) (*detectors.Detector, error) {
	if err := params.Check(detectors.ParamContamination, detectors.ParamStandardize, ParamAggregate); err != nil {
		return nil, err
	}
	agg, err := params.String(ParamAggregate, string(AggregateMean))
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(Aggregate(agg))
	if err != nil {
		return nil, err
	}
	common, err := params.CommonOptions()
	if err != nil {
		return nil, err
	}
	return detectors.New(AlgorithmID, backend, append(common, opts...)...)
}

// Name returns the backend variant name.
func (b *Backend) Name() string { return AlgorithmID }

// Fit computes per-feature baselines. Zero-variance features get a unit
// standard deviation so constant columns contribute their raw offset.
func (b *Backend) Fit(ctx context.Context, X [][]float64) (detectors.Model, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("%w: empty training data", detectors.ErrValidation)
	}
	nFeatures := len(X[0])
	n := float64(len(X))

	m := &Model{
		Aggregate: b.aggregate,
		Mean:      make([]float64, nFeatures),
		StdDev:    make([]float64, nFeatures),
	}
	for _, row := range X {
		for j, v := range row {
			m.Mean[j] += v
		}
	}
	for j := range m.Mean {
		m.Mean[j] /= n
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, row := range X {
		for j, v := range row {
			d := v - m.Mean[j]
			m.StdDev[j] += d * d
		}
	}
	for j := range m.StdDev {
		m.StdDev[j] = math.Sqrt(m.StdDev[j] / n)
		if m.StdDev[j] == 0 {
			m.StdDev[j] = 1
		}
	}

	// Importance of a feature is its mean absolute z-score on the training data.
	m.Importances = make([]float64, nFeatures)
	for _, row := range X {
		for j, v := range row {
			m.Importances[j] += math.Abs(v-m.Mean[j]) / m.StdDev[j]
		}
	}
	for j := range m.Importances {
		m.Importances[j] /= n
	}

	return m, nil
}

// Decode restores a model written by Model.MarshalBinary.
func (b *Backend) Decode(data []byte) (detectors.Model, error) {
	var p payload
	if _, err := detectors.DecodeArtifact(data, artifactConstraint, &p); err != nil {
		return nil, fmt.Errorf("decode zscore model: %w", err)
	}
	m := Model(p)
	if len(m.Mean) == 0 || len(m.Mean) != len(m.StdDev) {
		return nil, fmt.Errorf("decode zscore model: %d means for %d deviations", len(m.Mean), len(m.StdDev))
	}
	for j, s := range m.StdDev {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("decode zscore model: feature %d has deviation %v", j, s)
		}
	}
	if m.Aggregate != AggregateMean && m.Aggregate != AggregateMax {
		return nil, fmt.Errorf("decode zscore model: unknown aggregate %q", m.Aggregate)
	}
	return &m, nil
}

// Model holds the per-feature baseline. Fields are exported for gob.
type Model struct {
	Aggregate   Aggregate
	Mean        []float64
	StdDev      []float64
	Importances []float64
}

// payload has Model's fields but not its methods, so gob encodes it field by
// field instead of calling MarshalBinary.
type payload Model

var (
	_ detectors.Model              = (*Model)(nil)
	_ detectors.FeatureImportancer = (*Model)(nil)
)

// Score returns the aggregated absolute z-score of each row.
func (m *Model) Score(X [][]float64) ([]float64, error) {
	scores := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(m.Mean) {
			return nil, &detectors.ShapeMismatchError{Expected: len(m.Mean), Got: len(row)}
		}
		var agg float64
		for j, v := range row {
			z := math.Abs(v-m.Mean[j]) / m.StdDev[j]
			if m.Aggregate == AggregateMax {
				agg = math.Max(agg, z)
			} else {
				agg += z
			}
		}
		if m.Aggregate != AggregateMax {
			agg /= float64(len(row))
		}
		scores[i] = agg
	}
	return scores, nil
}

// NumFeatures returns the number of features the model was fitted on.
func (m *Model) NumFeatures() int { return len(m.Mean) }

// FeatureImportances returns the mean absolute training z-score per feature.
func (m *Model) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}

// MarshalBinary encodes the model with a versioned envelope.
func (m *Model) MarshalBinary() ([]byte, error) {
	return detectors.EncodeArtifact(artifactVersion, (*payload)(m))
}
