package zscore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/omniad/pkg/detectors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		params  detectors.Hyperparameters
		wantErr bool
	}{
		{name: "defaults", params: nil},
		{name: "max aggregate", params: detectors.Hyperparameters{ParamAggregate: "max"}},
		{name: "unknown aggregate", params: detectors.Hyperparameters{ParamAggregate: "median"}, wantErr: true},
		{name: "unknown key", params: detectors.Hyperparameters{"window": 10}, wantErr: true},
		{name: "aggregate not a string", params: detectors.Hyperparameters{ParamAggregate: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, detectors.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, AlgorithmID, d.AlgorithmID())
		})
	}
}

func TestScore(t *testing.T) {
	// Feature 0: mean 2, std 1. Feature 1: constant 10, std forced to 1.
	train := [][]float64{{1, 10}, {3, 10}, {1, 10}, {3, 10}}

	tests := []struct {
		agg    Aggregate
		sample []float64
		want   float64
	}{
		{agg: AggregateMean, sample: []float64{2, 10}, want: 0},
		{agg: AggregateMean, sample: []float64{4, 10}, want: 1},
		{agg: AggregateMean, sample: []float64{4, 13}, want: 2.5},
		{agg: AggregateMax, sample: []float64{4, 13}, want: 3},
		{agg: AggregateMax, sample: []float64{0, 10}, want: 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			b, err := NewBackend(tt.agg)
			require.NoError(t, err)
			m, err := b.Fit(context.Background(), train)
			require.NoError(t, err)

			scores, err := m.Score([][]float64{tt.sample})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, scores[0], 1e-12)
		})
	}
}

func TestImportances(t *testing.T) {
	b, err := NewBackend(AggregateMean)
	require.NoError(t, err)
	m, err := b.Fit(context.Background(), [][]float64{{1, 10}, {3, 10}})
	require.NoError(t, err)

	fi, ok := m.(detectors.FeatureImportancer)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, fi.FeatureImportances())
}

func TestDetectorFlagsOutliers(t *testing.T) {
	d, err := New(detectors.Hyperparameters{detectors.ParamContamination: 0.1})
	require.NoError(t, err)

	var X [][]float64
	for i := 0; i < 50; i++ {
		X = append(X, []float64{float64(i % 5), float64(i % 3)})
	}
	require.NoError(t, d.Fit(context.Background(), X))

	labels, err := d.Predict([][]float64{{2, 1}, {50, 40}})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, labels)
}

func TestMarshalRoundTrip(t *testing.T) {
	b, err := NewBackend(AggregateMax)
	require.NoError(t, err)
	m, err := b.Fit(context.Background(), [][]float64{{1, 2}, {2, 4}, {3, 9}})
	require.NoError(t, err)

	raw, err := m.MarshalBinary()
	require.NoError(t, err)

	// Decode ignores the receiver's aggregate and trusts the artifact.
	other, err := NewBackend(AggregateMean)
	require.NoError(t, err)
	restored, err := other.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, m, restored)

	probe := [][]float64{{0, 0}, {5, 5}}
	want, _ := m.Score(probe)
	got, _ := restored.Score(probe)
	assert.Equal(t, want, got)
}

func TestDecodeRejectsBadModels(t *testing.T) {
	b, err := NewBackend(AggregateMean)
	require.NoError(t, err)

	tests := []struct {
		name  string
		model payload
	}{
		{name: "empty", model: payload{Aggregate: AggregateMean}},
		{name: "length mismatch", model: payload{Aggregate: AggregateMean, Mean: []float64{1, 2}, StdDev: []float64{1}}},
		{name: "zero deviation", model: payload{Aggregate: AggregateMean, Mean: []float64{1}, StdDev: []float64{0}}},
		{name: "unknown aggregate", model: payload{Aggregate: "sum", Mean: []float64{1}, StdDev: []float64{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := detectors.EncodeArtifact(artifactVersion, tt.model)
			require.NoError(t, err)
			_, err = b.Decode(raw)
			assert.Error(t, err)
		})
	}

	_, err = b.Decode([]byte("not gob"))
	assert.Error(t, err)
}

func TestScoreShapeMismatch(t *testing.T) {
	m := &Model{Aggregate: AggregateMean, Mean: []float64{0, 0}, StdDev: []float64{1, 1}}
	_, err := m.Score([][]float64{{1}})
	assert.ErrorIs(t, err, detectors.ErrShapeMismatch)
}
