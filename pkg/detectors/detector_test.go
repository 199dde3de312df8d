package detectors

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		backend Backend
		opts    []Option
		wantErr error
	}{
		{
			name:    "defaults",
			id:      "Identity",
			backend: &identityBackend{},
		},
		{
			name:    "custom contamination",
			id:      "Identity",
			backend: &identityBackend{},
			opts:    []Option{WithContamination(0.25)},
		},
		{
			name:    "zero contamination",
			id:      "Identity",
			backend: &identityBackend{},
			opts:    []Option{WithContamination(0)},
			wantErr: ErrConfig,
		},
		{
			name:    "contamination of one",
			id:      "Identity",
			backend: &identityBackend{},
			opts:    []Option{WithContamination(1)},
			wantErr: ErrConfig,
		},
		{
			name:    "NaN contamination",
			id:      "Identity",
			backend: &identityBackend{},
			opts:    []Option{WithContamination(math.NaN())},
			wantErr: ErrConfig,
		},
		{
			name:    "empty id",
			backend: &identityBackend{},
			wantErr: ErrConfig,
		},
		{
			name:    "nil backend",
			id:      "Identity",
			wantErr: ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.id, tt.backend, tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			assert.False(t, d.IsFitted())
			assert.Equal(t, tt.id, d.AlgorithmID())
			assert.Equal(t, "Identity", d.ClassName())
		})
	}
}

func TestFitThresholdFlagsContaminatedShare(t *testing.T) {
	d, err := New("Identity", &identityBackend{}, WithContamination(0.2))
	require.NoError(t, err)

	X := Column(sequence(1, 10))
	require.NoError(t, d.Fit(context.Background(), X))

	threshold, ok := d.Threshold()
	require.True(t, ok)
	assert.InDelta(t, 8.2, threshold, 1e-9)

	labels, err := d.Predict(X)
	require.NoError(t, err)

	var flagged []int
	for i, l := range labels {
		if l {
			flagged = append(flagged, i)
		}
	}
	assert.Equal(t, []int{8, 9}, flagged)
}

func TestFitThresholdInterpolatesPercentile(t *testing.T) {
	d, err := New("Identity", &identityBackend{}, WithContamination(0.1))
	require.NoError(t, err)

	// Shuffled so the threshold cannot depend on input order.
	values := sequence(1, 100)
	rand.New(rand.NewSource(7)).Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
	require.NoError(t, d.Fit(context.Background(), Column(values)))

	threshold, ok := d.Threshold()
	require.True(t, ok)
	// position 0.9 * 99 = 89.1 between order statistics 90 and 91
	assert.InDelta(t, 90.1, threshold, 1e-9)
}

func TestPredictBoundaryIsInclusive(t *testing.T) {
	d, err := New("Identity", &identityBackend{}, WithContamination(0.5))
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), Column([]float64{1, 2, 3})))

	threshold, _ := d.Threshold()
	require.Equal(t, 2.0, threshold)

	labels, err := d.Predict(Column([]float64{1.999, 2, 2.001}))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, labels)

	labels, err = d.PredictWithThreshold(Column([]float64{1, 2, 3}), 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true}, labels)
}

func TestNotFitted(t *testing.T) {
	d, err := New("Identity", &identityBackend{})
	require.NoError(t, err)

	X := Column([]float64{1, 2})

	_, err = d.PredictScore(X)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = d.Predict(X)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = d.PredictWithThreshold(X, 1)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = d.Snapshot()
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = d.FeatureImportances()
	assert.ErrorIs(t, err, ErrNotFitted)

	_, ok := d.Threshold()
	assert.False(t, ok)
	assert.Nil(t, d.Attributes())
	assert.False(t, d.Supports(CapabilityFeatureImportance))
}

func TestFitValidation(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
	}{
		{name: "empty data", data: [][]float64{}},
		{name: "no features", data: [][]float64{{}, {}}},
		{name: "ragged rows", data: [][]float64{{1, 2}, {3}}},
		{name: "NaN value", data: [][]float64{{1, 2}, {math.NaN(), 4}}},
		{name: "infinite value", data: [][]float64{{1, math.Inf(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &identityBackend{}
			d, err := New("Identity", backend)
			require.NoError(t, err)

			err = d.Fit(context.Background(), tt.data)
			assert.ErrorIs(t, err, ErrValidation)
			assert.False(t, d.IsFitted())
			assert.Zero(t, backend.fits, "backend must not run on invalid data")
		})
	}
}

func TestFitFeatureNames(t *testing.T) {
	d, err := New("Centroid", &centroidBackend{})
	require.NoError(t, err)

	X := [][]float64{{1, 2}, {3, 4}}

	err = d.Fit(context.Background(), X, WithFeatureNames("only-one"))
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, d.Fit(context.Background(), X, WithFeatureNames("cpu", "mem")))
	names, ok := d.Attributes().Strings(AttrFeatureNames)
	require.True(t, ok)
	assert.Equal(t, []string{"cpu", "mem"}, names)

	require.NoError(t, d.Fit(context.Background(), X))
	names, _ = d.Attributes().Strings(AttrFeatureNames)
	assert.Equal(t, []string{"x0", "x1"}, names)

	n, ok := d.Attributes().Int(AttrNFeatures)
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestFailedFitKeepsPreviousState(t *testing.T) {
	backend := &identityBackend{}
	d, err := New("Identity", backend)
	require.NoError(t, err)

	X := Column(sequence(1, 10))
	require.NoError(t, d.Fit(context.Background(), X))
	before, _ := d.Threshold()
	attrsBefore := d.Attributes()

	backend.fitErr = errors.New("training diverged")
	err = d.Fit(context.Background(), Column(sequence(100, 200)))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.fitErr)
	assert.Contains(t, err.Error(), "backend Identity")

	after, ok := d.Threshold()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, attrsBefore, d.Attributes())

	scores, err := d.PredictScore(X)
	require.NoError(t, err)
	assert.Equal(t, sequence(1, 10), scores)
}

func TestFitCanceled(t *testing.T) {
	d, err := New("Identity", &identityBackend{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = d.Fit(ctx, Column([]float64{1, 2, 3}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, d.IsFitted())
}

func TestRefitReplacesState(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dataA := generateTestData(rng, 50, 3, 100)
	dataB := generateTestData(rng, 80, 3, 0)
	probe := generateTestData(rng, 20, 3, 10)

	refit, err := New("Centroid", &centroidBackend{}, WithStandardize(true))
	require.NoError(t, err)
	require.NoError(t, refit.Fit(context.Background(), dataA))
	require.NoError(t, refit.Fit(context.Background(), dataB))

	fresh, err := New("Centroid", &centroidBackend{}, WithStandardize(true))
	require.NoError(t, err)
	require.NoError(t, fresh.Fit(context.Background(), dataB))

	refitScores, err := refit.PredictScore(probe)
	require.NoError(t, err)
	freshScores, err := fresh.PredictScore(probe)
	require.NoError(t, err)
	assert.Equal(t, freshScores, refitScores)

	t1, _ := refit.Threshold()
	t2, _ := fresh.Threshold()
	assert.Equal(t, t2, t1)
	assert.Equal(t, fresh.Attributes(), refit.Attributes())
}

func TestFitDoesNotAliasInput(t *testing.T) {
	d, err := New("Identity", &identityBackend{})
	require.NoError(t, err)

	X := Column([]float64{1, 2, 3})
	require.NoError(t, d.Fit(context.Background(), X))
	X[0][0] = 1000

	attrs := d.Attributes()
	attrs[AttrNFeatures] = 99
	n, _ := d.Attributes().Int(AttrNFeatures)
	assert.Equal(t, 1, n)
}

func TestPredictScoreShapeMismatch(t *testing.T) {
	d, err := New("Centroid", &centroidBackend{})
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), [][]float64{{1, 2}, {2, 3}, {3, 4}}))

	_, err = d.PredictScore([][]float64{{1, 2, 3}})
	require.ErrorIs(t, err, ErrShapeMismatch)
	var sme *ShapeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, 2, sme.Expected)
	assert.Equal(t, 3, sme.Got)

	_, err = d.PredictScore([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrValidation)

	scores, err := d.PredictScore(nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestFitDeterministic(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(3)), 100, 4, 0)

	var thresholds []float64
	var scores [][]float64
	for i := 0; i < 3; i++ {
		d, err := New("Centroid", &centroidBackend{}, WithStandardize(true))
		require.NoError(t, err)
		require.NoError(t, d.Fit(context.Background(), data))
		th, _ := d.Threshold()
		s, err := d.PredictScore(data)
		require.NoError(t, err)
		thresholds = append(thresholds, th)
		scores = append(scores, s)
	}
	assert.Equal(t, thresholds[0], thresholds[1])
	assert.Equal(t, thresholds[0], thresholds[2])
	assert.Equal(t, scores[0], scores[2])
}

func TestStandardizeAttributes(t *testing.T) {
	d, err := New("Centroid", &centroidBackend{}, WithStandardize(true))
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), [][]float64{{1, 5}, {3, 5}}))

	attrs := d.Attributes()
	mean, ok := attrs.Floats(AttrScalerMean)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 5}, mean)

	scale, ok := attrs.Floats(AttrScalerScale)
	require.True(t, ok)
	// constant second column keeps unit scale
	assert.Equal(t, []float64{1, 1}, scale)
}

func TestSnapshotRestore(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(5)), 60, 3, 0)

	original, err := New("Centroid", &centroidBackend{}, WithStandardize(true), WithContamination(0.05))
	require.NoError(t, err)
	require.NoError(t, original.Fit(context.Background(), data, WithFeatureNames("a", "b", "c")))

	snap, err := original.Snapshot()
	require.NoError(t, err)

	restored, err := New("Centroid", &centroidBackend{}, WithStandardize(true), WithContamination(0.05))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))
	require.True(t, restored.IsFitted())

	want, err := original.PredictScore(data)
	require.NoError(t, err)
	got, err := restored.PredictScore(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t1, _ := original.Threshold()
	t2, _ := restored.Threshold()
	assert.Equal(t, t1, t2)
}

func TestRestoreRejectsInconsistentSnapshots(t *testing.T) {
	good := func() *Snapshot {
		return &Snapshot{
			Threshold:  1.5,
			Attributes: Attributes{AttrNFeatures: 1, AttrFeatureNames: []string{"x0"}},
			Backend:    []byte("identity"),
		}
	}

	tests := []struct {
		name     string
		mutate   func(s *Snapshot)
		wantPart string
	}{
		{name: "NaN threshold", mutate: func(s *Snapshot) { s.Threshold = math.NaN() }, wantPart: "threshold"},
		{name: "missing n_features", mutate: func(s *Snapshot) { delete(s.Attributes, AttrNFeatures) }, wantPart: "attributes"},
		{name: "feature names mismatch", mutate: func(s *Snapshot) { s.Attributes[AttrFeatureNames] = []string{"a", "b"} }, wantPart: "attributes"},
		{name: "unexpected scaler", mutate: func(s *Snapshot) {
			s.Attributes[AttrScalerMean] = []float64{0}
			s.Attributes[AttrScalerScale] = []float64{1}
		}, wantPart: "attributes"},
		{name: "half a scaler", mutate: func(s *Snapshot) { s.Attributes[AttrScalerMean] = []float64{0} }, wantPart: "attributes"},
		{name: "bad backend bytes", mutate: func(s *Snapshot) { s.Backend = []byte("garbage") }, wantPart: "backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New("Identity", &identityBackend{})
			require.NoError(t, err)
			require.NoError(t, d.Fit(context.Background(), Column([]float64{1, 2, 3, 4})))
			before, _ := d.Threshold()

			s := good()
			tt.mutate(s)
			err = d.Restore(s)

			var re *RestoreError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.wantPart, re.Part)

			after, ok := d.Threshold()
			require.True(t, ok, "failed restore must keep the previous fit")
			assert.Equal(t, before, after)
		})
	}
}

func TestRestoreAcceptsJSONShapedAttributes(t *testing.T) {
	d, err := New("Identity", &identityBackend{})
	require.NoError(t, err)

	err = d.Restore(&Snapshot{
		Threshold:  2,
		Attributes: Attributes{AttrNFeatures: float64(1), AttrFeatureNames: []any{"value"}},
		Backend:    []byte("identity"),
	})
	require.NoError(t, err)

	labels, err := d.Predict(Column([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, labels)
}

func TestSnapshotBackendFailure(t *testing.T) {
	d, err := New("Centroid", &centroidBackend{marshalErr: errors.New("disk model too large")})
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), [][]float64{{1}, {2}}))

	_, err = d.Snapshot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk model too large")
}

func TestFeatureImportancesCapability(t *testing.T) {
	plain, err := New("Identity", &identityBackend{})
	require.NoError(t, err)
	require.NoError(t, plain.Fit(context.Background(), Column([]float64{1, 2})))
	assert.False(t, plain.Supports(CapabilityFeatureImportance))
	_, err = plain.FeatureImportances()
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)

	rich, err := New("Centroid", &centroidBackend{})
	require.NoError(t, err)
	require.NoError(t, rich.Fit(context.Background(), [][]float64{{1, 2}, {3, 4}}))
	assert.True(t, rich.Supports(CapabilityFeatureImportance))
	imp, err := rich.FeatureImportances()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, imp)
}

func TestConcurrentPredictScore(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(9)), 200, 4, 0)
	d, err := New("Centroid", &centroidBackend{}, WithStandardize(true))
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), data))

	want, err := d.PredictScore(data)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.PredictScore(data)
			if err != nil {
				errs <- err
				return
			}
			if !assert.ObjectsAreEqual(want, got) {
				errs <- errors.New("scores differ between concurrent readers")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestPredictStream(t *testing.T) {
	d, err := New("Identity", &identityBackend{}, WithContamination(0.2))
	require.NoError(t, err)
	require.NoError(t, d.Fit(context.Background(), Column(sequence(1, 10))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []float64, 4)
	output := make(chan Score, 4)

	input <- []float64{1}
	input <- []float64{10}
	input <- []float64{1, 2} // wrong width
	close(input)

	require.NoError(t, d.PredictStream(ctx, input, output))
	close(output)

	var results []Score
	for s := range output {
		results = append(results, s)
	}
	require.Len(t, results, 3)
	assert.False(t, results[0].IsAnomaly)
	assert.True(t, results[1].IsAnomaly)
	assert.Equal(t, 10.0, results[1].Value)
	assert.ErrorIs(t, results[2].Err, ErrShapeMismatch)
}

func TestPredictStreamNotFitted(t *testing.T) {
	d, err := New("Identity", &identityBackend{})
	require.NoError(t, err)

	err = d.PredictStream(context.Background(), make(chan []float64), make(chan Score))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(rand.New(rand.NewSource(1)), 10000, 10, 0)
	d, _ := New("Centroid", &centroidBackend{}, WithStandardize(true))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Fit(context.Background(), data)
	}
}

func BenchmarkPredictScore(b *testing.B) {
	data := generateTestData(rand.New(rand.NewSource(1)), 5000, 10, 0)
	d, _ := New("Centroid", &centroidBackend{}, WithStandardize(true))
	_ = d.Fit(context.Background(), data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.PredictScore(data)
	}
}

func generateTestData(rng *rand.Rand, n, features int, offset float64) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = offset + rng.NormFloat64()
		}
	}
	return data
}
