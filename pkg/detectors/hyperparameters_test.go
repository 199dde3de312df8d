package detectors

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperparametersCheck(t *testing.T) {
	h := Hyperparameters{"contamination": 0.1, "n_estimators": 10}
	assert.NoError(t, h.Check("contamination", "n_estimators", "seed"))

	err := Hyperparameters{"zeta": 1, "alpha": 2, "contamination": 0.1}.Check("contamination")
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "alpha, zeta")
}

func TestHyperparametersAccessors(t *testing.T) {
	h := Hyperparameters{
		"f":       0.25,
		"i":       7,
		"whole":   float64(12),
		"frac":    1.5,
		"num":     json.Number("9007199254740993"),
		"b":       true,
		"s":       "max",
		"wrong":   "text",
		"missing": nil,
	}

	f, err := h.Float("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)

	f, err = h.Float("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 7.0, f)

	n, err := h.Int("whole", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	big, err := h.Int64("num", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), big)

	_, err = h.Int("frac", 0)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = h.Float("wrong", 0)
	assert.ErrorIs(t, err, ErrConfig)

	b, err := h.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)

	s, err := h.String("s", "mean")
	require.NoError(t, err)
	assert.Equal(t, "max", s)

	n, err = h.Int("missing", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	s, err = h.String("absent", "mean")
	require.NoError(t, err)
	assert.Equal(t, "mean", s)
}

func TestCommonOptions(t *testing.T) {
	h := Hyperparameters{ParamContamination: 0.3, ParamStandardize: true}
	opts, err := h.CommonOptions()
	require.NoError(t, err)

	d, err := New("Identity", &identityBackend{}, opts...)
	require.NoError(t, err)
	assert.Equal(t, 0.3, d.Contamination())
	assert.Equal(t, h, d.Hyperparameters())

	// returned parameters are a copy
	got := d.Hyperparameters()
	got[ParamContamination] = 0.9
	assert.Equal(t, 0.3, d.Hyperparameters()[ParamContamination])

	_, err = Hyperparameters{ParamStandardize: "yes"}.CommonOptions()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestHyperparametersReflectOptions(t *testing.T) {
	d, err := New("Identity", &identityBackend{},
		WithHyperparameters(Hyperparameters{"window": 5}),
		WithStandardize(true),
		WithContamination(0.25),
	)
	require.NoError(t, err)

	assert.Equal(t, Hyperparameters{
		"window":           5,
		ParamContamination: 0.25,
		ParamStandardize:   true,
	}, d.Hyperparameters())

	plain, err := New("Identity", &identityBackend{})
	require.NoError(t, err)
	assert.Equal(t, Hyperparameters{
		ParamContamination: DefaultContamination,
		ParamStandardize:   false,
	}, plain.Hyperparameters())
}

func TestAttributesAccessors(t *testing.T) {
	var fromJSON Attributes
	require.NoError(t, json.Unmarshal([]byte(`{"n_features":3,"scaler_mean":[1,2.5],"feature_names":["a","b"],"bad":[1,"x"]}`), &fromJSON))

	n, ok := fromJSON.Int(AttrNFeatures)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	mean, ok := fromJSON.Floats(AttrScalerMean)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2.5}, mean)

	names, ok := fromJSON.Strings(AttrFeatureNames)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, names)

	_, ok = fromJSON.Floats("bad")
	assert.False(t, ok)
	_, ok = fromJSON.Int("absent")
	assert.False(t, ok)

	clone := fromJSON.Clone()
	clone["scaler_mean"].([]any)[0] = 100.0
	mean, _ = fromJSON.Floats(AttrScalerMean)
	assert.Equal(t, 1.0, mean[0])
}

func TestArtifactEnvelope(t *testing.T) {
	type body struct {
		Values []float64
	}

	data, err := EncodeArtifact("1.2.0", body{Values: []float64{1, 2}})
	require.NoError(t, err)

	var got body
	version, err := DecodeArtifact(data, "^1.0", &got)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", version)
	assert.Equal(t, []float64{1, 2}, got.Values)

	future, err := EncodeArtifact("2.0.0", body{})
	require.NoError(t, err)
	_, err = DecodeArtifact(future, "^1.0", &got)
	assert.ErrorIs(t, err, ErrIncompatibleArtifact)

	_, err = EncodeArtifact("not-a-version", body{})
	assert.Error(t, err)

	_, err = DecodeArtifact([]byte("garbage"), "^1.0", &got)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncompatibleArtifact)
}
