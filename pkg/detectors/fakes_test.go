package detectors

import (
	"context"
	"errors"
	"math"
)

// identityBackend scores each row by its first feature, which makes
// thresholds easy to reason about.
type identityBackend struct {
	fitErr error
	fits   int
}

func (b *identityBackend) Name() string { return "Identity" }

func (b *identityBackend) Fit(ctx context.Context, X [][]float64) (Model, error) {
	b.fits++
	if b.fitErr != nil {
		return nil, b.fitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return identityModel{}, nil
}

func (b *identityBackend) Decode(data []byte) (Model, error) {
	if string(data) != "identity" {
		return nil, errors.New("not an identity model")
	}
	return identityModel{}, nil
}

type identityModel struct{}

func (identityModel) Score(X [][]float64) ([]float64, error) {
	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = row[0]
	}
	return scores, nil
}

func (identityModel) MarshalBinary() ([]byte, error) { return []byte("identity"), nil }

// centroidBackend scores rows by Euclidean distance from the training mean.
type centroidBackend struct {
	marshalErr error
}

func (b *centroidBackend) Name() string { return "Centroid" }

func (b *centroidBackend) Fit(_ context.Context, X [][]float64) (Model, error) {
	center := make([]float64, len(X[0]))
	for _, row := range X {
		for j, v := range row {
			center[j] += v
		}
	}
	for j := range center {
		center[j] /= float64(len(X))
	}
	return &centroidModel{center: center, marshalErr: b.marshalErr}, nil
}

func (b *centroidBackend) Decode(data []byte) (Model, error) {
	var p centroidPayload
	if _, err := DecodeArtifact(data, "^1.0", &p); err != nil {
		return nil, err
	}
	return &centroidModel{center: p.Center}, nil
}

type centroidPayload struct {
	Center []float64
}

type centroidModel struct {
	center     []float64
	marshalErr error
}

func (m *centroidModel) Score(X [][]float64) ([]float64, error) {
	scores := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for j, v := range row {
			d := v - m.center[j]
			sum += d * d
		}
		scores[i] = math.Sqrt(sum)
	}
	return scores, nil
}

func (m *centroidModel) FeatureImportances() []float64 {
	out := make([]float64, len(m.center))
	for j := range out {
		out[j] = 1 / float64(len(out))
	}
	return out
}

func (m *centroidModel) MarshalBinary() ([]byte, error) {
	if m.marshalErr != nil {
		return nil, m.marshalErr
	}
	return EncodeArtifact("1.0.0", centroidPayload{Center: m.center})
}

func sequence(from, to float64) []float64 {
	var out []float64
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out
}
