package detectors

import (
	"context"
	"encoding"
)

// Backend is the numerical engine behind a Detector. It trains a Model on a
// validated feature matrix and decodes Models it previously encoded.
type Backend interface {
	// Name identifies the concrete variant, e.g. "IsolationForest". It is
	// persisted as the archive class name.
	Name() string

	// Fit trains a new Model. Implementations that support cancellation
	// return ctx.Err() (possibly wrapped) when ctx is done.
	Fit(ctx context.Context, X [][]float64) (Model, error)

	// Decode restores a Model from bytes produced by Model.MarshalBinary.
	// The backend owns the format and its version compatibility.
	Decode(data []byte) (Model, error)
}

// Model is a trained backend artifact.
// Score must be safe for concurrent use and return one value per row, where
// higher values mean more anomalous.
type Model interface {
	encoding.BinaryMarshaler
	Score(X [][]float64) ([]float64, error)
}

// FeatureImportancer is an optional Model capability reporting how much each
// feature contributes to the anomaly scores.
type FeatureImportancer interface {
	FeatureImportances() []float64
}

// FeatureCounter is an optional Model capability reporting the input width
// the model was trained on. Restore uses it to reject a model that does not
// match the persisted attributes.
type FeatureCounter interface {
	NumFeatures() int
}

// Capability names an optional Model capability.
type Capability string

const (
	// CapabilityFeatureImportance is satisfied by models implementing FeatureImportancer.
	CapabilityFeatureImportance Capability = "feature_importance"
)

func modelSupports(m Model, c Capability) bool {
	switch c {
	case CapabilityFeatureImportance:
		_, ok := m.(FeatureImportancer)
		return ok
	}
	return false
}
