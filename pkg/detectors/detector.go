// Package detectors provides the lifecycle shared by every anomaly detector:
// input validation, delegation to a pluggable Backend, contamination-based
// auto-thresholding and the fitted state that archives persist.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/omniad/pkg/metrics"
)

// Scorer is the scoring contract every detector satisfies.
type Scorer interface {
	// Fit trains the detector on X, where each row is a sample and each
	// column is a feature.
	Fit(ctx context.Context, X [][]float64, opts ...FitOption) error

	// PredictScore returns one anomaly score per row; higher is more anomalous.
	PredictScore(X [][]float64) ([]float64, error)

	// Predict flags rows whose score is at or above the fitted threshold.
	Predict(X [][]float64) ([]bool, error)
}

var _ Scorer = (*Detector)(nil)

// Detector wraps a Backend with the Unfitted -> Fitted lifecycle.
//
// Fit holds the write lock for its whole duration; scoring and snapshots hold
// the read lock, so concurrent readers never observe a fit in progress.
type Detector struct {
	mu sync.RWMutex

	algorithmID   string
	backend       Backend
	contamination float64
	standardize   bool
	params        Hyperparameters
	logger        *zap.Logger

	// nil while Unfitted; replaced as a whole on every successful fit or restore.
	state *fittedState
}

// fittedState groups everything a fit produces so it can be committed atomically.
type fittedState struct {
	model      Model
	attributes Attributes
	threshold  float64
	nFeatures  int
	scaler     *scaler
}

// New creates an Unfitted detector for algorithmID backed by backend.
func New(algorithmID string, backend Backend, opts ...Option) (*Detector, error) {
	d := &Detector{
		algorithmID:   algorithmID,
		backend:       backend,
		contamination: DefaultContamination,
		params:        Hyperparameters{},
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if algorithmID == "" {
		return nil, configErrorf("algorithm id is empty")
	}
	if backend == nil {
		return nil, configErrorf("backend is nil")
	}
	if !(d.contamination > 0 && d.contamination < 1) {
		return nil, configErrorf("contamination %v must be in (0, 1)", d.contamination)
	}

	d.logger = d.logger.With(zap.String("algorithm", algorithmID))
	return d, nil
}

// AlgorithmID returns the registry key of this detector.
func (d *Detector) AlgorithmID() string { return d.algorithmID }

// ClassName returns the backend variant name.
func (d *Detector) ClassName() string { return d.backend.Name() }

// Contamination returns the configured contamination.
func (d *Detector) Contamination() float64 { return d.contamination }

// Hyperparameters returns a copy of the construction parameters with the
// effective contamination and standardize settings, so options applied on
// top of the parameters survive an archive round trip.
func (d *Detector) Hyperparameters() Hyperparameters {
	h := d.params.Clone()
	h[ParamContamination] = d.contamination
	h[ParamStandardize] = d.standardize
	return h
}

// IsFitted reports whether the detector holds a fitted model.
func (d *Detector) IsFitted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state != nil
}

// Threshold returns the fitted decision threshold.
func (d *Detector) Threshold() (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state == nil {
		return 0, false
	}
	return d.state.threshold, true
}

// Attributes returns a copy of the fit-time attributes, or nil when Unfitted.
func (d *Detector) Attributes() Attributes {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state == nil {
		return nil
	}
	return d.state.attributes.Clone()
}

// Fit validates X, trains the backend, calibrates the threshold on the
// training scores and commits the result. On error the detector keeps its
// previous state.
func (d *Detector) Fit(ctx context.Context, X [][]float64, opts ...FitOption) error {
	var cfg fitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	st, err := d.fit(ctx, X, cfg)
	metrics.ObserveFit(d.algorithmID, start, err)
	if err != nil {
		d.logger.Debug("fit failed", zap.Error(err))
		return err
	}

	d.state = st
	d.logger.Info("detector fitted",
		zap.Int("rows", len(X)),
		zap.Int("features", st.nFeatures),
		zap.Float64("threshold", st.threshold),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (d *Detector) fit(ctx context.Context, X [][]float64, cfg fitConfig) (*fittedState, error) {
	data, err := ValidateMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	nFeatures := len(data[0])

	names := cfg.featureNames
	if names == nil {
		names = make([]string, nFeatures)
		for j := range names {
			names[j] = fmt.Sprintf("x%d", j)
		}
	}
	if len(names) != nFeatures {
		return nil, fmt.Errorf("fit: %w", validationErrorf("%d feature names for %d features", len(names), nFeatures))
	}

	st := &fittedState{
		nFeatures: nFeatures,
		attributes: Attributes{
			AttrNFeatures:    nFeatures,
			AttrNSamples:     len(data),
			AttrFeatureNames: names,
		},
	}

	if d.standardize {
		st.scaler = fitScaler(data)
		st.attributes[AttrScalerMean] = st.scaler.mean
		st.attributes[AttrScalerScale] = st.scaler.scale
		data = st.scaler.transform(data)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	model, err := d.backend.Fit(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("fit: backend %s: %w", d.backend.Name(), err)
	}
	if model == nil {
		return nil, fmt.Errorf("fit: backend %s returned no model", d.backend.Name())
	}
	st.model = model

	// In-sample calibration: the threshold is derived from training scores.
	scores, err := scoreModel(model, data)
	if err != nil {
		return nil, fmt.Errorf("fit: score training data: %w", err)
	}
	st.threshold, err = Quantile(scores, 1-d.contamination)
	if err != nil {
		return nil, fmt.Errorf("fit: threshold: %w", err)
	}

	return st, nil
}

// PredictScore returns anomaly scores for X.
func (d *Detector) PredictScore(X [][]float64) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return nil, ErrNotFitted
	}
	scores, err := d.state.score(X)
	if err != nil {
		return nil, err
	}
	metrics.RowsScoredTotal.WithLabelValues(d.algorithmID).Add(float64(len(scores)))
	return scores, nil
}

// Predict flags rows whose score is at or above the fitted threshold.
func (d *Detector) Predict(X [][]float64) ([]bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return nil, ErrNotFitted
	}
	return d.state.predict(X, d.state.threshold)
}

// PredictWithThreshold flags rows whose score is at or above threshold.
func (d *Detector) PredictWithThreshold(X [][]float64, threshold float64) ([]bool, error) {
	if math.IsNaN(threshold) {
		return nil, configErrorf("threshold is NaN")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return nil, ErrNotFitted
	}
	return d.state.predict(X, threshold)
}

// Supports reports whether the fitted model provides capability c.
func (d *Detector) Supports(c Capability) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state != nil && modelSupports(d.state.model, c)
}

// FeatureImportances returns per-feature importances when the backend model
// provides them.
func (d *Detector) FeatureImportances() ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return nil, ErrNotFitted
	}
	fi, ok := d.state.model.(FeatureImportancer)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no feature importances", ErrCapabilityUnsupported, d.backend.Name())
	}
	return append([]float64(nil), fi.FeatureImportances()...), nil
}

func (st *fittedState) score(X [][]float64) ([]float64, error) {
	if len(X) == 0 {
		return []float64{}, nil
	}
	if len(X[0]) != st.nFeatures {
		return nil, &ShapeMismatchError{Expected: st.nFeatures, Got: len(X[0])}
	}
	if err := checkRows(X, st.nFeatures); err != nil {
		return nil, err
	}

	data := X
	if st.scaler != nil {
		data = st.scaler.transform(X)
	}
	return scoreModel(st.model, data)
}

func (st *fittedState) predict(X [][]float64, threshold float64) ([]bool, error) {
	scores, err := st.score(X)
	if err != nil {
		return nil, err
	}
	labels := make([]bool, len(scores))
	for i, s := range scores {
		labels[i] = s >= threshold
	}
	return labels, nil
}

// scoreModel calls the backend and checks that it honours the Model contract.
func scoreModel(m Model, X [][]float64) ([]float64, error) {
	scores, err := m.Score(X)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(X) {
		return nil, fmt.Errorf("backend returned %d scores for %d rows", len(scores), len(X))
	}
	for i, s := range scores {
		if math.IsNaN(s) {
			return nil, fmt.Errorf("backend returned NaN score for row %d", i)
		}
	}
	return scores, nil
}

// Snapshot is the serializable fitted state of a Detector.
type Snapshot struct {
	Threshold  float64
	Attributes Attributes
	Backend    []byte
}

// Snapshot captures the fitted state for persistence. Backend holds the
// model's own encoding.
func (d *Detector) Snapshot() (*Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return nil, ErrNotFitted
	}
	raw, err := d.state.model.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s model: %w", d.backend.Name(), err)
	}
	return &Snapshot{
		Threshold:  d.state.threshold,
		Attributes: d.state.attributes.Clone(),
		Backend:    raw,
	}, nil
}

// RestoreError identifies which part of a Snapshot could not be restored.
type RestoreError struct {
	Part string // "threshold", "attributes" or "backend"
	Err  error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s: %v", e.Part, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Restore replaces the detector state with s in a single commit. Every part is
// decoded and validated before anything is assigned, so a failed Restore
// leaves the detector unchanged.
func (d *Detector) Restore(s *Snapshot) error {
	if s == nil {
		return &RestoreError{Part: "snapshot", Err: errors.New("snapshot is nil")}
	}
	if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) {
		return &RestoreError{Part: "threshold", Err: fmt.Errorf("threshold %v is not finite", s.Threshold)}
	}

	attrs := s.Attributes.Clone()
	nFeatures, ok := attrs.Int(AttrNFeatures)
	if !ok || nFeatures <= 0 {
		return &RestoreError{Part: "attributes", Err: fmt.Errorf("missing or invalid %s", AttrNFeatures)}
	}
	if names, ok := attrs.Strings(AttrFeatureNames); ok && len(names) != nFeatures {
		return &RestoreError{Part: "attributes", Err: fmt.Errorf("%d feature names for %d features", len(names), nFeatures)}
	}
	sc, err := scalerFromAttributes(attrs, nFeatures)
	if err != nil {
		return &RestoreError{Part: "attributes", Err: err}
	}
	if sc != nil && !d.standardize {
		return &RestoreError{Part: "attributes", Err: errors.New("scaler present but standardization is disabled")}
	}
	if sc == nil && d.standardize {
		return &RestoreError{Part: "attributes", Err: errors.New("standardization enabled but scaler is missing")}
	}

	model, err := d.backend.Decode(s.Backend)
	if err != nil {
		return &RestoreError{Part: "backend", Err: err}
	}
	if model == nil {
		return &RestoreError{Part: "backend", Err: errors.New("backend decoded no model")}
	}
	if fc, ok := model.(FeatureCounter); ok && fc.NumFeatures() != nFeatures {
		return &RestoreError{Part: "backend", Err: fmt.Errorf("model has %d features, attributes declare %d", fc.NumFeatures(), nFeatures)}
	}

	st := &fittedState{
		model:      model,
		attributes: attrs,
		threshold:  s.Threshold,
		nFeatures:  nFeatures,
		scaler:     sc,
	}

	d.mu.Lock()
	d.state = st
	d.mu.Unlock()

	d.logger.Debug("detector restored", zap.Float64("threshold", st.threshold), zap.Int("features", nFeatures))
	return nil
}
