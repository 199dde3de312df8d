package detectors

import "go.uber.org/zap"

// DefaultContamination is the expected proportion of anomalies when none is given.
const DefaultContamination = 0.1

// Option configures a Detector.
type Option func(*Detector)

// WithContamination sets the expected proportion of anomalies in training
// data. It must lie in the open interval (0, 1).
func WithContamination(c float64) Option {
	return func(d *Detector) {
		d.contamination = c
	}
}

// WithStandardize enables per-feature standard scaling fitted on training data.
func WithStandardize(enabled bool) Option {
	return func(d *Detector) {
		d.standardize = enabled
	}
}

// WithHyperparameters records the parameters the detector was built from so
// that archives can rebuild an identical shell.
func WithHyperparameters(h Hyperparameters) Option {
	return func(d *Detector) {
		d.params = h.Clone()
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// FitOption configures a single Fit call.
type FitOption func(*fitConfig)

type fitConfig struct {
	featureNames []string
}

// WithFeatureNames names the columns of the training matrix.
func WithFeatureNames(names ...string) FitOption {
	return func(c *fitConfig) {
		c.featureNames = append([]string(nil), names...)
	}
}
