package detectors

import "context"

// Score represents an anomaly detection result for one sample.
type Score struct {
	// Value is the raw anomaly score.
	Value float64
	// IsAnomaly indicates if the score reaches the threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Err is set when the sample could not be scored; Value is then zero.
	Err error
}

// PredictStream scores samples from input until it is closed or ctx is done.
// Samples that fail validation are emitted with Err set instead of being dropped.
func (d *Detector) PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error {
	if !d.IsFitted() {
		return ErrNotFitted
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			out := Score{Features: sample}
			flagged, value, err := d.scoreOne(sample)
			if err != nil {
				out.Err = err
			} else {
				out.Value = value
				out.IsAnomaly = flagged
			}

			select {
			case output <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (d *Detector) scoreOne(sample []float64) (bool, float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state == nil {
		return false, 0, ErrNotFitted
	}
	scores, err := d.state.score([][]float64{sample})
	if err != nil {
		return false, 0, err
	}
	return scores[0] >= d.state.threshold, scores[0], nil
}
