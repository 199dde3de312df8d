package detectors

import "math"

// scaler standardizes features to zero mean and unit variance.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(X [][]float64) *scaler {
	nFeatures := len(X[0])
	n := float64(len(X))
	s := &scaler{
		mean:  make([]float64, nFeatures),
		scale: make([]float64, nFeatures),
	}
	for _, row := range X {
		for j, v := range row {
			s.mean[j] += v
		}
	}
	for j := range s.mean {
		s.mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.mean[j]
			s.scale[j] += d * d
		}
	}
	for j := range s.scale {
		s.scale[j] = math.Sqrt(s.scale[j] / n)
		// Constant features keep their offset removed but are not scaled.
		if s.scale[j] == 0 {
			s.scale[j] = 1
		}
	}
	return s
}

func (s *scaler) transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.mean[j]) / s.scale[j]
		}
		out[i] = r
	}
	return out
}

// scalerFromAttributes rebuilds a scaler, returning nil when none was fitted.
func scalerFromAttributes(a Attributes, nFeatures int) (*scaler, error) {
	mean, hasMean := a.Floats(AttrScalerMean)
	scale, hasScale := a.Floats(AttrScalerScale)
	if !hasMean && !hasScale {
		return nil, nil
	}
	if !hasMean || !hasScale {
		return nil, validationErrorf("scaler attributes are incomplete")
	}
	if len(mean) != nFeatures || len(scale) != nFeatures {
		return nil, validationErrorf("scaler has %d/%d entries, expected %d", len(mean), len(scale), nFeatures)
	}
	for _, v := range scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, validationErrorf("scaler scale %v is invalid", v)
		}
	}
	return &scaler{mean: mean, scale: scale}, nil
}
