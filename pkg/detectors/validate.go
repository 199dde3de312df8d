package detectors

import "math"

// ValidateMatrix checks that X is a non-empty, rectangular matrix of finite
// values and returns a deep copy so later caller mutations cannot leak into a
// fitted model.
func ValidateMatrix(X [][]float64) ([][]float64, error) {
	if len(X) == 0 {
		return nil, validationErrorf("no samples")
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return nil, validationErrorf("samples have no features")
	}
	if err := checkRows(X, nFeatures); err != nil {
		return nil, err
	}

	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = append([]float64(nil), row...)
	}
	return out, nil
}

// checkRows verifies every row has nFeatures finite values.
func checkRows(X [][]float64, nFeatures int) error {
	for i, row := range X {
		if len(row) != nFeatures {
			return validationErrorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return validationErrorf("row %d feature %d is not finite", i, j)
			}
		}
	}
	return nil
}

// Column reshapes a one-dimensional series into a single-feature matrix.
func Column(values []float64) [][]float64 {
	X := make([][]float64, len(values))
	for i, v := range values {
		X[i] = []float64{v}
	}
	return X
}
