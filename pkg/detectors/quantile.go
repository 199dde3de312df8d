package detectors

import (
	"math"
	"slices"
)

// Quantile returns the q-quantile of data using linear interpolation between
// the two nearest order statistics. q is clamped to [0, 1]. The input slice is
// not modified.
func Quantile(data []float64, q float64) (float64, error) {
	if len(data) == 0 {
		return 0, validationErrorf("quantile of empty data")
	}
	if math.IsNaN(q) {
		return 0, configErrorf("quantile %v is not a number", q)
	}
	q = math.Max(0, math.Min(1, q))

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), nil
}
