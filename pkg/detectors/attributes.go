package detectors

import (
	"math"
	"slices"
)

// Well-known attribute names populated during Fit.
const (
	AttrNFeatures    = "n_features"
	AttrNSamples     = "n_samples"
	AttrFeatureNames = "feature_names"
	AttrScalerMean   = "scaler_mean"
	AttrScalerScale  = "scaler_scale"
)

// Attributes holds statistics derived at fit time that are needed to
// reproduce preprocessing at predict time. Values are scalars, strings or
// slices of them. After a JSON round trip numbers arrive as float64 and slices
// as []any; the typed accessors accept both forms.
type Attributes map[string]any

// Int returns an integral attribute.
func (a Attributes) Int(name string) (int, bool) {
	switch v := a[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

// Floats returns a numeric slice attribute.
func (a Attributes) Floats(name string) ([]float64, bool) {
	switch v := a[name].(type) {
	case []float64:
		return v, true
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// Strings returns a string slice attribute.
func (a Attributes) Strings(name string) ([]string, bool) {
	switch v := a[name].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// Clone returns a deep copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []float64:
		return slices.Clone(t)
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	}
	return v
}
