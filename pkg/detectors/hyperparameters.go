package detectors

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
	"strings"
)

// Common hyperparameter keys understood by every detector.
const (
	ParamContamination = "contamination"
	ParamStandardize   = "standardize"
)

// Hyperparameters configures a detector built through the registry. Values
// may come from Go code, YAML or JSON, so numeric accessors accept any Go
// number type and integral float64 values.
type Hyperparameters map[string]any

// Check fails with ErrConfig when a key outside allowed is present.
func (h Hyperparameters) Check(allowed ...string) error {
	var unknown []string
	for k := range h {
		if !slices.Contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return configErrorf("unknown hyperparameters: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Float returns key as a float64 or def when absent.
func (h Hyperparameters) Float(key string, def float64) (float64, error) {
	v, ok := h[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, configErrorf("%s: %v", key, err)
		}
		return f, nil
	}
	return 0, configErrorf("%s: expected number, got %T", key, v)
}

// Int returns key as an int or def when absent.
func (h Hyperparameters) Int(key string, def int) (int, error) {
	v, err := h.Int64(key, int64(def))
	return int(v), err
}

// Int64 returns key as an int64 or def when absent.
func (h Hyperparameters) Int64(key string, def int64) (int64, error) {
	v, ok := h[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, configErrorf("%s: expected integer, got %v", key, t)
		}
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, configErrorf("%s: expected integer, got %s", key, t)
		}
		return n, nil
	}
	return 0, configErrorf("%s: expected integer, got %T", key, v)
}

// Bool returns key as a bool or def when absent.
func (h Hyperparameters) Bool(key string, def bool) (bool, error) {
	v, ok := h[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, configErrorf("%s: expected bool, got %T", key, v)
	}
	return b, nil
}

// String returns key as a string or def when absent.
func (h Hyperparameters) String(key string, def string) (string, error) {
	v, ok := h[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", configErrorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

// Clone returns a shallow copy; values are expected to be scalars.
func (h Hyperparameters) Clone() Hyperparameters {
	if h == nil {
		return Hyperparameters{}
	}
	out := make(Hyperparameters, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CommonOptions translates the shared hyperparameters into detector options.
func (h Hyperparameters) CommonOptions() ([]Option, error) {
	contamination, err := h.Float(ParamContamination, DefaultContamination)
	if err != nil {
		return nil, err
	}
	standardize, err := h.Bool(ParamStandardize, false)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithContamination(contamination),
		WithStandardize(standardize),
		WithHyperparameters(h),
	}, nil
}
