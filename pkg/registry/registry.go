// Package registry maps algorithm identifiers to detector constructors so that
// archives can rebuild the right concrete detector on load.
//
// A Registry is populated during initialization and then sealed; after Seal it
// is read-only and safe for concurrent Resolve calls.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hed1ad/omniad/pkg/detectors"
	"github.com/hed1ad/omniad/pkg/detectors/iforest"
	"github.com/hed1ad/omniad/pkg/detectors/zscore"
)

var (
	// ErrUnknownAlgorithm is returned by Resolve for an unbound id.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrDuplicateRegistration is returned when an id is already bound to a
	// different constructor.
	ErrDuplicateRegistration = errors.New("algorithm already registered")

	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// Constructor builds an Unfitted detector shell from hyperparameters.
type Constructor func(params detectors.Hyperparameters, opts ...detectors.Option) (*detectors.Detector, error)

// Registry is an id -> Constructor table.
type Registry struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	sealed bool
}

// New returns an empty, unsealed registry.
func New() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds id to ctor. Registering the same constructor again is a
// no-op; a different constructor for a bound id fails with
// ErrDuplicateRegistration.
func (r *Registry) Register(id string, ctor Constructor) error {
	if id == "" {
		return fmt.Errorf("%w: empty algorithm id", detectors.ErrConfig)
	}
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %q", detectors.ErrConfig, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, id)
	}
	if existing, ok := r.ctors[id]; ok {
		if sameFunc(existing, ctor) {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, id)
	}
	r.ctors[id] = ctor
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// package-level initialization.
func (r *Registry) MustRegister(id string, ctor Constructor) {
	if err := r.Register(id, ctor); err != nil {
		panic(err)
	}
}

// Seal ends initialization. Later Register calls fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Resolve builds an Unfitted detector for id.
func (r *Registry) Resolve(id string, params detectors.Hyperparameters, opts ...detectors.Option) (*detectors.Detector, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownAlgorithm, id, strings.Join(r.IDs(), ", "))
	}

	d, err := ctor(params.Clone(), opts...)
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", id, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: constructor for %q returned no detector", detectors.ErrConfig, id)
	}
	if d.AlgorithmID() != id {
		return nil, fmt.Errorf("%w: constructor for %q built a %q detector", detectors.ErrConfig, id, d.AlgorithmID())
	}
	return d, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sameFunc compares constructors by code pointer; Go funcs are not comparable.
// Closures created from the same function literal compare equal.
func sameFunc(a, b Constructor) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// RegisterBuiltins binds the detectors shipped with this module.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(iforest.AlgorithmID, iforest.New); err != nil {
		return err
	}
	return r.Register(zscore.AlgorithmID, zscore.New)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding the built-in detectors.
// It is created and sealed on first use and lives for the whole process.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := New()
		if err := RegisterBuiltins(r); err != nil {
			panic(err)
		}
		r.Seal()
		defaultRegistry = r
	})
	return defaultRegistry
}
