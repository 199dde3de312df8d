// Package iforest implements the Isolation Forest algorithm as a detectors.Backend.
package iforest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/omniad/pkg/detectors"
)

// AlgorithmID is the registry key for isolation forest detectors.
const AlgorithmID = "IsolationForest"

// Hyperparameter keys accepted by New.
const (
	ParamTrees      = "n_estimators"
	ParamSampleSize = "max_samples"
	ParamSeed       = "random_state"
	ParamWorkers    = "n_jobs"
)

const (
	artifactVersion    = "1.0.0"
	artifactConstraint = "^1.0"

	// rows per scoring task
	scoreChunk = 512
)

// Backend trains isolation forests.
type Backend struct {
	nTrees     int
	sampleSize int
	seed       int64
	workers    int
}

var _ detectors.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(b *Backend) {
		b.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(b *Backend) {
		b.sampleSize = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(b *Backend) {
		b.seed = seed
	}
}

// WithWorkers bounds the number of trees built concurrently. Values below 1
// use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		b.workers = n
	}
}

// NewBackend creates an isolation forest backend with the given options.
func NewBackend(opts ...Option) (*Backend, error) {
	b := &Backend{
		nTrees:     100,
		sampleSize: 256,
		seed:       42,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.nTrees < 1 {
		return nil, fmt.Errorf("%w: %s must be positive, got %d", detectors.ErrConfig, ParamTrees, b.nTrees)
	}
	if b.sampleSize < 1 {
		return nil, fmt.Errorf("%w: %s must be positive, got %d", detectors.ErrConfig, ParamSampleSize, b.sampleSize)
	}
	if b.workers < 1 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	return b, nil
}

// New builds an Unfitted isolation forest detector from hyperparameters.
func New(params detectors.Hyperparameters, opts ...detectors.Option) (*detectors.Detector, error) {
	if err := params.Check(
		detectors.ParamContamination, detectors.ParamStandardize,
		ParamTrees, ParamSampleSize, ParamSeed, ParamWorkers,
	); err != nil {
		return nil, err
	}

	nTrees, err := params.Int(ParamTrees, 100)
	if err != nil {
		return nil, err
	}
	sampleSize, err := params.Int(ParamSampleSize, 256)
	if err != nil {
		return nil, err
	}
	seed, err := params.Int64(ParamSeed, 42)
	if err != nil {
		return nil, err
	}
	workers, err := params.Int(ParamWorkers, -1)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(WithTrees(nTrees), WithSampleSize(sampleSize), WithSeed(seed), WithWorkers(workers))
	if err != nil {
		return nil, err
	}

	common, err := params.CommonOptions()
	if err != nil {
		return nil, err
	}
	return detectors.New(AlgorithmID, backend, append(common, opts...)...)
}

// Name returns the backend variant name.
func (b *Backend) Name() string { return AlgorithmID }

// Fit builds the forest. Each tree gets its own seed drawn from the master
// seed, so results do not depend on how trees are scheduled across workers.
func (b *Backend) Fit(ctx context.Context, X [][]float64) (detectors.Model, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("%w: empty training data", detectors.ErrValidation)
	}

	nSamples := len(X)
	nFeatures := len(X[0])

	// Adjust sample size if needed
	sampleSize := b.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	master := rand.New(rand.NewSource(b.seed))
	seeds := make([]int64, b.nTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]tree, b.nTrees)
	splits := make([][]float64, b.nTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))

			// Sample without replacement
			indices := rng.Perm(nSamples)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = X[idx]
			}

			bld := &builder{
				rng:       rng,
				maxDepth:  maxDepth,
				nFeatures: nFeatures,
				splits:    make([]float64, nFeatures),
			}
			bld.build(sample, 0)
			trees[i] = tree{Nodes: bld.nodes}
			splits[i] = bld.splits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	importances := make([]float64, nFeatures)
	for _, s := range splits {
		for j, c := range s {
			importances[j] += c
		}
	}
	normalize(importances)

	return newForest(trees, sampleSize, nFeatures, importances), nil
}

// Decode restores a forest written by Forest.MarshalBinary.
func (b *Backend) Decode(data []byte) (detectors.Model, error) {
	var p payload
	if _, err := detectors.DecodeArtifact(data, artifactConstraint, &p); err != nil {
		return nil, fmt.Errorf("decode isolation forest: %w", err)
	}
	if p.SampleSize < 1 || p.NFeatures < 1 || len(p.Trees) == 0 {
		return nil, fmt.Errorf("decode isolation forest: empty or malformed forest")
	}
	for i, t := range p.Trees {
		if err := t.validate(p.NFeatures); err != nil {
			return nil, fmt.Errorf("decode isolation forest: tree %d: %w", i, err)
		}
	}
	return newForest(p.Trees, p.SampleSize, p.NFeatures, p.Importances), nil
}

// builder grows one tree into a flat node slice.
type builder struct {
	rng       *rand.Rand
	maxDepth  int
	nFeatures int
	nodes     []node
	splits    []float64
}

func (b *builder) build(data [][]float64, depth int) int {
	idx := len(b.nodes)
	n := len(data)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: n})

	// Terminal conditions
	if depth >= b.maxDepth || n <= 1 {
		return idx
	}

	// Random feature and split value
	feature := b.rng.Intn(b.nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return idx
	}

	splitValue := minVal + b.rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	left := b.build(leftData, depth+1)
	right := b.build(rightData, depth+1)
	b.nodes[idx] = node{
		Feature: feature,
		Split:   splitValue,
		Left:    left,
		Right:   right,
		Size:    n,
	}
	b.splits[feature]++
	return idx
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(n) ~ ln(n) + Euler-Mascheroni constant
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

func normalize(v []float64) {
	var total float64
	for _, x := range v {
		total += x
	}
	if total == 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}
