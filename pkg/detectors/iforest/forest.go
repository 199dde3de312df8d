package iforest

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/omniad/pkg/detectors"
)

// node is one entry of a flattened isolation tree. Leaves have Left == -1.
type node struct {
	Feature int
	Split   float64
	Left    int
	Right   int
	Size    int
}

type tree struct {
	Nodes []node
}

func (t tree) pathLength(sample []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			// Leaf node: add expected path length for remaining isolation
			return float64(depth) + averagePathLength(float64(n.Size))
		}
		if sample[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// validate guards against archives whose node links would loop or index out of range.
func (t tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("no nodes")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 {
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d", i, n.Feature)
		}
	}
	return nil
}

// payload is the gob form of a Forest.
type payload struct {
	SampleSize  int
	NFeatures   int
	Trees       []tree
	Importances []float64
}

// Forest is a trained isolation forest.
type Forest struct {
	trees         []tree
	sampleSize    int
	nFeatures     int
	avgPathLength float64
	importances   []float64
}

var (
	_ detectors.FeatureImportancer = (*Forest)(nil)
	_ detectors.FeatureCounter     = (*Forest)(nil)
)

var (
	_ detectors.Model              = (*Forest)(nil)
	_ detectors.FeatureImportancer = (*Forest)(nil)
)

func newForest(trees []tree, sampleSize, nFeatures int, importances []float64) *Forest {
	c := averagePathLength(float64(sampleSize))
	if c == 0 {
		// A single-sample forest isolates nothing; every score becomes 1.
		c = 1
	}
	if len(importances) != nFeatures {
		importances = make([]float64, nFeatures)
	}
	return &Forest{
		trees:         trees,
		sampleSize:    sampleSize,
		nFeatures:     nFeatures,
		avgPathLength: c,
		importances:   importances,
	}
}

// Score returns 2^(-E[h(x)]/c(n)) per row; higher means more anomalous.
func (f *Forest) Score(X [][]float64) ([]float64, error) {
	for i, row := range X {
		if len(row) != f.nFeatures {
			return nil, &detectors.ShapeMismatchError{Expected: f.nFeatures, Got: len(X[i])}
		}
	}

	scores := make([]float64, len(X))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(X); start += scoreChunk {
		start := start
		end := min(start+scoreChunk, len(X))
		g.Go(func() error {
			for i := start; i < end; i++ {
				scores[i] = f.scoreOne(X[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (f *Forest) scoreOne(sample []float64) float64 {
	var totalPath float64
	for _, t := range f.trees {
		totalPath += t.pathLength(sample)
	}
	avgPath := totalPath / float64(len(f.trees))
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// FeatureImportances returns the share of splits made on each feature.
func (f *Forest) FeatureImportances() []float64 {
	return append([]float64(nil), f.importances...)
}

// NumFeatures returns the number of features the forest was grown on.
func (f *Forest) NumFeatures() int { return f.nFeatures }

// NumTrees returns the number of trees in the forest.
func (f *Forest) NumTrees() int { return len(f.trees) }

// MarshalBinary encodes the forest with a versioned envelope.
func (f *Forest) MarshalBinary() ([]byte, error) {
	return detectors.EncodeArtifact(artifactVersion, payload{
		SampleSize:  f.sampleSize,
		NFeatures:   f.nFeatures,
		Trees:       f.trees,
		Importances: f.importances,
	})
}
