package outlier

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Detector is a trainable unsupervised outlier classifier.
type Detector interface {
	Fit(samples [][]float64) error
	Predict(x []float64) bool
}

const eulerGamma = 0.5772156649

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool {
	return n.left == nil && n.right == nil
}

// IsolationForest isolates points with random axis-aligned splits; points
// that isolate in few splits score high. Scores above the contamination
// quantile of the training scores are outliers.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64

	roots     []*node
	psi       int
	threshold float64
}

func NewIsolationForest(trees, sampleSize int, contamination float64, seed int64) *IsolationForest {
	return &IsolationForest{
		Trees:         trees,
		SampleSize:    sampleSize,
		Contamination: contamination,
		Seed:          seed,
	}
}

func (f *IsolationForest) Fit(samples [][]float64) error {
	if len(samples) < 2 {
		return errors.New("isolation forest needs at least two samples")
	}
	trees := f.Trees
	if trees <= 0 {
		trees = 100
	}
	psi := f.SampleSize
	if psi <= 1 || psi > len(samples) {
		psi = len(samples)
	}
	rng := rand.New(rand.NewSource(f.Seed))
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	roots := make([]*node, 0, trees)
	for i := 0; i < trees; i++ {
		idx := rng.Perm(len(samples))[:psi]
		sub := make([][]float64, psi)
		for j, k := range idx {
			sub[j] = samples[k]
		}
		roots = append(roots, grow(sub, 0, heightLimit, rng))
	}
	f.roots = roots
	f.psi = psi

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.Score(s)
	}
	f.threshold = quantile(scores, 1-f.Contamination)
	return nil
}

// Score is the normalized anomaly score in (0, 1]; 0.5 is unremarkable.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.roots) == 0 {
		return 0
	}
	var total float64
	for _, root := range f.roots {
		total += pathLength(root, x, 0)
	}
	mean := total / float64(len(f.roots))
	return math.Pow(2, -mean/averagePath(f.psi))
}

func (f *IsolationForest) Predict(x []float64) bool {
	if len(f.roots) == 0 {
		return false
	}
	return f.Score(x) > f.threshold
}

func grow(samples [][]float64, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(samples) <= 1 {
		return &node{size: len(samples)}
	}
	dims := len(samples[0])
	candidates := make([]int, 0, dims)
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		mins[d], maxs[d] = math.Inf(1), math.Inf(-1)
		for _, s := range samples {
			mins[d] = math.Min(mins[d], s[d])
			maxs[d] = math.Max(maxs[d], s[d])
		}
		if maxs[d] > mins[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(samples)}
	}
	feature := candidates[rng.Intn(len(candidates))]
	split := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])
	var left, right [][]float64
	for _, s := range samples {
		if s[feature] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return &node{
		feature: feature,
		split:   split,
		left:    grow(left, depth+1, limit, rng),
		right:   grow(right, depth+1, limit, rng),
		size:    len(samples),
	}
}

func pathLength(n *node, x []float64, depth int) float64 {
	if n.leaf() {
		return float64(depth) + averagePath(n.size)
	}
	if x[n.feature] < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// averagePath is c(n), the mean unsuccessful-search depth of a BST of n points.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}

func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
