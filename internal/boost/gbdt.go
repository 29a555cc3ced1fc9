// Package boost trains a binary gradient-boosted decision tree classifier on
// histogram-binned features.
package boost

import (
	"context"
	"math"
	"runtime"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotBinary is returned when a label is not 0 or 1.
	ErrNotBinary = errors.New("labels must be 0 or 1")
	// ErrShape is returned when the matrix and labels disagree.
	ErrShape = errors.New("unexpected input shape")
)

// Params control training.
type Params struct {
	NEstimators  int
	MaxDepth     int
	LearningRate float64
	// Bins is the maximum number of histogram bins per feature.
	Bins int
	// Lambda is the L2 regularisation on leaf values.
	Lambda float64
	// MinChildWeight is the minimum hessian sum of a child.
	MinChildWeight float64
}

func DefaultParams() Params {
	return Params{
		NEstimators:    100,
		MaxDepth:       3,
		LearningRate:   0.1,
		Bins:           64,
		Lambda:         1,
		MinChildWeight: 1,
	}
}

func (p Params) validate() error {
	switch {
	case p.NEstimators < 1:
		return errors.New("at least one estimator is required")
	case p.MaxDepth < 1:
		return errors.New("max depth must be positive")
	case p.LearningRate <= 0:
		return errors.New("learning rate must be positive")
	case p.Bins < 2 || p.Bins > math.MaxUint16:
		return errors.Errorf("bins must be in [2,%d]", math.MaxUint16)
	case p.Lambda < 0 || p.MinChildWeight < 0:
		return errors.New("regularisation must not be negative")
	}

	return nil
}

// Model is a trained classifier. Its fields are exported for serialisation.
type Model struct {
	Features  int
	BaseScore float64
	Trees     []Tree
}

// Tree is a binary tree stored as a node slice; node 0 is the root.
type Tree struct {
	Nodes []Node
}

// Node is a split on Feature <= Threshold, or a leaf holding Value.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	// bin is the threshold bin, used while training only.
	bin uint16
}

func (t Tree) predict(row []float64) float64 {
	i := 0

	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		// NaN goes left
		if row[n.Feature] > n.Threshold {
			i = n.Right
		} else {
			i = n.Left
		}
	}

	return t.Nodes[i].Value
}

// Train fits a model on x and y (0 or 1). ctx is checked between trees.
func Train(ctx context.Context, x mat.Matrix, y []int, params Params) (*Model, error) {
	err := params.validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid parameters")
	}

	rows, cols := x.Dims()
	if rows != len(y) || rows == 0 {
		return nil, errors.Wrapf(ErrShape, "%d rows for %d labels", rows, len(y))
	}

	target := make([]float64, rows)

	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, errors.Wrapf(ErrNotBinary, "label %d at row %d", label, i+1)
		}

		target[i] = float64(label)
	}

	data := newBinned(x, params.Bins)
	model := &Model{Features: cols, BaseScore: baseScore(target)}

	scores := make([]float64, rows)
	for i := range scores {
		scores[i] = model.BaseScore
	}

	grad := make([]float64, rows)
	hess := make([]float64, rows)
	all := make([]int, rows)

	for i := range all {
		all[i] = i
	}

	for range params.NEstimators {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "training cancelled")
		}

		for i, score := range scores {
			p := sigmoid(score)
			grad[i] = p - target[i]
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		b := &builder{data: data, grad: grad, hess: hess, params: params}

		err := b.grow(ctx, slices.Clone(all), 0)
		if err != nil {
			return nil, err
		}

		tree := Tree{Nodes: b.nodes}
		for i := range scores {
			scores[i] += tree.predictBinned(data, i)
		}

		model.Trees = append(model.Trees, tree)
	}

	return model, nil
}

func baseScore(target []float64) float64 {
	mean := 0.0
	for _, v := range target {
		mean += v
	}

	mean /= float64(len(target))
	mean = math.Min(math.Max(mean, 1e-6), 1-1e-6)

	return math.Log(mean / (1 - mean))
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// PredictProba returns the probability of class 1 for every row.
func (m *Model) PredictProba(x mat.Matrix) ([]float64, error) {
	rows, cols := x.Dims()
	if cols != m.Features {
		return nil, errors.Wrapf(ErrShape, "got %d features, trained on %d", cols, m.Features)
	}

	out := make([]float64, rows)
	row := make([]float64, cols)

	for i := range rows {
		mat.Row(row, i, x)

		score := m.BaseScore
		for _, tree := range m.Trees {
			score += tree.predict(row)
		}

		out[i] = sigmoid(score)
	}

	return out, nil
}

// Predict returns 1 where the probability of class 1 is at least one half, 0 elsewhere.
func (m *Model) Predict(x mat.Matrix) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}

	out := make([]int, len(proba))

	for i, p := range proba {
		if p >= 0.5 {
			out[i] = 1
		}
	}

	return out, nil
}

// binned holds, per feature, the bin of every row and the upper edge of every bin.
type binned struct {
	rows  int
	bins  [][]uint16
	edges [][]float64
}

func newBinned(x mat.Matrix, maxBins int) *binned {
	rows, cols := x.Dims()
	data := &binned{rows: rows, bins: make([][]uint16, cols), edges: make([][]float64, cols)}
	column := make([]float64, rows)

	for j := range cols {
		mat.Col(column, j, x)

		edges := binEdges(column, maxBins)
		bins := make([]uint16, rows)

		for i, v := range column {
			if !math.IsNaN(v) {
				bins[i] = uint16(sort.SearchFloat64s(edges, v)) //nolint:gosec
			}
		}

		data.bins[j] = bins
		data.edges[j] = edges
	}

	return data
}

// binEdges returns at most maxBins increasing upper edges; the last edge is the column maximum.
func binEdges(column []float64, maxBins int) []float64 {
	sorted := make([]float64, 0, len(column))

	for _, v := range column {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}

	if len(sorted) == 0 {
		return []float64{0}
	}

	slices.Sort(sorted)

	distinct := slices.Compact(slices.Clone(sorted))
	if len(distinct) <= maxBins {
		return distinct
	}

	edges := make([]float64, 0, maxBins)
	for b := 1; b <= maxBins; b++ {
		idx := b*len(sorted)/maxBins - 1
		edges = append(edges, sorted[idx])
	}

	return slices.Compact(edges)
}

func (t Tree) predictBinned(data *binned, row int) float64 {
	i := 0

	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if data.bins[n.Feature][row] > n.bin {
			i = n.Right
		} else {
			i = n.Left
		}
	}

	return t.Nodes[i].Value
}

type builder struct {
	data   *binned
	grad   []float64
	hess   []float64
	params Params
	nodes  []Node
}

type split struct {
	gain    float64
	feature int
	bin     uint16
}

// grow adds the subtree for rows and returns once its nodes are appended.
func (b *builder) grow(ctx context.Context, rows []int, depth int) error {
	g, h := 0.0, 0.0
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: -g / (h + b.params.Lambda) * b.params.LearningRate})

	if depth >= b.params.MaxDepth || len(rows) < 2 {
		return nil
	}

	best, err := b.bestSplit(ctx, rows, g, h)
	if err != nil || best.gain <= 0 {
		return err
	}

	var left, right []int

	for _, r := range rows {
		if b.data.bins[best.feature][r] > best.bin {
			right = append(right, r)
		} else {
			left = append(left, r)
		}
	}

	b.nodes[idx] = Node{
		Feature:   best.feature,
		Threshold: b.data.edges[best.feature][best.bin],
		bin:       best.bin,
	}

	b.nodes[idx].Left = len(b.nodes)

	err = b.grow(ctx, left, depth+1)
	if err != nil {
		return err
	}

	b.nodes[idx].Right = len(b.nodes)

	return b.grow(ctx, right, depth+1)
}

// bestSplit scans the gradient histogram of every feature concurrently.
func (b *builder) bestSplit(ctx context.Context, rows []int, g, h float64) (split, error) {
	features := len(b.data.bins)
	results := make([]split, features)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	parent := g * g / (h + b.params.Lambda)

	for j := range features {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}

			results[j] = b.featureSplit(j, rows, g, h, parent)

			return nil
		})
	}

	err := eg.Wait()
	if err != nil {
		return split{}, errors.Wrap(err, "unable to search splits")
	}

	best := split{}
	for _, s := range results {
		if s.gain > best.gain {
			best = s
		}
	}

	return best, nil
}

func (b *builder) featureSplit(feature int, rows []int, g, h, parent float64) split {
	nBins := len(b.data.edges[feature])
	gradHist := make([]float64, nBins)
	hessHist := make([]float64, nBins)
	bins := b.data.bins[feature]

	for _, r := range rows {
		gradHist[bins[r]] += b.grad[r]
		hessHist[bins[r]] += b.hess[r]
	}

	best := split{feature: feature}
	gl, hl := 0.0, 0.0

	// the last bin cannot split: everything would go left
	for bin := range nBins - 1 {
		gl += gradHist[bin]
		hl += hessHist[bin]
		gr, hr := g-gl, h-hl

		if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
			continue
		}

		gain := gl*gl/(hl+b.params.Lambda) + gr*gr/(hr+b.params.Lambda) - parent
		if gain > best.gain {
			best = split{gain: gain, feature: feature, bin: uint16(bin)} //nolint:gosec
		}
	}

	return best
}
