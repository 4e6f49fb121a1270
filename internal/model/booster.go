package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// Booster fits an Ensemble with second-order gradient boosting on logistic
// loss. Candidate splits come from per-feature quantile cuts.
type Booster struct {
	params domain.ModelParams
	rng    *rand.Rand
}

// Option configures a Booster.
type Option func(*Booster)

// WithParams replaces all hyperparameters. The seed follows RandomState.
func WithParams(p domain.ModelParams) Option {
	return func(b *Booster) {
		b.params = p
		b.rng = rand.New(rand.NewSource(p.RandomState))
	}
}

// WithTrees sets the number of boosting rounds.
func WithTrees(n int) Option {
	return func(b *Booster) {
		b.params.NEstimators = n
	}
}

// WithMaxDepth sets the maximum tree depth.
func WithMaxDepth(d int) Option {
	return func(b *Booster) {
		b.params.MaxDepth = d
	}
}

// WithLearningRate sets the shrinkage applied to every leaf.
func WithLearningRate(lr float64) Option {
	return func(b *Booster) {
		b.params.LearningRate = lr
	}
}

// WithSeed sets the random seed for row subsampling.
func WithSeed(seed int64) Option {
	return func(b *Booster) {
		b.params.RandomState = seed
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// NewBooster creates a Booster with the default hyperparameters.
func NewBooster(opts ...Option) *Booster {
	p := domain.DefaultConfig().ModelParams
	b := &Booster{
		params: p,
		rng:    rand.New(rand.NewSource(p.RandomState)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.params.MaxBins <= 0 {
		b.params.MaxBins = 256
	}
	if b.params.Subsample <= 0 || b.params.Subsample > 1 {
		b.params.Subsample = 1
	}
	return b
}

// Params returns the effective hyperparameters.
func (b *Booster) Params() domain.ModelParams {
	return b.params
}

// Fit trains on rows X with binary labels y (0 or 1).
func (b *Booster) Fit(ctx context.Context, X [][]float64, y []float64) (*Ensemble, error) {
	n := len(X)
	if n == 0 {
		return nil, errors.New("empty training data")
	}
	if len(y) != n {
		return nil, fmt.Errorf("label count %d does not match row count %d", len(y), n)
	}
	nf := len(X[0])
	if nf == 0 {
		return nil, errors.New("training rows have no features")
	}

	var positives float64
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrFeatureCount, i, len(row), nf)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("label at row %d must be 0 or 1, got %v", i, y[i])
		}
		positives += y[i]
	}

	cuts := make([][]float64, nf)
	bins := make([][]int, nf)
	col := make([]float64, n)
	for f := 0; f < nf; f++ {
		for i := range X {
			col[i] = X[i][f]
		}
		cuts[f] = quantileCuts(col, b.params.MaxBins)
		bins[f] = make([]int, n)
		for i, v := range col {
			bins[f][i] = binOf(cuts[f], v)
		}
	}

	ens := &Ensemble{
		NumFeatures: nf,
		BaseScore:   logit(positives / float64(n)),
	}

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = ens.BaseScore
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	tb := &treeBuilder{
		bins:   bins,
		cuts:   cuts,
		grad:   grad,
		hess:   hess,
		params: b.params,
	}

	for t := 0; t < b.params.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range margin {
			p := sigmoid(margin[i])
			grad[i] = p - y[i]
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		tree := tb.grow(b.sampleRows(n))
		for i := range margin {
			margin[i] += tree.Predict(X[i])
		}
		ens.Trees = append(ens.Trees, tree)
	}

	return ens, nil
}

func (b *Booster) sampleRows(n int) []int {
	rows := make([]int, 0, n)
	if b.params.Subsample >= 1 {
		for i := 0; i < n; i++ {
			rows = append(rows, i)
		}
		return rows
	}
	for i := 0; i < n; i++ {
		if b.rng.Float64() < b.params.Subsample {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, b.rng.Intn(n))
	}
	return rows
}

type treeBuilder struct {
	bins   [][]int
	cuts   [][]float64
	grad   []float64
	hess   []float64
	params domain.ModelParams
	nodes  []Node
}

type split struct {
	feature int
	bin     int
	gain    float64
}

func (tb *treeBuilder) grow(rows []int) Tree {
	tb.nodes = nil
	tb.build(rows, 0)
	return Tree{Nodes: tb.nodes}
}

func (tb *treeBuilder) build(rows []int, depth int) int {
	idx := len(tb.nodes)
	tb.nodes = append(tb.nodes, Node{Feature: -1})

	var G, H float64
	for _, i := range rows {
		G += tb.grad[i]
		H += tb.hess[i]
	}
	tb.nodes[idx].Cover = H
	tb.nodes[idx].Value = -G / (H + tb.params.Lambda) * tb.params.LearningRate

	if depth >= tb.params.MaxDepth || len(rows) < 2 {
		return idx
	}

	best, ok := tb.bestSplit(rows, G, H)
	if !ok {
		return idx
	}

	var left, right []int
	for _, i := range rows {
		if tb.bins[best.feature][i] <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	tb.nodes[idx] = Node{
		Feature:   best.feature,
		Threshold: tb.cuts[best.feature][best.bin],
		Cover:     H,
	}
	l := tb.build(left, depth+1)
	r := tb.build(right, depth+1)
	tb.nodes[idx].Left = l
	tb.nodes[idx].Right = r
	return idx
}

func (tb *treeBuilder) bestSplit(rows []int, G, H float64) (split, bool) {
	lambda := tb.params.Lambda
	minChild := tb.params.MinChildWeight
	parent := G * G / (H + lambda)

	best := split{gain: 1e-12}
	found := false

	for f := range tb.cuts {
		nb := len(tb.cuts[f]) + 1
		if nb < 2 {
			continue
		}
		gh := make([]float64, nb)
		hh := make([]float64, nb)
		for _, i := range rows {
			b := tb.bins[f][i]
			gh[b] += tb.grad[i]
			hh[b] += tb.hess[i]
		}

		var GL, HL float64
		for j := 0; j < nb-1; j++ {
			GL += gh[j]
			HL += hh[j]
			GR, HR := G-GL, H-HL
			if HL <= 0 || HR <= 0 || HL < minChild || HR < minChild {
				continue
			}
			gain := GL*GL/(HL+lambda) + GR*GR/(HR+lambda) - parent
			if gain > best.gain {
				best = split{feature: f, bin: j, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// quantileCuts returns ascending split points between distinct values.
// A value v falls left of cut c when v < c.
func quantileCuts(col []float64, maxBins int) []float64 {
	vals := append([]float64(nil), col...)
	sort.Float64s(vals)

	distinct := vals[:0]
	for i, v := range vals {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	midpoint := func(k int) float64 {
		lo, hi := distinct[k-1], distinct[k]
		c := lo + (hi-lo)/2
		if c <= lo {
			c = hi
		}
		return c
	}

	var cuts []float64
	if len(distinct)-1 <= maxBins {
		for k := 1; k < len(distinct); k++ {
			cuts = append(cuts, midpoint(k))
		}
		return cuts
	}

	for q := 1; q <= maxBins; q++ {
		k := q * len(distinct) / (maxBins + 1)
		if k <= 0 || k >= len(distinct) {
			continue
		}
		c := midpoint(k)
		if len(cuts) == 0 || c > cuts[len(cuts)-1] {
			cuts = append(cuts, c)
		}
	}
	return cuts
}

// binOf returns the number of cuts at or below v.
func binOf(cuts []float64, v float64) int {
	return sort.Search(len(cuts), func(k int) bool { return cuts[k] > v })
}
