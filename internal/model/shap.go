package model

import (
	"errors"
	"fmt"
)

// ErrEmptyBackground is returned when attribution has no baseline rows.
var ErrEmptyBackground = errors.New("empty background sample")

const (
	sideNone int8 = iota
	sideInput
	sideReference
)

// Contributions computes interventional Shapley values of the log-odds margin
// for x, averaged over the background rows. It also returns the mean
// background margin; contributions sum to Margin(x) minus that value.
func (e *Ensemble) Contributions(x []float64, background [][]float64) ([]float64, float64, error) {
	if len(x) != e.NumFeatures {
		return nil, 0, fmt.Errorf("%w: model expects %d, got %d", ErrFeatureCount, e.NumFeatures, len(x))
	}
	if len(background) == 0 {
		return nil, 0, ErrEmptyBackground
	}

	phi := make([]float64, e.NumFeatures)
	w := &shapWalker{
		x:    x,
		side: make([]int8, e.NumFeatures),
		fact: factorials(e.NumFeatures),
		phi:  phi,
	}

	var base float64
	for ri, r := range background {
		m, err := e.Margin(r)
		if err != nil {
			return nil, 0, fmt.Errorf("background row %d: %w", ri, err)
		}
		base += m

		w.ref = r
		for ti := range e.Trees {
			w.tree = &e.Trees[ti]
			w.walk(0, 0, 0)
		}
	}

	n := float64(len(background))
	for i := range phi {
		phi[i] /= n
	}
	return phi, base / n, nil
}

// shapWalker follows x and one reference row through a tree at once.
// Where they diverge on an unassigned feature, both branches are explored:
// one with the feature taken from x, one with it taken from the reference.
type shapWalker struct {
	tree *Tree
	x    []float64
	ref  []float64
	side []int8
	fact []float64
	phi  []float64
}

func (w *shapWalker) walk(idx, nInput, nRef int) {
	n := w.tree.Nodes[idx]
	if n.IsLeaf() {
		w.credit(n.Value, nInput, nRef)
		return
	}

	child := func(left bool) int {
		if left {
			return n.Left
		}
		return n.Right
	}
	xLeft := w.x[n.Feature] < n.Threshold
	rLeft := w.ref[n.Feature] < n.Threshold

	switch w.side[n.Feature] {
	case sideInput:
		w.walk(child(xLeft), nInput, nRef)
		return
	case sideReference:
		w.walk(child(rLeft), nInput, nRef)
		return
	}

	if xLeft == rLeft {
		w.walk(child(xLeft), nInput, nRef)
		return
	}

	w.side[n.Feature] = sideInput
	w.walk(child(xLeft), nInput+1, nRef)
	w.side[n.Feature] = sideReference
	w.walk(child(rLeft), nInput, nRef+1)
	w.side[n.Feature] = sideNone
}

// credit distributes a leaf value reached with nInput features fixed to x and
// nRef features fixed to the reference. Input-side features gain
// v*(a-1)!b!/(a+b)!, reference-side features lose v*a!(b-1)!/(a+b)!.
func (w *shapWalker) credit(v float64, nInput, nRef int) {
	if nInput+nRef == 0 {
		return
	}
	total := w.fact[nInput+nRef]

	var gain, loss float64
	if nInput > 0 {
		gain = v * w.fact[nInput-1] * w.fact[nRef] / total
	}
	if nRef > 0 {
		loss = v * w.fact[nInput] * w.fact[nRef-1] / total
	}

	for i, s := range w.side {
		switch s {
		case sideInput:
			w.phi[i] += gain
		case sideReference:
			w.phi[i] -= loss
		}
	}
}

func factorials(n int) []float64 {
	f := make([]float64, n+1)
	f[0] = 1
	for i := 1; i <= n; i++ {
		f[i] = f[i-1] * float64(i)
	}
	return f
}
