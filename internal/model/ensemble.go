// Package model implements the gradient-boosted tree classifier behind Heron's
// risk score, its Shapley attributions and the bundle artifact format.
package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrFeatureCount is returned when an input row does not match the model width.
var ErrFeatureCount = errors.New("feature count mismatch")

// Node is one node of a regression tree in flat layout.
// Internal nodes route x to Left when x[Feature] < Threshold.
type Node struct {
	Feature   int     `json:"feature"` // -1 for leaves
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value,omitempty"` // leaf output, learning rate applied
	Cover     float64 `json:"cover"`           // hessian mass that reached the node
}

// IsLeaf reports whether n is a leaf.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a single regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// leaf returns the index of the leaf x falls into.
func (t *Tree) leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// Predict returns the tree output for x.
func (t *Tree) Predict(x []float64) float64 {
	return t.Nodes[t.leaf(x)].Value
}

// Ensemble is a trained binary classifier producing log-odds margins.
type Ensemble struct {
	NumFeatures int     `json:"num_features"`
	BaseScore   float64 `json:"base_score"` // initial log-odds
	Trees       []Tree  `json:"trees"`
}

// Margin returns the raw log-odds score for x.
func (e *Ensemble) Margin(x []float64) (float64, error) {
	if len(x) != e.NumFeatures {
		return 0, fmt.Errorf("%w: model expects %d, got %d", ErrFeatureCount, e.NumFeatures, len(x))
	}
	m := e.BaseScore
	for i := range e.Trees {
		m += e.Trees[i].Predict(x)
	}
	return m, nil
}

// PredictProba returns the probability of the positive (risky) class.
func (e *Ensemble) PredictProba(x []float64) (float64, error) {
	m, err := e.Margin(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(m), nil
}

// Validate checks structural integrity of a decoded ensemble.
func (e *Ensemble) Validate() error {
	if e.NumFeatures <= 0 {
		return errors.New("ensemble has no features")
	}
	for ti, t := range e.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				continue
			}
			if n.Feature >= e.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid children", ti, ni)
			}
		}
	}
	return nil
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func logit(p float64) float64 {
	const eps = 1e-7
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}
