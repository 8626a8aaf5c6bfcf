// VIDA: Vitamin D Cohort Analysis
// Copyright (c) 2023 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/vida/blob/master/LICENSE.txt>.

package causal

import (
	"errors"
	"fmt"
	"math"

	"github.com/exascience/pargo/parallel"
	"github.com/valyala/fastrand"

	"gonum.org/v1/gonum/stat"

	"vida/utils"
)

//A forest-based conditional average treatment effect estimator. Each tree is
//grown honestly: a half subsample is split into a structure half that chooses
//the splits and an estimation half that fills in the leaf effects, so a leaf
//never estimates on the data that shaped it. Splits maximize the
//heterogeneity of the treatment effect between the children. The
//population-level effect is aggregated from per-record augmented
//inverse-propensity scores, which also yield the standard error and, over any
//subgroup mask, the subgroup effect with its sample size.

// Options configures the forest.
type Options struct {
	Trees   int //number of trees
	MinLeaf int //minimum structure records per child, per treatment arm
	MTry    int //covariates tried per split; 0 picks (p+2)/3
}

// DefaultOptions returns the forest defaults.
func DefaultOptions() Options {
	return Options{Trees: 500, MinLeaf: 5, MTry: 0}
}

// node is one tree node. Leaves carry the estimation-half effect; internal
// nodes carry a split on feature <= cut.
type node struct {
	feature     int
	cut         float64
	left, right int //children indices, -1 for leaves
	tau         float64
	mu1, mu0    float64
	n1, n0      int
}

type tree struct {
	nodes       []node
	splitCounts []float64
}

// Forest is a fitted causal forest.
type Forest struct {
	trees      []tree
	p          int
	importance []float64
}

const maxCutCandidates = 16

// checkInputs validates the covariate matrix, outcome, and binary treatment
// indicator. Covariate columns must be fully numeric: categorical inputs are
// integer-encoded before they reach the forest.
func checkInputs(x [][]float64, y, w []float64) (int, error) {
	n := len(x)
	if n < 10 {
		return 0, errors.New("causal forest requires at least 10 records")
	}
	if len(y) != n || len(w) != n {
		return 0, errors.New("covariates, outcome, and treatment must have equal length")
	}
	p := len(x[0])
	if p == 0 {
		return 0, errors.New("causal forest requires at least one covariate")
	}
	for i, xi := range x {
		if len(xi) != p {
			return 0, errors.New("ragged covariate matrix")
		}
		for _, v := range xi {
			if math.IsNaN(v) {
				return 0, errors.New("covariate columns must be fully numeric, found NaN")
			}
		}
		if w[i] != 0.0 && w[i] != 1.0 {
			return 0, errors.New("treatment indicator must be binary")
		}
	}
	return p, nil
}

// armStats computes the treated/control counts and outcome means over a set
// of sample indices.
func armStats(idx []int, y, w []float64) (n1, n0 int, mu1, mu0 float64) {
	s1, s0 := 0.0, 0.0
	for _, i := range idx {
		if w[i] == 1.0 {
			n1++
			s1 += y[i]
		} else {
			n0++
			s0 += y[i]
		}
	}
	if n1 > 0 {
		mu1 = s1 / float64(n1)
	}
	if n0 > 0 {
		mu0 = s0 / float64(n0)
	}
	return n1, n0, mu1, mu0
}

// bestSplit searches a random subset of the covariates for the split that
// maximizes the effect heterogeneity between the children. It returns false
// when no split satisfies the leaf constraints.
func bestSplit(x [][]float64, y, w []float64, idx []int, p, mtry, minLeaf int) (int, float64, bool) {
	bestScore := 0.0
	bestFeature := -1
	bestCut := 0.0
	found := false
	// sample mtry features without replacement
	features := make([]int, p)
	for i := range features {
		features[i] = i
	}
	for i := 0; i < mtry; i++ {
		j := i + int(fastrand.Uint32n(uint32(p-i)))
		features[i], features[j] = features[j], features[i]
	}
	for _, f := range features[:mtry] {
		for c := 0; c < maxCutCandidates; c++ {
			cut := x[idx[fastrand.Uint32n(uint32(len(idx)))]][f]
			left := []int{}
			right := []int{}
			for _, i := range idx {
				if x[i][f] <= cut {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			ln1, ln0, lmu1, lmu0 := armStats(left, y, w)
			rn1, rn0, rmu1, rmu0 := armStats(right, y, w)
			if ln1 < minLeaf || ln0 < minLeaf || rn1 < minLeaf || rn0 < minLeaf {
				continue
			}
			tauL := lmu1 - lmu0
			tauR := rmu1 - rmu0
			score := float64(len(left)) * float64(len(right)) * (tauL - tauR) * (tauL - tauR)
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestCut = cut
				found = true
			}
		}
	}
	return bestFeature, bestCut, found
}

// growTree builds one honest tree from a structure half and fills its leaves
// from an estimation half.
func growTree(x [][]float64, y, w []float64, structure, estimation []int, p int, opt Options) tree {
	t := tree{splitCounts: make([]float64, p)}
	var build func(idx []int) int
	build = func(idx []int) int {
		n1, n0, _, _ := armStats(idx, y, w)
		me := node{left: -1, right: -1}
		if n1 >= 2*opt.MinLeaf && n0 >= 2*opt.MinLeaf {
			if f, cut, ok := bestSplit(x, y, w, idx, p, mtry(p, opt.MTry), opt.MinLeaf); ok {
				left := []int{}
				right := []int{}
				for _, i := range idx {
					if x[i][f] <= cut {
						left = append(left, i)
					} else {
						right = append(right, i)
					}
				}
				me.feature = f
				me.cut = cut
				t.splitCounts[f]++
				t.nodes = append(t.nodes, me)
				pos := len(t.nodes) - 1
				l := build(left)
				r := build(right)
				t.nodes[pos].left = l
				t.nodes[pos].right = r
				return pos
			}
		}
		t.nodes = append(t.nodes, me)
		return len(t.nodes) - 1
	}
	root := build(structure)
	// fill in leaf effects from the estimation half
	leafSamples := map[int][]int{}
	for _, i := range estimation {
		li := t.leafFor(root, x[i])
		leafSamples[li] = append(leafSamples[li], i)
	}
	_, _, rootMu1, rootMu0 := armStats(estimation, y, w)
	for li := range t.nodes {
		if t.nodes[li].left != -1 {
			continue
		}
		n1, n0, mu1, mu0 := armStats(leafSamples[li], y, w)
		if n1 == 0 { //no estimation data for this arm, fall back to the half-sample mean
			mu1 = rootMu1
		}
		if n0 == 0 {
			mu0 = rootMu0
		}
		t.nodes[li].n1 = n1
		t.nodes[li].n0 = n0
		t.nodes[li].mu1 = mu1
		t.nodes[li].mu0 = mu0
		t.nodes[li].tau = mu1 - mu0
	}
	return t
}

func mtry(p, requested int) int {
	if requested > 0 {
		return utils.MinInt(requested, p)
	}
	return utils.MaxInt(1, (p+2)/3)
}

// leafFor routes a covariate vector from a node down to its leaf.
func (t *tree) leafFor(from int, xi []float64) int {
	i := from
	for t.nodes[i].left != -1 {
		if xi[t.nodes[i].feature] <= t.nodes[i].cut {
			i = t.nodes[i].left
		} else {
			i = t.nodes[i].right
		}
	}
	return i
}

// Grow fits a causal forest on a numeric covariate matrix, a continuous
// outcome, and a binary treatment indicator. Trees are grown in parallel;
// each tree draws its own half subsample.
func Grow(x [][]float64, y, w []float64, opt Options) (*Forest, error) {
	p, err := checkInputs(x, y, w)
	if err != nil {
		return nil, err
	}
	if opt.Trees <= 0 {
		opt.Trees = DefaultOptions().Trees
	}
	if opt.MinLeaf <= 0 {
		opt.MinLeaf = DefaultOptions().MinLeaf
	}
	fmt.Println("Growing a causal forest with ", opt.Trees, " trees on ", len(x), " records and ", p, " covariates...")
	n := len(x)
	s := n / 2
	forest := &Forest{trees: make([]tree, opt.Trees), p: p}
	parallel.Range(0, opt.Trees, 0, func(low, high int) {
		for b := low; b < high; b++ {
			idx := make([]int, n)
			for i := range idx {
				idx[i] = i
			}
			for i := 0; i < s; i++ {
				j := i + int(fastrand.Uint32n(uint32(n-i)))
				idx[i], idx[j] = idx[j], idx[i]
			}
			half := s / 2
			forest.trees[b] = growTree(x, y, w, idx[:half], idx[half:s], p, opt)
		}
	})
	importance := make([]float64, p)
	total := 0.0
	for _, t := range forest.trees {
		for f, c := range t.splitCounts {
			importance[f] += c
			total += c
		}
	}
	if total > 0 {
		for f := range importance {
			importance[f] /= total
		}
	}
	forest.importance = importance
	return forest, nil
}

// Importance returns the normalized per-covariate split counts.
func (f *Forest) Importance() []float64 {
	return f.importance
}

// Predict returns the conditional treatment effect and the per-arm outcome
// predictions for one covariate vector, averaged over the trees.
func (f *Forest) Predict(xi []float64) (tau, mu1, mu0 float64) {
	for _, t := range f.trees {
		leaf := t.nodes[t.leafFor(0, xi)]
		tau += leaf.tau
		mu1 += leaf.mu1
		mu0 += leaf.mu0
	}
	b := float64(len(f.trees))
	return tau / b, mu1 / b, mu0 / b
}

// Scores computes the per-record augmented inverse-propensity scores. The
// mean of the scores over any set of records estimates the average treatment
// effect on that set.
func (f *Forest) Scores(x [][]float64, y, w []float64) []float64 {
	ehat := stat.Mean(w, nil)
	if ehat < 0.01 {
		ehat = 0.01
	}
	if ehat > 0.99 {
		ehat = 0.99
	}
	scores := make([]float64, len(x))
	for i, xi := range x {
		tau, mu1, mu0 := f.Predict(xi)
		if w[i] == 1.0 {
			scores[i] = tau + (y[i]-mu1)/ehat
		} else {
			scores[i] = tau - (y[i]-mu0)/(1.0-ehat)
		}
	}
	return scores
}

// EffectEstimate is a treatment effect with its uncertainty and the number of
// records it was estimated on. Subgroup estimates on small N are numerically
// unstable, so N is always reported alongside the estimate.
type EffectEstimate struct {
	ATE float64
	SE  float64
	Lo  float64 //ATE - 1.96 SE
	Hi  float64 //ATE + 1.96 SE
	N   int
}

// Estimate aggregates scores into an effect estimate. A nil mask estimates
// over all records; otherwise only the masked records contribute.
func Estimate(scores []float64, mask []bool) EffectEstimate {
	sub := []float64{}
	for i, s := range scores {
		if mask == nil || mask[i] {
			sub = append(sub, s)
		}
	}
	est := EffectEstimate{ATE: math.NaN(), SE: math.NaN(), Lo: math.NaN(), Hi: math.NaN(), N: len(sub)}
	if len(sub) < 2 {
		return est
	}
	est.ATE = stat.Mean(sub, nil)
	est.SE = stat.StdDev(sub, nil) / math.Sqrt(float64(len(sub)))
	est.Lo = est.ATE - 1.96*est.SE
	est.Hi = est.ATE + 1.96*est.SE
	return est
}

// PrintEffect prints an effect estimate to standard output.
func PrintEffect(label string, est EffectEstimate) {
	fmt.Printf("%s\tATE=%.2f\tSE=%.2f\t95%%=[%.2f, %.2f]\tn=%d\n", label, est.ATE, est.SE, est.Lo, est.Hi, est.N)
}
