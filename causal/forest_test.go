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
	"math"
	"math/rand"
	"testing"
)

// makeForestData builds a deterministic synthetic dataset with integer-encoded
// covariates, alternating treatment, and outcome = baseline + effect * w +
// noise.
func makeForestData(n int, effect float64, seed int64) ([][]float64, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = []float64{
			float64(rng.Intn(3)),      //bracket
			float64(rng.Intn(2)),      //sex
			float64(1 + rng.Intn(12)), //month
			float64(rng.Intn(4)),      //season
		}
		w[i] = float64(i % 2)
		y[i] = 25.0 + x[i][0] + effect*w[i] + rng.NormFloat64()
	}
	return x, y, w
}

func TestGrowRejectsBadInputs(t *testing.T) {
	x, y, w := makeForestData(20, 0.0, 1)
	if _, err := Grow(x[:5], y[:5], w[:5], DefaultOptions()); err == nil {
		t.Error("expected an error on too few records")
	}
	if _, err := Grow(x, y[:10], w, DefaultOptions()); err == nil {
		t.Error("expected an error on mismatched lengths")
	}
	x[3][1] = math.NaN()
	if _, err := Grow(x, y, w, DefaultOptions()); err == nil {
		t.Error("expected an error on a NaN covariate")
	}
	x[3][1] = 0.0
	w[3] = 0.5
	if _, err := Grow(x, y, w, DefaultOptions()); err == nil {
		t.Error("expected an error on a non-binary treatment indicator")
	}
}

func TestForestNullEffect(t *testing.T) {
	x, y, w := makeForestData(200, 0.0, 2)
	forest, err := Grow(x, y, w, Options{Trees: 80, MinLeaf: 5})
	if err != nil {
		t.Fatal(err)
	}
	scores := forest.Scores(x, y, w)
	est := Estimate(scores, nil)
	if est.N != 200 {
		t.Errorf("estimate over %d records, want 200", est.N)
	}
	// the true effect is zero; allow a wide margin around it
	if math.Abs(est.ATE) > 1.0 {
		t.Errorf("null-effect estimate = %g, want about 0", est.ATE)
	}
	if est.Lo > est.Hi || est.SE <= 0.0 {
		t.Errorf("inconsistent interval: %+v", est)
	}
}

func TestForestNullEffectIntervalCoverage(t *testing.T) {
	// over repeated independent null datasets the 95% interval should
	// contain zero nearly always; the bound is tolerant because the forest
	// subsampling is not seedable
	draws := 40
	contained := 0
	for d := 0; d < draws; d++ {
		x, y, w := makeForestData(200, 0.0, int64(100+d))
		forest, err := Grow(x, y, w, Options{Trees: 60, MinLeaf: 5})
		if err != nil {
			t.Fatal(err)
		}
		est := Estimate(forest.Scores(x, y, w), nil)
		if est.Lo <= 0.0 && 0.0 <= est.Hi {
			contained++
		}
	}
	if contained < 34 {
		t.Errorf("null-effect interval contained zero in %d/%d draws, want at least 34", contained, draws)
	}
}

func TestForestRecoversEffect(t *testing.T) {
	x, y, w := makeForestData(200, 5.0, 3)
	forest, err := Grow(x, y, w, Options{Trees: 80, MinLeaf: 5})
	if err != nil {
		t.Fatal(err)
	}
	scores := forest.Scores(x, y, w)
	est := Estimate(scores, nil)
	if math.Abs(est.ATE-5.0) > 1.5 {
		t.Errorf("effect estimate = %g, want about 5", est.ATE)
	}
}

func TestImportanceNormalized(t *testing.T) {
	x, y, w := makeForestData(200, 5.0, 4)
	forest, err := Grow(x, y, w, Options{Trees: 40, MinLeaf: 5})
	if err != nil {
		t.Fatal(err)
	}
	importance := forest.Importance()
	if len(importance) != 4 {
		t.Fatalf("importance over %d covariates, want 4", len(importance))
	}
	total := 0.0
	for _, imp := range importance {
		if imp < 0.0 {
			t.Errorf("negative importance: %v", importance)
		}
		total += imp
	}
	if total > 0.0 && math.Abs(total-1.0) > 1e-9 {
		t.Errorf("importance sums to %g, want 1", total)
	}
}

func TestEstimateSubgroups(t *testing.T) {
	scores := []float64{1, 2, 3, 4, 5, 6}
	mask := []bool{true, true, true, false, false, false}
	est := Estimate(scores, mask)
	if est.N != 3 {
		t.Errorf("subgroup size = %d, want 3", est.N)
	}
	if math.Abs(est.ATE-2.0) > 1e-9 {
		t.Errorf("subgroup estimate = %g, want 2", est.ATE)
	}
	// a single-record subgroup reports its size but no estimate
	single := Estimate(scores, []bool{true, false, false, false, false, false})
	if single.N != 1 || !math.IsNaN(single.ATE) {
		t.Errorf("single-record subgroup should yield NaN with n=1, got %+v", single)
	}
}

func TestPredictConsistentWithLeaves(t *testing.T) {
	x, y, w := makeForestData(100, 3.0, 5)
	forest, err := Grow(x, y, w, Options{Trees: 20, MinLeaf: 5})
	if err != nil {
		t.Fatal(err)
	}
	tau, mu1, mu0 := forest.Predict(x[0])
	if math.IsNaN(tau) || math.IsNaN(mu1) || math.IsNaN(mu0) {
		t.Fatal("prediction on training data should never be NaN")
	}
	if math.Abs(tau-(mu1-mu0)) > 1e-9 {
		t.Errorf("tau %g inconsistent with mu1-mu0 = %g", tau, mu1-mu0)
	}
}
