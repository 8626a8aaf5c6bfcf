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

package match

import (
	"math"
	"testing"
)

func TestBootstrapDeterministicForFixedSeed(t *testing.T) {
	records := makeBalancedCohort(100, 5.0)
	opt := BootstrapOptions{Trials: 20, Fraction: 0.6, Seed: 42, MinPairs: 5}
	r1 := BootstrapMatchedDifference(records, opt)
	r2 := BootstrapMatchedDifference(records, opt)
	if len(r1.Estimates) != len(r2.Estimates) {
		t.Fatal("estimate counts differ between identical runs")
	}
	for i := range r1.Estimates {
		a, b := r1.Estimates[i], r2.Estimates[i]
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if a != b {
			t.Fatalf("trial %d differs between identical runs: %g vs %g", i, a, b)
		}
	}
}

func TestBootstrapRecoversShift(t *testing.T) {
	// 5-unit shift between the periods: the bootstrap mean should land on it
	records := makeBalancedCohort(100, 5.0)
	opt := BootstrapOptions{Trials: 40, Fraction: 0.6, Seed: 7, MinPairs: 5}
	result := BootstrapMatchedDifference(records, opt)
	if result.Succeeded == 0 {
		t.Fatal("no bootstrap trial succeeded")
	}
	if math.Abs(result.Mean-5.0) > 1.5 {
		t.Errorf("bootstrap mean = %g, want about 5", result.Mean)
	}
	if result.Lo > result.Hi {
		t.Errorf("interval bounds inverted: [%g, %g]", result.Lo, result.Hi)
	}
	if result.Lo > result.Mean || result.Hi < result.Mean {
		t.Errorf("mean %g outside the interval [%g, %g]", result.Mean, result.Lo, result.Hi)
	}
}

func TestBootstrapCountsFailedTrials(t *testing.T) {
	// a tiny cohort with a high MinPairs bound: trials fail, the run does not
	records := makeBalancedCohort(12, 0.0)
	opt := BootstrapOptions{Trials: 10, Fraction: 0.5, Seed: 1, MinPairs: 100}
	result := BootstrapMatchedDifference(records, opt)
	if result.Failed != 10 || result.Succeeded != 0 {
		t.Errorf("expected all trials to fail, got %d/%d", result.Succeeded, result.Failed)
	}
	if !math.IsNaN(result.Mean) {
		t.Errorf("mean over zero trials should be NaN, got %g", result.Mean)
	}
}
