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
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/exascience/pargo/parallel"

	"gonum.org/v1/gonum/stat"

	"vida/cohort"
)

//Resampled inference. The bootstrap repeats N independent trials: draw a
//random fraction of the labeled dataset, rerun the matching procedure on the
//draw, and record the matched mean difference. Trials run across the
//GOMAXPROCS worker pool with no shared mutable state; each trial derives its
//own random source from the base seed plus the trial index, so a run is
//reproducible for a fixed base seed. The empirical 2.5/97.5 percentiles of
//the surviving estimates form the confidence interval.

// BootstrapOptions configures the resampling procedure.
type BootstrapOptions struct {
	Trials   int     //number of trials
	Fraction float64 //fraction of the dataset drawn per trial, without replacement
	Seed     int64   //base seed; trial i uses Seed+i
	MinPairs int     //trials with fewer matched pairs count as failed
	Match    Options //matching options reused per trial
}

// BootstrapResult holds the collected estimates and the interval derived from
// them.
type BootstrapResult struct {
	Estimates []float64 //per-trial estimates in trial order, NaN for failed trials
	Succeeded int
	Failed    int
	Mean      float64
	Lo        float64 //empirical 2.5 percentile
	Hi        float64 //empirical 97.5 percentile
}

// runTrial executes one (sample, match, estimate) trial. Any panic inside the
// trial (e.g. a degenerate propensity fit on an unlucky draw) marks the trial
// as failed instead of terminating the batch.
func runTrial(records []*cohort.Record, opt BootstrapOptions, seed int64) (estimate float64) {
	estimate = math.NaN()
	defer func() {
		if r := recover(); r != nil {
			estimate = math.NaN()
		}
	}()
	rng := rand.New(rand.NewSource(seed))
	m := int(opt.Fraction * float64(len(records)))
	if m < 4 || m > len(records) {
		return estimate
	}
	perm := rng.Perm(len(records))
	sample := make([]*cohort.Record, m)
	for i := 0; i < m; i++ {
		sample[i] = records[perm[i]]
	}
	pairs, _, err := MatchPeriods(sample, opt.Match)
	if err != nil {
		return estimate
	}
	if len(pairs) < opt.MinPairs {
		return estimate
	}
	return MatchedMeanDifference(pairs)
}

// BootstrapMatchedDifference runs the full resampling procedure. Results are
// written into a per-trial slot, so workers never contend; aggregation starts
// only after the parallel range joins.
func BootstrapMatchedDifference(records []*cohort.Record, opt BootstrapOptions) *BootstrapResult {
	fmt.Println("Bootstrapping the matched difference: ", opt.Trials, " trials on a ",
		opt.Fraction, " sample fraction...")
	estimates := make([]float64, opt.Trials)
	parallel.Range(0, opt.Trials, 0, func(low, high int) {
		for i := low; i < high; i++ {
			estimates[i] = runTrial(records, opt, opt.Seed+int64(i))
		}
	})
	result := &BootstrapResult{Estimates: estimates, Mean: math.NaN(), Lo: math.NaN(), Hi: math.NaN()}
	valid := []float64{}
	for _, e := range estimates {
		if math.IsNaN(e) {
			result.Failed++
			continue
		}
		result.Succeeded++
		valid = append(valid, e)
	}
	if len(valid) > 0 {
		sort.Float64s(valid)
		result.Mean = stat.Mean(valid, nil)
		result.Lo = stat.Quantile(0.025, stat.Empirical, valid, nil)
		result.Hi = stat.Quantile(0.975, stat.Empirical, valid, nil)
	}
	fmt.Println("Bootstrap finished: ", result.Succeeded, " trials succeeded, ", result.Failed, " dropped.")
	return result
}

// PrintBootstrap prints the bootstrap interval to standard output.
func PrintBootstrap(result *BootstrapResult) {
	fmt.Printf("Matched difference (during - before): %.2f [%.2f, %.2f] (95%% bootstrap interval, %d/%d trials)\n",
		result.Mean, result.Lo, result.Hi, result.Succeeded, result.Succeeded+result.Failed)
}
