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

	"vida/cohort"
)

// makeBalancedCohort builds n records, alternating between the periods, with
// the covariates identically distributed across the two arms so the propensity
// fit stays well-conditioned.
func makeBalancedCohort(n int, shift float64) []*cohort.Record {
	records := make([]*cohort.Record, n)
	for i := 0; i < n; i++ {
		treated := i % 2
		period := cohort.Before
		if treated == 1 {
			period = cohort.During
		}
		value := 20.0 + float64((i/2)%5)
		if treated == 1 {
			value += shift
		}
		records[i] = &cohort.Record{
			RID:     i,
			Sex:     (i / 4) % 2,
			Bracket: (i / 2) % 3,
			Date:    cohort.MeasurementDate{Year: 2019 + treated, Month: 3 + (i/2)%6, Day: 1 + i%28},
			Value:   value,
			Period:  period,
			Treated: treated,
			Season:  cohort.AssignSeason(3 + (i/2)%6),
		}
	}
	return records
}

func TestFitPropensityScores(t *testing.T) {
	records := makeBalancedCohort(80, 0.0)
	scores, err := FitPropensityScores(records)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != len(records) {
		t.Fatalf("got %d scores for %d records", len(scores), len(records))
	}
	for i, s := range scores {
		if s <= 0.0 || s >= 1.0 {
			t.Errorf("score %d = %g outside (0, 1)", i, s)
		}
	}
}

func TestMatchPeriodsPairsDisjoint(t *testing.T) {
	records := makeBalancedCohort(60, 2.0)
	pairs, stats, err := MatchPeriods(records, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) == 0 {
		t.Fatal("expected matched pairs on a balanced cohort")
	}
	seen := map[int]bool{}
	for _, pair := range pairs {
		if pair.Treated.Treated != 1 || pair.Control.Treated != 0 {
			t.Error("pair arms swapped")
		}
		if seen[pair.Treated.RID] || seen[pair.Control.RID] {
			t.Error("a record appears in more than one pair")
		}
		seen[pair.Treated.RID] = true
		seen[pair.Control.RID] = true
	}
	if stats.Pairs != len(pairs) {
		t.Errorf("stats report %d pairs, got %d", stats.Pairs, len(pairs))
	}
	if stats.Dropped != stats.Treated+stats.Controls-2*stats.Pairs {
		t.Errorf("inconsistent dropped count: %+v", stats)
	}
	wantRate := float64(2*stats.Pairs) / float64(stats.Treated+stats.Controls)
	if math.Abs(stats.MatchRate-wantRate) > 1e-9 {
		t.Errorf("match rate %g, want %g", stats.MatchRate, wantRate)
	}
	if math.Abs(stats.MatchRate+stats.LossRate-1.0) > 1e-9 {
		t.Errorf("match and loss rate do not sum to 1: %+v", stats)
	}
}

func TestMatchPeriodsExactConstraints(t *testing.T) {
	records := makeBalancedCohort(80, 0.0)
	opt := Options{ExactSex: true, ExactBracket: true, ExactMonth: true}
	pairs, _, err := MatchPeriods(records, opt)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) == 0 {
		t.Fatal("expected matched pairs under exact constraints on a balanced cohort")
	}
	for _, pair := range pairs {
		if pair.Treated.Sex != pair.Control.Sex {
			t.Error("exact sex constraint violated")
		}
		if pair.Treated.Bracket != pair.Control.Bracket {
			t.Error("exact bracket constraint violated")
		}
		if pair.Treated.Date.Month != pair.Control.Date.Month {
			t.Error("exact month constraint violated")
		}
	}
}

func TestMatchPeriodsExcludesIneligible(t *testing.T) {
	records := makeBalancedCohort(40, 0.0)
	records[0].Bracket = cohort.BracketUnknown
	records[1].Value = math.NaN()
	pairs, stats, err := MatchPeriods(records, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Excluded != 2 {
		t.Errorf("excluded %d records, want 2", stats.Excluded)
	}
	for _, pair := range pairs {
		if pair.Treated.RID < 2 || pair.Control.RID < 2 {
			t.Error("an excluded record ended up in a pair")
		}
	}
}

func TestMatchPeriodsRequiresBothArms(t *testing.T) {
	records := makeBalancedCohort(20, 0.0)
	before := []*cohort.Record{}
	for _, r := range records {
		if r.Treated == 0 {
			before = append(before, r)
		}
	}
	if _, _, err := MatchPeriods(before, Options{}); err == nil {
		t.Error("expected an error when one period is empty")
	}
}

func TestPairDifferences(t *testing.T) {
	pairs := []Pair{
		{Treated: &cohort.Record{Value: 25.0}, Control: &cohort.Record{Value: 20.0}},
		{Treated: &cohort.Record{Value: 18.0}, Control: &cohort.Record{Value: 21.0}},
		{Treated: &cohort.Record{Value: math.NaN()}, Control: &cohort.Record{Value: 21.0}},
	}
	diffs := PairDifferences(pairs)
	if math.Abs(diffs[0]-5.0) > 1e-9 || math.Abs(diffs[1]+3.0) > 1e-9 {
		t.Errorf("unexpected pair differences: %v", diffs)
	}
	// NaN pairs stay in the difference list but not in the mean
	if !math.IsNaN(diffs[2]) {
		t.Errorf("missing value should yield a NaN difference, got %g", diffs[2])
	}
	if mean := MatchedMeanDifference(pairs); math.Abs(mean-1.0) > 1e-9 {
		t.Errorf("matched mean difference = %g, want 1", mean)
	}
}

func TestSetWeights(t *testing.T) {
	treated := &cohort.Record{Value: 25.0}
	control := &cohort.Record{Value: 20.0}
	SetWeights([]Pair{{Treated: treated, Control: control}})
	if treated.Weight != 1.0 || control.Weight != 1.0 {
		t.Error("matched records should carry weight 1")
	}
}

func TestAdjustedDifference(t *testing.T) {
	// a constant 4-unit shift between the arms: the treatment coefficient
	// should recover it
	records := makeBalancedCohort(200, 4.0)
	est, se, err := AdjustedDifference(records)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(est-4.0) > 0.5 {
		t.Errorf("adjusted difference = %g, want about 4", est)
	}
	if se < 0.0 || math.IsNaN(se) {
		t.Errorf("invalid standard error: %g", se)
	}
}
