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
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/kshedden/dstream/dstream"
	"github.com/kshedden/dstream/formula"
	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"

	"vida/cohort"
)

//Propensity-score matching between the before and during periods. The
//propensity model is a logistic regression of the period label on the
//matching covariates: age bracket, sex, and calendar month. Records are then
//paired 1:1 across the periods by nearest propensity score, optionally
//restricted to exact covariate equality and a maximum score distance
//(caliper).

// propensityFormula is the model formula for the propensity fit.
const propensityFormula = "1 + Bracket + Sex + Month"

// covariateValue maps a model matrix column name onto a record's covariate
// value.
func covariateValue(r *cohort.Record, name string) float64 {
	switch name {
	case "icept":
		return 1.0
	case "Bracket":
		return float64(r.Bracket)
	case "Sex":
		return float64(r.Sex)
	case "Month":
		return float64(r.Date.Month)
	case "Treated":
		return float64(r.Treated)
	case "Value":
		return r.Value
	default:
		panic(fmt.Sprint("unknown model matrix column: ", name))
	}
}

// modelData serializes records into an in-memory csv with the given columns,
// for loading into a dstream.
func modelData(records []*cohort.Record, columns []string) dstream.Dstream {
	var buf bytes.Buffer
	for i, c := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(c)
	}
	buf.WriteByte('\n')
	for _, r := range records {
		for i, c := range columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%g", covariateValue(r, c))
		}
		buf.WriteByte('\n')
	}
	types := make([]dstream.VarType, len(columns))
	for i, c := range columns {
		types[i] = dstream.VarType{Name: c, Type: dstream.Float64}
	}
	dst := dstream.FromCSV(bytes.NewReader(buf.Bytes())).SetTypes(types).ChunkSize(1024).HasHeader().Done()
	return dstream.MemCopy(dst, false)
}

// fitGLM fits a GLM of the given family for an outcome on a model formula and
// returns the fitted parameters together with the predictor names in
// parameter order. The statmodel fit panics on degenerate designs (e.g.
// complete separation or a constant covariate in a small resample); that is
// converted into an error so callers can drop the affected trial.
func fitGLM(records []*cohort.Record, fml, outcome string, family *glm.Family, columns []string) (params []float64, names []string, stderr []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("glm fit failed: %v", r)
		}
	}()
	data := modelData(records, columns)
	f1 := formula.New(fml, data).Keep(outcome).Done()
	f2 := dstream.MemCopy(f1, false)
	f3 := dstream.DropNA(f2)
	allNames := f3.Names()
	cols := make([][]float64, len(allNames))
	f3.Reset()
	for f3.Next() {
		for j := range allNames {
			cols[j] = append(cols[j], f3.GetPos(j).([]float64)...)
		}
	}
	for _, na := range allNames {
		if na != outcome {
			names = append(names, na)
		}
	}
	config := glm.DefaultConfig()
	config.Family = family
	model, err := glm.NewGLM(statmodel.NewDataset(cols, allNames), outcome, names, config)
	if err != nil {
		return nil, nil, nil, err
	}
	rslt := model.Fit()
	params = rslt.Params()
	stderr = rslt.StdErr()
	return params, names, stderr, nil
}

// FitPropensityScores fits the propensity model on a set of records from both
// periods and returns the predicted probability of belonging to the during
// period for each record, in input order.
func FitPropensityScores(records []*cohort.Record) ([]float64, error) {
	fam := glm.NewFamily(glm.BinomialFamily)
	columns := []string{"Treated", "Bracket", "Sex", "Month"}
	params, names, _, err := fitGLM(records, propensityFormula, "Treated", fam, columns)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(records))
	for i, r := range records {
		xb := 0.0
		for j, na := range names {
			xb += params[j] * covariateValue(r, na)
		}
		scores[i] = 1.0 / (1.0 + math.Exp(-xb))
	}
	return scores, nil
}

// Options configures the matching procedure.
type Options struct {
	Caliper      float64 //maximum propensity score distance for a pair; 0 disables the caliper
	ExactSex     bool    //require paired records to have the same sex
	ExactBracket bool    //require paired records to have the same age bracket
	ExactMonth   bool    //require paired records to have the same calendar month
}

// Pair holds one matched record pair across the periods.
type Pair struct {
	Treated  *cohort.Record //the during-period record
	Control  *cohort.Record //the before-period record
	Distance float64        //propensity score distance of the pair
}

// Stats reports how the matching went. Excluded counts records dropped before
// the propensity fit (unknown bracket or missing value); Dropped counts the
// records that found no partner. MatchRate is the fraction of eligible
// records that ended up in a pair; LossRate is the complementary fraction,
// the explicit lost/original metric.
type Stats struct {
	Input     int
	Excluded  int
	Treated   int
	Controls  int
	Pairs     int
	Dropped   int
	MatchRate float64
	LossRate  float64
}

// MatchPeriods balances the before and during groups with 1:1 nearest
// propensity matching without replacement. Every matched record belongs to
// exactly one pair and gets weight 1; unmatched records are dropped and
// counted. Matching is deterministic for a fixed input order: treated records
// are visited in input order and ties on distance keep the earliest control.
func MatchPeriods(records []*cohort.Record, opt Options) ([]Pair, Stats, error) {
	stats := Stats{Input: len(records)}
	eligible := []*cohort.Record{}
	for _, r := range records {
		if r.Bracket == cohort.BracketUnknown || math.IsNaN(r.Value) {
			stats.Excluded++
			continue
		}
		eligible = append(eligible, r)
	}
	treated := []int{}
	controls := []int{}
	for i, r := range eligible {
		if r.Treated == 1 {
			treated = append(treated, i)
		} else {
			controls = append(controls, i)
		}
	}
	stats.Treated = len(treated)
	stats.Controls = len(controls)
	if len(treated) == 0 || len(controls) == 0 {
		return nil, stats, errors.New("matching requires records in both periods")
	}
	scores, err := FitPropensityScores(eligible)
	if err != nil {
		return nil, stats, err
	}
	used := make([]bool, len(eligible))
	pairs := []Pair{}
	for _, ti := range treated {
		t := eligible[ti]
		bestIdx := -1
		bestDist := math.Inf(1)
		for _, ci := range controls {
			if used[ci] {
				continue
			}
			c := eligible[ci]
			if opt.ExactSex && c.Sex != t.Sex {
				continue
			}
			if opt.ExactBracket && c.Bracket != t.Bracket {
				continue
			}
			if opt.ExactMonth && c.Date.Month != t.Date.Month {
				continue
			}
			dist := math.Abs(scores[ti] - scores[ci])
			if opt.Caliper > 0 && dist > opt.Caliper {
				continue
			}
			if dist < bestDist {
				bestDist = dist
				bestIdx = ci
			}
		}
		if bestIdx == -1 {
			continue // no partner within the constraints; this record is dropped
		}
		used[bestIdx] = true
		used[ti] = true
		pairs = append(pairs, Pair{Treated: t, Control: eligible[bestIdx], Distance: bestDist})
	}
	stats.Pairs = len(pairs)
	stats.Dropped = len(eligible) - 2*len(pairs)
	stats.MatchRate = float64(2*len(pairs)) / float64(len(eligible))
	stats.LossRate = float64(stats.Dropped) / float64(len(eligible))
	return pairs, stats, nil
}

// MatchedRecords flattens matched pairs into the matched subset, treated and
// control records interleaved per pair.
func MatchedRecords(pairs []Pair) []*cohort.Record {
	records := []*cohort.Record{}
	for _, pair := range pairs {
		records = append(records, pair.Treated, pair.Control)
	}
	return records
}

// SetWeights marks the matched records with weight 1. Only the one-shot main
// analysis calls this; the bootstrap trials share the record objects across
// workers and must not write to them.
func SetWeights(pairs []Pair) {
	for _, pair := range pairs {
		pair.Treated.Weight = 1.0
		pair.Control.Weight = 1.0
	}
}

// PairDifferences returns the during-minus-before value difference for each
// matched pair.
func PairDifferences(pairs []Pair) []float64 {
	diffs := make([]float64, len(pairs))
	for i, pair := range pairs {
		diffs[i] = pair.Treated.Value - pair.Control.Value
	}
	return diffs
}

// MatchedMeanDifference computes the mean during-minus-before difference over
// the matched pairs. NaN when no informative pair remains.
func MatchedMeanDifference(pairs []Pair) float64 {
	sum := 0.0
	n := 0
	for _, d := range PairDifferences(pairs) {
		if math.IsNaN(d) {
			continue
		}
		sum += d
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// AdjustedDifference fits a Gaussian GLM of the measurement value on the
// treatment indicator and the matching covariates over the matched subset,
// and returns the treatment coefficient with its standard error.
func AdjustedDifference(records []*cohort.Record) (float64, float64, error) {
	fam := glm.NewFamily(glm.GaussianFamily)
	columns := []string{"Value", "Treated", "Bracket", "Sex", "Month"}
	params, names, stderr, err := fitGLM(records, "1 + Treated + Bracket + Sex + Month", "Value", fam, columns)
	if err != nil {
		return math.NaN(), math.NaN(), err
	}
	for i, na := range names {
		if na == "Treated" {
			return params[i], stderr[i], nil
		}
	}
	return math.NaN(), math.NaN(), errors.New("treatment coefficient not in the fitted model")
}

// PrintStats prints the matching statistics to standard output.
func PrintStats(stats Stats) {
	fmt.Println("Matching: ")
	fmt.Println("Input records: ", stats.Input, " of which ", stats.Excluded, " excluded (unknown bracket or missing value).")
	fmt.Println("Eligible: ", stats.Treated, " during and ", stats.Controls, " before.")
	fmt.Printf("Matched %d pairs; dropped %d records without a partner (match rate %.1f%%, loss rate %.1f%%).\n",
		stats.Pairs, stats.Dropped, 100.0*stats.MatchRate, 100.0*stats.LossRate)
}
