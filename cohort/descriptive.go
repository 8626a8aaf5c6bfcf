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

package cohort

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Descriptive statistics: group-wise means, deficiency tables, and the
// chi-square and t-test comparisons between the two periods. A failed
// statistical sub-test yields a NaN p-value for its row; the other rows of
// the containing table are unaffected.

// GroupStat holds the summary of the measurement values for one group of
// records.
type GroupStat struct {
	Label string
	N     int
	Mean  float64
	SD    float64
}

// summarize computes N, mean, and standard deviation over the non-missing
// values of a list of records.
func summarize(label string, records []*Record) GroupStat {
	values := []float64{}
	for _, r := range records {
		if !math.IsNaN(r.Value) {
			values = append(values, r.Value)
		}
	}
	if len(values) == 0 {
		return GroupStat{Label: label, N: 0, Mean: math.NaN(), SD: math.NaN()}
	}
	return GroupStat{
		Label: label,
		N:     len(values),
		Mean:  stat.Mean(values, nil),
		SD:    stat.StdDev(values, nil),
	}
}

// GroupStats computes per-group summaries. The key function maps a record to
// a group id, or reports false to exclude the record; groups appear in the
// order given by groupIDs.
func GroupStats(ds *Dataset, groupIDs []int, name func(int) string, key func(r *Record) (int, bool)) []GroupStat {
	groups := map[int][]*Record{}
	for _, r := range ds.Records {
		if g, ok := key(r); ok {
			groups[g] = append(groups[g], r)
		}
	}
	result := []GroupStat{}
	for _, g := range groupIDs {
		result = append(result, summarize(name(g), groups[g]))
	}
	return result
}

// MeansByPeriod summarizes the measurement values per period.
func MeansByPeriod(ds *Dataset) []GroupStat {
	return GroupStats(ds, []int{Before, During}, PeriodName, func(r *Record) (int, bool) {
		return r.Period, r.Period != PeriodUnassigned
	})
}

// MeansBySeason summarizes the measurement values per season for one period.
func MeansBySeason(ds *Dataset, period int) []GroupStat {
	return GroupStats(ds, []int{Winter, Spring, Summer, Autumn}, SeasonName, func(r *Record) (int, bool) {
		return r.Season, r.Period == period
	})
}

// MeansBySex summarizes the measurement values per sex for one period.
func MeansBySex(ds *Dataset, period int) []GroupStat {
	name := func(sex int) string {
		if sex == Male {
			return "Male"
		}
		return "Female"
	}
	return GroupStats(ds, []int{Male, Female}, name, func(r *Record) (int, bool) {
		return r.Sex, r.Period == period
	})
}

// MeansByBracket summarizes the measurement values per age bracket for one
// period, including the Unknown bracket so its size stays visible.
func MeansByBracket(ds *Dataset, period int) []GroupStat {
	brackets := []int{BracketYoung, BracketAdult, BracketSenior, BracketUnknown}
	return GroupStats(ds, brackets, BracketName, func(r *Record) (int, bool) {
		return r.Bracket, r.Period == period
	})
}

// MonthlyStat holds the per-calendar-month summary for one period.
type MonthlyStat struct {
	Period int
	Month  int
	N      int
	Mean   float64
	SD     float64
}

// MonthlyMeans computes per-month summaries for one period, in the calendar
// order of the analysis windows (March through February).
func MonthlyMeans(ds *Dataset, period int) []MonthlyStat {
	months := []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 1, 2}
	byMonth := map[int][]*Record{}
	for _, r := range ds.Records {
		if r.Period == period {
			byMonth[r.Date.Month] = append(byMonth[r.Date.Month], r)
		}
	}
	result := []MonthlyStat{}
	for _, m := range months {
		s := summarize(strconv.Itoa(m), byMonth[m])
		result = append(result, MonthlyStat{Period: period, Month: m, N: s.N, Mean: s.Mean, SD: s.SD})
	}
	return result
}

// DeficiencyRow holds the deficiency counts for one group. Records with an
// unknown deficiency flag are counted separately and take no part in the
// rate.
type DeficiencyRow struct {
	Label      string
	Deficient  int
	Sufficient int
	Unknown    int
	Rate       float64
	ChiSquare  float64 //test statistic against the reference row, NaN when untested
	P          float64 //p-value against the reference row, NaN when untested
}

// deficiencyCounts tallies the deficiency flags of a list of records.
func deficiencyCounts(label string, records []*Record) DeficiencyRow {
	row := DeficiencyRow{Label: label, ChiSquare: math.NaN(), P: math.NaN()}
	for _, r := range records {
		switch r.Deficient {
		case Deficient:
			row.Deficient++
		case Sufficient:
			row.Sufficient++
		default:
			row.Unknown++
		}
	}
	if row.Deficient+row.Sufficient > 0 {
		row.Rate = float64(row.Deficient) / float64(row.Deficient+row.Sufficient)
	} else {
		row.Rate = math.NaN()
	}
	return row
}

// ChiSquare2x2 computes the chi-square statistic and p-value for a 2x2
// contingency table [[a b] [c d]]. It returns an error on degenerate tables
// (a zero marginal), in which case both results are NaN.
func ChiSquare2x2(a, b, c, d int) (float64, float64, error) {
	n := float64(a + b + c + d)
	r1 := float64(a + b)
	r2 := float64(c + d)
	c1 := float64(a + c)
	c2 := float64(b + d)
	if r1 == 0 || r2 == 0 || c1 == 0 || c2 == 0 {
		return math.NaN(), math.NaN(), errors.New("chi-square on degenerate table")
	}
	x2 := 0.0
	obs := []float64{float64(a), float64(b), float64(c), float64(d)}
	exp := []float64{r1 * c1 / n, r1 * c2 / n, r2 * c1 / n, r2 * c2 / n}
	for i, o := range obs {
		x2 += (o - exp[i]) * (o - exp[i]) / exp[i]
	}
	p := distuv.ChiSquared{K: 1}.Survival(x2)
	return x2, p, nil
}

// DeficiencyByPeriod builds the deficiency table for the two periods and
// tests the during row against the before row with a chi-square test. A
// degenerate table leaves NaN p-values but still returns the counts.
func DeficiencyByPeriod(ds *Dataset) []DeficiencyRow {
	before := []*Record{}
	during := []*Record{}
	for _, r := range ds.Records {
		switch r.Period {
		case Before:
			before = append(before, r)
		case During:
			during = append(during, r)
		}
	}
	rows := []DeficiencyRow{
		deficiencyCounts(PeriodName(Before), before),
		deficiencyCounts(PeriodName(During), during),
	}
	x2, p, err := ChiSquare2x2(rows[0].Deficient, rows[0].Sufficient, rows[1].Deficient, rows[1].Sufficient)
	if err == nil {
		rows[1].ChiSquare = x2
		rows[1].P = p
	}
	return rows
}

// DeficiencyBySeason builds per-season deficiency tables for one period, each
// row tested against the pooled remaining seasons. A degenerate sub-table
// only loses its own p-value.
func DeficiencyBySeason(ds *Dataset, period int) []DeficiencyRow {
	bySeason := map[int][]*Record{}
	total := DeficiencyRow{}
	for _, r := range ds.Records {
		if r.Period != period {
			continue
		}
		bySeason[r.Season] = append(bySeason[r.Season], r)
		switch r.Deficient {
		case Deficient:
			total.Deficient++
		case Sufficient:
			total.Sufficient++
		}
	}
	rows := []DeficiencyRow{}
	for _, s := range []int{Winter, Spring, Summer, Autumn} {
		row := deficiencyCounts(SeasonName(s), bySeason[s])
		restDef := total.Deficient - row.Deficient
		restSuf := total.Sufficient - row.Sufficient
		x2, p, err := ChiSquare2x2(row.Deficient, row.Sufficient, restDef, restSuf)
		if err == nil {
			row.ChiSquare = x2
			row.P = p
		}
		rows = append(rows, row)
	}
	return rows
}

// WelchTTest computes the two-sided Welch t-test for a difference in means
// between two samples. It returns the t statistic, the degrees of freedom,
// and the p-value, or an error when either sample is too small or has zero
// variance.
func WelchTTest(x, y []float64) (float64, float64, float64, error) {
	if len(x) < 2 || len(y) < 2 {
		return math.NaN(), math.NaN(), math.NaN(), errors.New("t-test requires at least two values per sample")
	}
	mx := stat.Mean(x, nil)
	my := stat.Mean(y, nil)
	vx := stat.Variance(x, nil)
	vy := stat.Variance(y, nil)
	nx := float64(len(x))
	ny := float64(len(y))
	se2 := vx/nx + vy/ny
	if se2 == 0 {
		return math.NaN(), math.NaN(), math.NaN(), errors.New("t-test on samples with zero variance")
	}
	t := (my - mx) / math.Sqrt(se2)
	df := se2 * se2 / ((vx*vx)/(nx*nx*(nx-1)) + (vy*vy)/(ny*ny*(ny-1)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2.0 * dist.CDF(-math.Abs(t))
	return t, df, p, nil
}

// ValuesByPeriod collects the non-missing measurement values of the two
// periods.
func ValuesByPeriod(ds *Dataset) ([]float64, []float64) {
	before := []float64{}
	during := []float64{}
	for _, r := range ds.Records {
		if math.IsNaN(r.Value) {
			continue
		}
		switch r.Period {
		case Before:
			before = append(before, r.Value)
		case During:
			during = append(during, r.Value)
		}
	}
	return before, during
}

// PeriodComparison holds the headline comparison of the two periods: the raw
// difference of means and its Welch t-test.
type PeriodComparison struct {
	NBefore, NDuring       int
	MeanBefore, MeanDuring float64
	Diff                   float64
	T, DF, P               float64
}

// ComparePeriods computes the unadjusted during-minus-before comparison. A
// failed t-test leaves NaN test fields, never aborts the comparison.
func ComparePeriods(ds *Dataset) PeriodComparison {
	before, during := ValuesByPeriod(ds)
	cmp := PeriodComparison{
		NBefore: len(before), NDuring: len(during),
		MeanBefore: math.NaN(), MeanDuring: math.NaN(),
		Diff: math.NaN(), T: math.NaN(), DF: math.NaN(), P: math.NaN(),
	}
	if len(before) > 0 {
		cmp.MeanBefore = stat.Mean(before, nil)
	}
	if len(during) > 0 {
		cmp.MeanDuring = stat.Mean(during, nil)
	}
	cmp.Diff = cmp.MeanDuring - cmp.MeanBefore
	if t, df, p, err := WelchTTest(before, during); err == nil {
		cmp.T = t
		cmp.DF = df
		cmp.P = p
	}
	return cmp
}

// PrintGroupStats prints a group summary table to standard output.
func PrintGroupStats(title string, rows []GroupStat) {
	fmt.Println(title)
	for _, row := range rows {
		fmt.Printf("%s\tn=%d\tmean=%.2f\tsd=%.2f\n", row.Label, row.N, row.Mean, row.SD)
	}
}

// PrintDeficiencyTable prints a deficiency table to standard output. Rows
// without a p-value print NA.
func PrintDeficiencyTable(title string, rows []DeficiencyRow) {
	fmt.Println(title)
	for _, row := range rows {
		pstr := "NA"
		if !math.IsNaN(row.P) {
			pstr = strconv.FormatFloat(row.P, 'g', 4, 64)
		}
		fmt.Printf("%s\tdeficient=%d\tsufficient=%d\tunknown=%d\trate=%.1f%%\tp=%s\n",
			row.Label, row.Deficient, row.Sufficient, row.Unknown, 100.0*row.Rate, pstr)
	}
}
