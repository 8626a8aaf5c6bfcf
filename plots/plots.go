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

package plots

import (
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"vida/causal"
	"vida/cohort"
)

// Plotting of the analysis outputs: a monthly means line chart, a group
// means error-bar chart, a deficiency rate bar chart, and a subgroup effect
// forest plot. All charts are written as PNG files.

var monthLabels = []string{"Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec", "Jan", "Feb"}

// meanErrorPoints adapts mean/error rows for the gonum error bar plotters.
type meanErrorPoints struct {
	xs, ys, errs []float64
}

func (m meanErrorPoints) Len() int                        { return len(m.xs) }
func (m meanErrorPoints) XY(i int) (float64, float64)     { return m.xs[i], m.ys[i] }
func (m meanErrorPoints) YError(i int) (float64, float64) { return m.errs[i], m.errs[i] }
func (m meanErrorPoints) XError(i int) (float64, float64) { return m.errs[i], m.errs[i] }

func (m meanErrorPoints) xyPoints() plotter.XYs {
	xys := make(plotter.XYs, m.Len())
	for i := range xys {
		xys[i] = plotter.XY{X: m.xs[i], Y: m.ys[i]}
	}
	return xys
}

// monthlyXYs converts monthly stats to line points in window order, skipping
// empty months.
func monthlyXYs(rows []cohort.MonthlyStat) plotter.XYs {
	xys := plotter.XYs{}
	for i, row := range rows {
		if math.IsNaN(row.Mean) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i), Y: row.Mean})
	}
	return xys
}

// MonthlyMeansLine plots the per-month mean Vitamin D level of the two
// periods as a line chart.
func MonthlyMeansLine(before, during []cohort.MonthlyStat, name string) {
	p := plot.New()
	p.Title.Text = "Mean Vitamin D level per month"
	p.X.Label.Text = "Month"
	p.Y.Label.Text = "25-OH Vitamin D (ng/mL)"
	lineB, err := plotter.NewLine(monthlyXYs(before))
	if err != nil {
		panic(err)
	}
	lineD, err := plotter.NewLine(monthlyXYs(during))
	if err != nil {
		panic(err)
	}
	lineD.LineStyle.Color = color.RGBA{R: 196, A: 255}
	lineD.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(lineB, lineD)
	p.Legend.Add("before", lineB)
	p.Legend.Add("during", lineD)
	p.NominalX(monthLabels...)
	if err := p.Save(8*vg.Inch, 5*vg.Inch, name); err != nil {
		panic(err)
	}
}

// GroupMeansErrorBars plots group means with standard error bars.
func GroupMeansErrorBars(title string, rows []cohort.GroupStat, name string) {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "25-OH Vitamin D (ng/mL)"
	points := meanErrorPoints{}
	labels := []string{}
	for _, row := range rows {
		if math.IsNaN(row.Mean) || row.N < 2 {
			continue
		}
		points.xs = append(points.xs, float64(len(labels)))
		points.ys = append(points.ys, row.Mean)
		points.errs = append(points.errs, row.SD/math.Sqrt(float64(row.N)))
		labels = append(labels, row.Label)
	}
	scatter, err := plotter.NewScatter(points.xyPoints())
	if err != nil {
		panic(err)
	}
	bars, err := plotter.NewYErrorBars(points)
	if err != nil {
		panic(err)
	}
	p.Add(scatter, bars)
	p.NominalX(labels...)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, name); err != nil {
		panic(err)
	}
}

// DeficiencyRateBars plots deficiency rates per group as a bar chart.
func DeficiencyRateBars(title string, rows []cohort.DeficiencyRow, name string) {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Deficiency rate (%)"
	values := plotter.Values{}
	labels := []string{}
	for _, row := range rows {
		if math.IsNaN(row.Rate) {
			continue
		}
		values = append(values, 100.0*row.Rate)
		labels = append(labels, row.Label)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(25))
	if err != nil {
		panic(err)
	}
	p.Add(bars)
	p.NominalX(labels...)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, name); err != nil {
		panic(err)
	}
}

// EffectForest plots subgroup effect estimates with their intervals as a
// horizontal forest plot, one row per subgroup.
func EffectForest(title string, labels []string, estimates []causal.EffectEstimate, name string) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Average treatment effect (ng/mL)"
	points := meanErrorPoints{}
	kept := []string{}
	for i, est := range estimates {
		if math.IsNaN(est.ATE) {
			continue
		}
		points.xs = append(points.xs, est.ATE)
		points.ys = append(points.ys, float64(len(kept)))
		points.errs = append(points.errs, 1.96*est.SE)
		kept = append(kept, labels[i])
	}
	scatter, err := plotter.NewScatter(points.xyPoints())
	if err != nil {
		panic(err)
	}
	bars, err := plotter.NewXErrorBars(points)
	if err != nil {
		panic(err)
	}
	zero := plotter.XYs{{X: 0, Y: -0.5}, {X: 0, Y: float64(len(kept)) - 0.5}}
	zeroLine, err := plotter.NewLine(zero)
	if err != nil {
		panic(err)
	}
	zeroLine.LineStyle.Color = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	zeroLine.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(zeroLine, scatter, bars)
	p.NominalY(kept...)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, name); err != nil {
		panic(err)
	}
}
