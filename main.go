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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"vida/app"
	"vida/causal"
	"vida/cohort"
	"vida/match"
	"vida/plots"
	"vida/utils"
)

/*
Vida is a tool for analyzing the effect of the pandemic period on population
Vitamin D levels.

Usage:
	vida mfile sfile path [flags]

Example:
	vida measurements.csv stringency.csv ./vitd_run1/ --name vitd_run1 --trials 1000 --fraction 0.5
	--caliper 0.05 --exact month --threshold 20 --trees 500 --rfilters id

The flags are:

--name string
	Sets the name of the run. This name is used to generate names for output files.
--threshold nr
	Sets the clinical deficiency cutoff in ng/mL. Values strictly below the cutoff classify as deficient.
--rfilters id | male | female | winter | spring | summer | autumn | young | adult | senior | screening | bone | workup
	A list of filters for selecting records on which to run the analysis.
--caliper nr
	Sets the maximum allowed propensity score distance for an accepted match. 0 disables the caliper.
--exact sex | bracket | month
	A list of covariates on which matched pairs must agree exactly.
--trials nr
	Sets the number of bootstrap trials. With 1000 trials the percentile interval is stable to roughly one
	decimal; more trials increase the runtime linearly.
--fraction nr
	Sets the fraction of the dataset drawn (without replacement) in each bootstrap trial. E.g. 0.5 for half.
--seed nr
	Sets the base random seed for the bootstrap. Trial i derives its seed as seed+i, so a run is reproducible
	for a fixed seed.
--minPairs nr
	Sets the minimum number of matched pairs for a bootstrap trial to count; trials below are dropped.
--trees nr
	Sets the number of trees in the causal forest.
--minLeaf nr
	Sets the minimum number of records per treatment arm in a leaf of the causal forest.
--mtry nr
	Sets the number of covariates tried per split in the causal forest. 0 picks a third of the covariates.
--nrOfThreads nr
	The number of threads vida uses. Defaults to the number of cores minus one.
*/

const (
	programVersion = 0.1
	programName    = "vida"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const vidaHelp = "\nvida parameters:\n" +
	"vida measurementFile stringencyFile outputPath \n" +
	"[--name string]\n" +
	"[--threshold nr]\n" +
	"[--rfilters id | male | female | winter | spring | summer | autumn | young | adult | senior | screening |" +
	" bone | workup]\n" +
	"[--caliper nr]\n" +
	"[--exact sex | bracket | month]\n" +
	"[--trials nr]\n" +
	"[--fraction nr]\n" +
	"[--seed nr]\n" +
	"[--minPairs nr]\n" +
	"[--trees nr]\n" +
	"[--minLeaf nr]\n" +
	"[--mtry nr]\n" +
	"[--nrOfThreads nr]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func getFileName(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return s
}

func getRecordFilter(s string) cohort.RecordFilter {
	id := func(r *cohort.Record) bool { return true }
	switch s {
	case "id":
		return id
	case "male":
		return cohort.FemaleFilter()
	case "female":
		return cohort.MaleFilter()
	case "winter":
		return cohort.SeasonFilter(cohort.Winter)
	case "spring":
		return cohort.SeasonFilter(cohort.Spring)
	case "summer":
		return cohort.SeasonFilter(cohort.Summer)
	case "autumn":
		return cohort.SeasonFilter(cohort.Autumn)
	case "young":
		return cohort.BracketFilter(cohort.BracketYoung)
	case "adult":
		return cohort.BracketFilter(cohort.BracketAdult)
	case "senior":
		return cohort.BracketFilter(cohort.BracketSenior)
	case "screening":
		return app.RoutineScreeningAggregator()
	case "bone":
		return app.BoneDiseaseAggregator()
	case "workup":
		return app.DeficiencyWorkupAggregator()
	default:
		return id
	}
}

func getRecordFilters(f string) []cohort.RecordFilter {
	fs := strings.Split(f, ",")
	result := []cohort.RecordFilter{}
	for _, f := range fs {
		result = append(result, getRecordFilter(f))
	}
	return result
}

func getMatchOptions(caliper float64, exact string) match.Options {
	opt := match.Options{Caliper: caliper}
	for _, e := range strings.Split(exact, ",") {
		switch e {
		case "sex":
			opt.ExactSex = true
		case "bracket":
			opt.ExactBracket = true
		case "month":
			opt.ExactMonth = true
		}
	}
	return opt
}

// covariateNames is the covariate order of the causal forest matrix.
var covariateNames = []string{"Bracket", "Sex", "Month", "Season"}

// encodeCovariates builds the integer-encoded covariate matrix, the outcome
// vector, and the binary treatment vector for the causal forest.
func encodeCovariates(records []*cohort.Record) ([][]float64, []float64, []float64) {
	x := make([][]float64, len(records))
	y := make([]float64, len(records))
	w := make([]float64, len(records))
	for i, r := range records {
		x[i] = []float64{float64(r.Bracket), float64(r.Sex), float64(r.Date.Month), float64(r.Season)}
		y[i] = r.Value
		w[i] = float64(r.Treated)
	}
	return x, y, w
}

// subgroupMasks builds the sensitivity subgroups: the cross of age bracket and
// sex, plus the four seasons.
func subgroupMasks(records []*cohort.Record) ([]string, [][]bool) {
	labels := []string{}
	masks := [][]bool{}
	for _, bracket := range []int{cohort.BracketYoung, cohort.BracketAdult, cohort.BracketSenior} {
		for _, sex := range []int{cohort.Male, cohort.Female} {
			mask := make([]bool, len(records))
			for i, r := range records {
				mask[i] = r.Bracket == bracket && r.Sex == sex
			}
			sexName := "M"
			if sex == cohort.Female {
				sexName = "F"
			}
			labels = append(labels, fmt.Sprintf("%s/%s", cohort.BracketName(bracket), sexName))
			masks = append(masks, mask)
		}
	}
	for _, season := range []int{cohort.Winter, cohort.Spring, cohort.Summer, cohort.Autumn} {
		mask := make([]bool, len(records))
		for i, r := range records {
			mask[i] = r.Season == season
		}
		labels = append(labels, cohort.SeasonName(season))
		masks = append(masks, mask)
	}
	return labels, masks
}

func main() {
	var (
		// required parameters
		measurementFile string //The file with laboratory measurements (record ID, sex, age code, date, value, etc)
		stringencyFile  string //The file with the daily policy stringency index
		outputPath      string //The path where output files are written.
		// optional flags
		name        string
		threshold   float64
		rfilters    string
		caliper     float64
		exact       string
		trials      int
		fraction    float64
		seed        int64
		minPairs    int
		trees       int
		minLeaf     int
		mtry        int
		nrOfThreads int
	)
	var flags flag.FlagSet
	// options for the vida command
	flags.StringVar(&name, "name", "exp1", "The name of the run. This is used to generate the "+
		"names of the output files.")
	flags.Float64Var(&threshold, "threshold", 20.0, "The clinical deficiency cutoff in ng/mL. "+
		"Values strictly below the cutoff classify as deficient.")
	flags.StringVar(&rfilters, "rfilters", "id", "A list of rfilters to restrict analysis on specific "+
		"records.")
	flags.Float64Var(&caliper, "caliper", 0.05, "The maximum allowed propensity score distance "+
		"for an accepted match. 0 disables the caliper.")
	flags.StringVar(&exact, "exact", "month", "A list of covariates on which matched pairs must "+
		"agree exactly.")
	flags.IntVar(&trials, "trials", 1000, "The number of bootstrap trials for the matched "+
		"difference interval.")
	flags.Float64Var(&fraction, "fraction", 0.5, "The fraction of the dataset drawn in each "+
		"bootstrap trial.")
	flags.Int64Var(&seed, "seed", 42, "The base random seed for the bootstrap. Trial i uses "+
		"seed+i.")
	flags.IntVar(&minPairs, "minPairs", 10, "The minimum number of matched pairs for a "+
		"bootstrap trial to count.")
	flags.IntVar(&trees, "trees", 500, "The number of trees in the causal forest.")
	flags.IntVar(&minLeaf, "minLeaf", 5, "The minimum number of records per treatment arm in a "+
		"leaf of the causal forest.")
	flags.IntVar(&mtry, "mtry", 0, "The number of covariates tried per split in the causal "+
		"forest.")
	flags.IntVar(&nrOfThreads, "nrOfThreads", 0, "The number of threads vida uses.")
	// parse optional arguments
	parseFlags(flags, 4, vidaHelp)
	// parse required arguments
	measurementFile = getFileName(os.Args[1], vidaHelp)
	stringencyFile = getFileName(os.Args[2], vidaHelp)
	outputPath, _ = filepath.Abs(getFileName(os.Args[3], vidaHelp))
	outputPath = outputPath + string(filepath.Separator)
	fmt.Println("Output path: ", outputPath)
	// create output directory
	err := os.MkdirAll(filepath.Dir(outputPath), 0700)
	if err != nil {
		panic(err)
	}
	// size the worker pool to the available cores minus one, unless overridden
	if nrOfThreads <= 0 {
		nrOfThreads = utils.MaxInt(1, runtime.NumCPU()-1)
	}
	runtime.GOMAXPROCS(nrOfThreads)
	// build an output command line
	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " ", measurementFile, " ", stringencyFile, " ", outputPath)
	fmt.Fprint(&command, " --name ", name)
	fmt.Fprint(&command, " --threshold ", threshold)
	fmt.Fprint(&command, " --rfilters ", rfilters)
	fmt.Fprint(&command, " --caliper ", caliper)
	fmt.Fprint(&command, " --exact ", exact)
	fmt.Fprint(&command, " --trials ", trials)
	fmt.Fprint(&command, " --fraction ", fraction)
	fmt.Fprint(&command, " --seed ", seed)
	fmt.Fprint(&command, " --minPairs ", minPairs)
	fmt.Fprint(&command, " --trees ", trees)
	fmt.Fprint(&command, " --minLeaf ", minLeaf)
	fmt.Fprint(&command, " --mtry ", mtry)
	fmt.Fprint(&command, " --nrOfThreads ", nrOfThreads)
	// start execution
	log.Println(programMessage())
	log.Println("Executing command:\n", command.String())
	//1. Parse inputs and derive the cohort labels
	labelCfg := cohort.DefaultLabelConfig()
	labelCfg.DeficiencyThreshold = threshold
	ds := app.ParseMeasurementData(name, measurementFile)
	ds = cohort.AssignLabels(ds, labelCfg)
	ds = cohort.ApplyRecordFilters(getRecordFilters(rfilters), ds)
	fmt.Println("Analysis dataset: ", len(ds.Records), " records (", ds.MaleCtr, " male, ", ds.FemaleCtr, " female).")
	//2. Join the policy stringency index onto the during-period records
	stringency := app.ParseStringencyTable(stringencyFile)
	cohort.JoinStringency(ds, stringency)
	//3. Descriptive statistics
	cohort.PrintGroupStats("Mean Vitamin D level per period:", cohort.MeansByPeriod(ds))
	cohort.PrintGroupStats("Mean Vitamin D level per season (before):", cohort.MeansBySeason(ds, cohort.Before))
	cohort.PrintGroupStats("Mean Vitamin D level per season (during):", cohort.MeansBySeason(ds, cohort.During))
	cohort.PrintGroupStats("Mean Vitamin D level per sex (before):", cohort.MeansBySex(ds, cohort.Before))
	cohort.PrintGroupStats("Mean Vitamin D level per sex (during):", cohort.MeansBySex(ds, cohort.During))
	cohort.PrintGroupStats("Mean Vitamin D level per age bracket (before):", cohort.MeansByBracket(ds, cohort.Before))
	cohort.PrintGroupStats("Mean Vitamin D level per age bracket (during):", cohort.MeansByBracket(ds, cohort.During))
	cohort.PrintDeficiencyTable("Deficiency per period:", cohort.DeficiencyByPeriod(ds))
	cohort.PrintDeficiencyTable("Deficiency per season (during):", cohort.DeficiencyBySeason(ds, cohort.During))
	comparison := cohort.ComparePeriods(ds)
	fmt.Printf("Unadjusted comparison: before mean %.2f (n=%d), during mean %.2f (n=%d), diff %.2f, "+
		"t=%.2f, p=%g\n", comparison.MeanBefore, comparison.NBefore, comparison.MeanDuring, comparison.NDuring,
		comparison.Diff, comparison.T, comparison.P)
	monthlyBefore := cohort.MonthlyMeans(ds, cohort.Before)
	monthlyDuring := cohort.MonthlyMeans(ds, cohort.During)
	plots.MonthlyMeansLine(monthlyBefore, monthlyDuring, filepath.Join(outputPath, fmt.Sprintf("%s-monthly-means.png", name)))
	plots.GroupMeansErrorBars("Mean Vitamin D level per period", cohort.MeansByPeriod(ds),
		filepath.Join(outputPath, fmt.Sprintf("%s-period-means.png", name)))
	plots.DeficiencyRateBars("Deficiency rate per period", cohort.DeficiencyByPeriod(ds),
		filepath.Join(outputPath, fmt.Sprintf("%s-deficiency-rates.png", name)))
	//4. Propensity score matching between the periods
	matchOpt := getMatchOptions(caliper, exact)
	pairs, matchStats, err := match.MatchPeriods(ds.Records, matchOpt)
	if err != nil {
		panic(err)
	}
	match.PrintStats(matchStats)
	match.SetWeights(pairs)
	matched := match.MatchedRecords(pairs)
	fmt.Printf("Matched mean difference (during - before): %.2f\n", match.MatchedMeanDifference(pairs))
	pos, informative, signP := utils.SignTest(match.PairDifferences(pairs))
	fmt.Printf("Sign test on matched pairs: %d/%d positive, p=%g\n", pos, informative, signP)
	if est, se, err := match.AdjustedDifference(matched); err == nil {
		fmt.Printf("Covariate-adjusted difference: %.2f (SE %.2f, 95%% [%.2f, %.2f])\n",
			est, se, est-1.96*se, est+1.96*se)
	} else {
		fmt.Println("Covariate-adjusted difference unavailable: ", err)
	}
	//5. Bootstrap interval for the matched difference
	bootOpt := match.BootstrapOptions{
		Trials: trials, Fraction: fraction, Seed: seed, MinPairs: minPairs, Match: matchOpt,
	}
	boot := match.BootstrapMatchedDifference(ds.Records, bootOpt)
	match.PrintBootstrap(boot)
	//6. Causal forest estimate of the average treatment effect
	eligible := cohort.ApplyRecordFilters([]cohort.RecordFilter{
		cohort.KnownBracketFilter(), cohort.KnownValueFilter(),
	}, ds)
	x, y, w := encodeCovariates(eligible.Records)
	forest, err := causal.Grow(x, y, w, causal.Options{Trees: trees, MinLeaf: minLeaf, MTry: mtry})
	if err != nil {
		panic(err)
	}
	scores := forest.Scores(x, y, w)
	ate := causal.Estimate(scores, nil)
	causal.PrintEffect("Population", ate)
	fmt.Println("Covariate importance:")
	for i, imp := range forest.Importance() {
		fmt.Printf("%s\t%.3f\n", covariateNames[i], imp)
	}
	//7. Subgroup sensitivity estimates, always with the subgroup sample size
	labels, masks := subgroupMasks(eligible.Records)
	estimates := []causal.EffectEstimate{}
	fmt.Println("Subgroup sensitivity estimates:")
	for i, mask := range masks {
		est := causal.Estimate(scores, mask)
		estimates = append(estimates, est)
		if math.IsNaN(est.ATE) {
			fmt.Printf("%s\ttoo few records (n=%d)\n", labels[i], est.N)
			continue
		}
		causal.PrintEffect(labels[i], est)
	}
	plots.EffectForest("Average treatment effect per subgroup", labels, estimates,
		filepath.Join(outputPath, fmt.Sprintf("%s-subgroup-forest.png", name)))
}
