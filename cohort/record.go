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
	"fmt"
	"math"
)

const (
	Male   = 0
	Female = 1
)

// Period labels. Records dated outside both calendar windows get
// PeriodUnassigned and are excluded from all period-based analyses.
const (
	PeriodUnassigned = -1
	Before           = 0
	During           = 1
)

// Season buckets derived from the measurement month.
const (
	Winter = 0
	Spring = 1
	Summer = 2
	Autumn = 3
)

// Age brackets collapsed from the ordinal source code. BracketUnknown is an
// explicit catch-all for unmapped codes; callers decide whether to keep or
// drop it (matching drops it, see the match package).
const (
	BracketYoung   = 0
	BracketAdult   = 1
	BracketSenior  = 2
	BracketUnknown = 3
)

// Deficiency classification of a measurement value. DeficiencyUnknown marks
// missing or unparseable values; it is never silently coerced to Sufficient.
const (
	Sufficient        = 0
	Deficient         = 1
	DeficiencyUnknown = -1
)

// MeasurementDate represents the date of a measurement, with fields for the
// year, month, and day the sample was taken.
type MeasurementDate struct {
	Year, Month, Day int
}

// DateSmallerThan compares two measurement dates chronologically.
func DateSmallerThan(d1, d2 MeasurementDate) bool {
	if d1.Year < d2.Year {
		return true
	}
	if d1.Year > d2.Year {
		return false
	}
	if d1.Month < d2.Month {
		return true
	}
	if d1.Month > d2.Month {
		return false
	}
	return d1.Day < d2.Day
}

// DateKey converts a measurement date to a YYYYMMDD integer. This is the join
// key for the daily stringency table.
func DateKey(d MeasurementDate) int {
	return d.Year*10000 + d.Month*100 + d.Day
}

// Record represents one Vitamin D measurement with its demographic fields and
// the labels derived from the raw date and value.
type Record struct {
	RID       int             //analysis ID
	RIDString string          //ID from the source extract
	Sex       int             //0 = male, 1 = female
	AgeCode   int             //ordinal age bracket code from the input
	Bracket   int             //collapsed three-level age bracket
	Date      MeasurementDate //date the sample was taken
	Value     float64         //25-OH Vitamin D level in ng/mL, NaN when missing
	RawValue  string          //value string as it appears in the input, possibly censored ("<20")
	Diagnosis string          //diagnosis code attached to the test order
	Period    int             //Before/During/PeriodUnassigned
	Season    int             //season bucket of the measurement month
	Deficient int             //Deficient/Sufficient/DeficiencyUnknown
	Treated   int             //1 for the during-pandemic period, 0 for before

	Stringency float64 //policy stringency on the measurement date, NaN unless joined
	Weight     float64 //matching weight, 0 until matched
}

// Dataset contains all measurement records parsed from the input, plus
// counters for logging. Pipeline stages take a Dataset and return a new one;
// records are shared, the slices are not mutated in place.
type Dataset struct {
	Name      string
	Records   []*Record
	MaleCtr   int
	FemaleCtr int
}

// NewDataset wraps a list of records into a Dataset and fills in the sex
// counters.
func NewDataset(name string, records []*Record) *Dataset {
	ds := &Dataset{Name: name, Records: records}
	for _, r := range records {
		if r.Sex == Male {
			ds.MaleCtr++
		} else {
			ds.FemaleCtr++
		}
	}
	return ds
}

// LabelConfig holds the fixed thresholds and calendar windows used to derive
// record labels. Thresholds are explicit configuration, not globals.
type LabelConfig struct {
	BeforeStart, BeforeEnd MeasurementDate //inclusive window for the before period
	DuringStart, DuringEnd MeasurementDate //inclusive window for the during period
	DeficiencyThreshold    float64         //values strictly below are deficient
}

// DefaultLabelConfig returns the analysis defaults: two symmetric twelve-month
// windows around March 2020, so that calendar month is a shared covariate
// between the periods, and the 20 ng/mL clinical deficiency cutoff.
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{
		BeforeStart:         MeasurementDate{Year: 2019, Month: 3, Day: 1},
		BeforeEnd:           MeasurementDate{Year: 2020, Month: 2, Day: 29},
		DuringStart:         MeasurementDate{Year: 2020, Month: 3, Day: 1},
		DuringEnd:           MeasurementDate{Year: 2021, Month: 2, Day: 28},
		DeficiencyThreshold: 20.0,
	}
}

// AssignPeriod maps a measurement date to Before, During, or PeriodUnassigned
// when the date falls outside both windows.
func AssignPeriod(d MeasurementDate, cfg LabelConfig) int {
	if !DateSmallerThan(d, cfg.BeforeStart) && !DateSmallerThan(cfg.BeforeEnd, d) {
		return Before
	}
	if !DateSmallerThan(d, cfg.DuringStart) && !DateSmallerThan(cfg.DuringEnd, d) {
		return During
	}
	return PeriodUnassigned
}

// AssignSeason maps a month to one of the four season buckets.
func AssignSeason(month int) int {
	switch month {
	case 12, 1, 2:
		return Winter
	case 3, 4, 5:
		return Spring
	case 6, 7, 8:
		return Summer
	default:
		return Autumn
	}
}

// ageCodeBrackets is the fixed lookup from the ordinal source age code onto
// the coarser three-level bracket. The source encodes decades: 1 = 0-9 years,
// 2 = 10-19, ... 9 = 80+.
var ageCodeBrackets = map[int]int{
	1: BracketYoung,
	2: BracketYoung,
	3: BracketAdult,
	4: BracketAdult,
	5: BracketAdult,
	6: BracketAdult,
	7: BracketSenior,
	8: BracketSenior,
	9: BracketSenior,
}

// AssignBracket collapses an ordinal age code into a three-level bracket.
// Unmapped codes return BracketUnknown.
func AssignBracket(ageCode int) int {
	if b, ok := ageCodeBrackets[ageCode]; ok {
		return b
	}
	return BracketUnknown
}

// BracketName returns a printable name for an age bracket.
func BracketName(bracket int) string {
	switch bracket {
	case BracketYoung:
		return "Young"
	case BracketAdult:
		return "Adult"
	case BracketSenior:
		return "Senior"
	default:
		return "Unknown"
	}
}

// SeasonName returns a printable name for a season bucket.
func SeasonName(season int) string {
	switch season {
	case Winter:
		return "Winter"
	case Spring:
		return "Spring"
	case Summer:
		return "Summer"
	default:
		return "Autumn"
	}
}

// PeriodName returns a printable name for a period label.
func PeriodName(period int) string {
	switch period {
	case Before:
		return "before"
	case During:
		return "during"
	default:
		return "unassigned"
	}
}

// Classify returns the deficiency flag for a measurement value. Missing values
// (NaN) classify as DeficiencyUnknown.
func Classify(value, threshold float64) int {
	if math.IsNaN(value) {
		return DeficiencyUnknown
	}
	if value < threshold {
		return Deficient
	}
	return Sufficient
}

// AssignLabels derives period, season, age bracket, deficiency flag, and
// treatment indicator for every record, and drops the records that fall
// outside both period windows. It returns a new Dataset; the input is left
// untouched.
func AssignLabels(ds *Dataset, cfg LabelConfig) *Dataset {
	kept := []*Record{}
	droppedPeriod := 0
	for _, r := range ds.Records {
		period := AssignPeriod(r.Date, cfg)
		if period == PeriodUnassigned {
			droppedPeriod++
			continue
		}
		r.Period = period
		if period == During {
			r.Treated = 1
		} else {
			r.Treated = 0
		}
		r.Season = AssignSeason(r.Date.Month)
		r.Bracket = AssignBracket(r.AgeCode)
		r.Deficient = Classify(r.Value, cfg.DeficiencyThreshold)
		kept = append(kept, r)
	}
	fmt.Println("Labeled ", len(kept), " records; dropped ", droppedPeriod, " records outside both period windows.")
	return NewDataset(ds.Name, kept)
}

// StringencyTable maps a YYYYMMDD date key onto a daily policy stringency
// score.
type StringencyTable map[int]float64

// JoinStringency joins the daily stringency score onto the during-period
// records by exact date. Records without a matching date keep NaN. It returns
// the number of during records that received a score.
func JoinStringency(ds *Dataset, table StringencyTable) int {
	joined := 0
	for _, r := range ds.Records {
		r.Stringency = math.NaN()
		if r.Period != During {
			continue
		}
		if score, ok := table[DateKey(r.Date)]; ok {
			r.Stringency = score
			joined++
		}
	}
	fmt.Println("Joined stringency scores onto ", joined, " during-period records.")
	return joined
}
