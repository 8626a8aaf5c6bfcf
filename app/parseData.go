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

package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"vida/cohort"
)

//Package app parses the inputs of the vida tool.
//The vida program has 2 data inputs:
//A file with laboratory measurements, associating a record ID with sex, age code, test date, biomarker code, and value.
//A file with the daily policy stringency index, mapping a YYYYMMDD date onto a score.

//The laboratory extract stores one measurement per row. Values may be censored
//below the assay detection limit, in which case the value column is empty and
//the raw value column holds a string such as "<20". The extract mixes several
//biomarkers; only 25-OH Vitamin D rows are retained.

// VitaminDCode is the biomarker code of the 25-OH Vitamin D assay in the
// laboratory extract. All other biomarker rows are dropped.
const VitaminDCode = "25OHD"

// ResolveValue resolves the measurement value from the numeric value column
// and the possibly censored raw value column. A censored string is resolved by
// stripping all non-numeric characters. Unparseable values resolve to NaN,
// never to zero.
func ResolveValue(valueField, rawField string) float64 {
	if v, err := strconv.ParseFloat(valueField, 64); err == nil {
		return v
	}
	stripped := strings.Map(func(c rune) rune {
		if (c >= '0' && c <= '9') || c == '.' {
			return c
		}
		return -1
	}, rawField)
	if v, err := strconv.ParseFloat(stripped, 64); err == nil {
		return v
	}
	return math.NaN()
}

// ParseMeasurementData parses a csv file with laboratory measurements. The
// header is: record_id, sex, biomarker, age_code, year, month, day, value,
// raw_value, diagnosis. Rows for other biomarkers are dropped, as are rows
// with a sex outside {M, F}: the rare X category is removed as data-quality
// filtering, because it is too small to balance between the periods. Rows
// with an unparseable date are dropped. Rows with an unparseable value are
// kept with a missing value so they still contribute to the cohort counts.
func ParseMeasurementData(name, file string) *cohort.Dataset {
	csvFile, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := csvFile.Close(); err != nil {
			panic(err)
		}
	}()
	records := []*cohort.Record{}
	otherBiomarkerCtr := 0
	droppedSexCtr := 0
	droppedDateCtr := 0
	missingValueCtr := 0
	ctr := 0
	reader := csv.NewReader(csvFile)
	// skip header
	reader.Read()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		if row[2] != VitaminDCode {
			otherBiomarkerCtr++
			continue
		}
		var sex int
		switch row[1] {
		case "M":
			sex = cohort.Male
		case "F":
			sex = cohort.Female
		default:
			droppedSexCtr++
			continue
		}
		year, err1 := strconv.Atoi(row[4])
		month, err2 := strconv.Atoi(row[5])
		day, err3 := strconv.Atoi(row[6])
		if err1 != nil || err2 != nil || err3 != nil {
			droppedDateCtr++
			continue
		}
		ageCode, err := strconv.Atoi(row[3])
		if err != nil {
			ageCode = -1 // collapses to the Unknown bracket
		}
		value := ResolveValue(row[7], row[8])
		if math.IsNaN(value) {
			missingValueCtr++
		}
		ctr++
		records = append(records, &cohort.Record{
			RID:        ctr,
			RIDString:  row[0],
			Sex:        sex,
			AgeCode:    ageCode,
			Date:       cohort.MeasurementDate{Year: year, Month: month, Day: day},
			Value:      value,
			RawValue:   row[8],
			Diagnosis:  row[9],
			Period:     cohort.PeriodUnassigned,
			Deficient:  cohort.DeficiencyUnknown,
			Stringency: math.NaN(),
		})
	}
	ds := cohort.NewDataset(name, records)
	fmt.Println("Parsed measurement data.")
	fmt.Print("Parsed ", ctr, " Vitamin D records ")
	fmt.Print("of which ", ds.FemaleCtr, " female and ", ds.MaleCtr, " male; ")
	fmt.Println(missingValueCtr, " have a missing value.")
	fmt.Println("Dropped ", otherBiomarkerCtr, " rows of other biomarkers, ", droppedSexCtr,
		" rows outside the M/F categories, and ", droppedDateCtr, " rows without a valid date.")
	return ds
}

// ParseStringencyTable parses a csv file with the daily policy stringency
// index. The header is: date, stringency. Dates are YYYYMMDD integers and may
// occur multiple times; duplicates are pre-aggregated by mean. Rows with an
// unparseable date or score are skipped.
func ParseStringencyTable(file string) cohort.StringencyTable {
	csvFile, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := csvFile.Close(); err != nil {
			panic(err)
		}
	}()
	sums := map[int]float64{}
	counts := map[int]int{}
	skipped := 0
	reader := csv.NewReader(csvFile)
	// skip header
	reader.Read()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		date, err1 := strconv.Atoi(row[0])
		score, err2 := strconv.ParseFloat(row[1], 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		sums[date] += score
		counts[date]++
	}
	table := cohort.StringencyTable{}
	for date, sum := range sums {
		table[date] = sum / float64(counts[date])
	}
	fmt.Println("Parsed stringency scores for ", len(table), " dates; skipped ", skipped, " unparseable rows.")
	return table
}
