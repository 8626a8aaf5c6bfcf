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
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"

	"vida/cohort"
)

func TestResolveValue(t *testing.T) {
	if v := ResolveValue("23.4", ""); math.Abs(v-23.4) > 1e-9 {
		t.Errorf("ResolveValue on a numeric column = %g, want 23.4", v)
	}
	// censored raw values resolve to the detection limit
	if v := ResolveValue("", "<20"); math.Abs(v-20.0) > 1e-9 {
		t.Errorf("ResolveValue on a censored value = %g, want 20", v)
	}
	if v := ResolveValue("", "< 8.5 ng/mL"); math.Abs(v-8.5) > 1e-9 {
		t.Errorf("ResolveValue on a censored value with units = %g, want 8.5", v)
	}
	// unparseable values resolve to NaN, never to zero
	if v := ResolveValue("", "pending"); !math.IsNaN(v) {
		t.Errorf("ResolveValue on an unparseable value = %g, want NaN", v)
	}
	if v := ResolveValue("", ""); !math.IsNaN(v) {
		t.Errorf("ResolveValue on empty columns = %g, want NaN", v)
	}
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := ioutil.WriteFile(file, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestParseMeasurementData(t *testing.T) {
	content := "record_id,sex,biomarker,age_code,year,month,day,value,raw_value,diagnosis\n" +
		"P1,F,25OHD,4,2019,6,12,24.5,24.5,Z13.21\n" +
		"P2,M,25OHD,8,2020,11,3,,<12,E55.9\n" +
		"P3,F,CRP,4,2019,6,12,3.1,3.1,Z13.21\n" +
		"P4,X,25OHD,4,2019,6,12,24.5,24.5,\n" +
		"P5,M,25OHD,2,2019,bad,12,24.5,24.5,\n" +
		"P6,F,25OHD,xx,2020,4,20,,pending,M81.0\n"
	file := writeTestFile(t, "measurements.csv", content)
	ds := ParseMeasurementData("test", file)
	if len(ds.Records) != 3 {
		t.Fatalf("parsed %d records, want 3", len(ds.Records))
	}
	if ds.FemaleCtr != 2 || ds.MaleCtr != 1 {
		t.Errorf("sex counters %d female %d male, want 2 and 1", ds.FemaleCtr, ds.MaleCtr)
	}
	r1 := ds.Records[0]
	if r1.RIDString != "P1" || r1.Sex != cohort.Female || r1.AgeCode != 4 || r1.Diagnosis != "Z13.21" {
		t.Errorf("unexpected first record: %+v", r1)
	}
	if r1.Date != (cohort.MeasurementDate{Year: 2019, Month: 6, Day: 12}) {
		t.Errorf("unexpected first record date: %+v", r1.Date)
	}
	r2 := ds.Records[1]
	if math.Abs(r2.Value-12.0) > 1e-9 {
		t.Errorf("censored value resolved to %g, want 12", r2.Value)
	}
	r3 := ds.Records[2]
	if !math.IsNaN(r3.Value) {
		t.Errorf("unparseable value resolved to %g, want NaN", r3.Value)
	}
	if r3.AgeCode != -1 {
		t.Errorf("unparseable age code resolved to %d, want -1", r3.AgeCode)
	}
}

func TestParseStringencyTable(t *testing.T) {
	content := "date,stringency\n" +
		"20200601,70.0\n" +
		"20200601,72.0\n" +
		"20200602,68.5\n" +
		"notadate,10.0\n"
	file := writeTestFile(t, "stringency.csv", content)
	table := ParseStringencyTable(file)
	if len(table) != 2 {
		t.Fatalf("parsed %d dates, want 2", len(table))
	}
	// duplicate dates aggregate by mean
	if math.Abs(table[20200601]-71.0) > 1e-9 {
		t.Errorf("duplicate date score = %g, want 71", table[20200601])
	}
	if math.Abs(table[20200602]-68.5) > 1e-9 {
		t.Errorf("single date score = %g, want 68.5", table[20200602])
	}
}

func TestDiagnosisAggregators(t *testing.T) {
	screening := &cohort.Record{Diagnosis: "Z13.21"}
	bone := &cohort.Record{Diagnosis: "M81.0"}
	workup := &cohort.Record{Diagnosis: "E55.9"}
	if !RoutineScreeningAggregator()(screening) || RoutineScreeningAggregator()(bone) {
		t.Error("routine screening aggregator selects the wrong records")
	}
	if !BoneDiseaseAggregator()(bone) || BoneDiseaseAggregator()(workup) {
		t.Error("bone disease aggregator selects the wrong records")
	}
	if !DeficiencyWorkupAggregator()(workup) || DeficiencyWorkupAggregator()(screening) {
		t.Error("deficiency workup aggregator selects the wrong records")
	}
}
