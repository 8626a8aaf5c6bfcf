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
	"strings"

	"vida/cohort"
)

// diagnosisAggregator filters records on a predicate over the diagnosis code
// that accompanied the test order.
func diagnosisAggregator(predicate func(code string) bool) cohort.RecordFilter {
	return func(r *cohort.Record) bool {
		return predicate(r.Diagnosis)
	}
}

// RoutineScreeningAggregator keeps records whose test was ordered as a
// routine screening (ICD10 Z13 family).
func RoutineScreeningAggregator() cohort.RecordFilter {
	return diagnosisAggregator(func(code string) bool {
		return strings.HasPrefix(code, "Z13")
	})
}

// BoneDiseaseAggregator keeps records ordered for osteoporosis or
// osteomalacia follow-up (ICD10 M80-M83).
func BoneDiseaseAggregator() cohort.RecordFilter {
	return diagnosisAggregator(func(code string) bool {
		return strings.HasPrefix(code, "M80") || strings.HasPrefix(code, "M81") ||
			strings.HasPrefix(code, "M82") || strings.HasPrefix(code, "M83")
	})
}

// DeficiencyWorkupAggregator keeps records ordered for a suspected Vitamin D
// deficiency (ICD10 E55 family).
func DeficiencyWorkupAggregator() cohort.RecordFilter {
	return diagnosisAggregator(func(code string) bool {
		return strings.HasPrefix(code, "E55")
	})
}
