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

// RecordFilter prescribes a function type for implementing filters on
// measurement records, to be able to restrict the analysis to specific
// subpopulations. E.g. female records, winter measurements, a single age
// bracket, etc.
type RecordFilter func(r *Record) bool

// ApplyRecordFilter returns a new Dataset with the records that pass the
// filter.
func ApplyRecordFilter(filter RecordFilter, ds *Dataset) *Dataset {
	kept := []*Record{}
	for _, r := range ds.Records {
		if filter(r) {
			kept = append(kept, r)
		}
	}
	return NewDataset(ds.Name, kept)
}

// ApplyRecordFilters returns a new Dataset with the records that pass all
// given filters.
func ApplyRecordFilters(filters []RecordFilter, ds *Dataset) *Dataset {
	kept := []*Record{}
	for _, r := range ds.Records {
		res := true
		for _, filter := range filters {
			res = filter(r) && res
			if !res {
				break
			}
		}
		if res {
			kept = append(kept, r)
		}
	}
	return NewDataset(ds.Name, kept)
}

// SexFilter removes all records of the given sex.
func SexFilter(sex int) RecordFilter {
	return func(r *Record) bool {
		return r.Sex != sex
	}
}

// MaleFilter removes all male records.
func MaleFilter() RecordFilter {
	return SexFilter(Male)
}

// FemaleFilter removes all female records.
func FemaleFilter() RecordFilter {
	return SexFilter(Female)
}

// SeasonFilter keeps only the records measured in the given season.
func SeasonFilter(season int) RecordFilter {
	return func(r *Record) bool {
		return r.Season == season
	}
}

// BracketFilter keeps only the records in the given age bracket.
func BracketFilter(bracket int) RecordFilter {
	return func(r *Record) bool {
		return r.Bracket == bracket
	}
}

// KnownBracketFilter removes records whose age code did not map onto one of
// the three brackets.
func KnownBracketFilter() RecordFilter {
	return func(r *Record) bool {
		return r.Bracket != BracketUnknown
	}
}

// KnownValueFilter removes records whose measurement value is missing.
func KnownValueFilter() RecordFilter {
	return func(r *Record) bool {
		return r.Deficient != DeficiencyUnknown
	}
}

// PeriodFilter keeps only the records assigned to the given period.
func PeriodFilter(period int) RecordFilter {
	return func(r *Record) bool {
		return r.Period == period
	}
}
