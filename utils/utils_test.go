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

package utils

import "testing"

func TestMinMaxInt(t *testing.T) {
	if MinInt(3, 5) != 3 || MinInt(5, 3) != 3 {
		t.Error("MinInt picks the wrong value")
	}
	if MaxInt(3, 5) != 5 || MaxInt(5, 3) != 5 {
		t.Error("MaxInt picks the wrong value")
	}
	if MinInt(-2, -2) != -2 || MaxInt(-2, -2) != -2 {
		t.Error("equal arguments should return themselves")
	}
}
