// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package atomupd

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildId is a compact image identifier "YYYYMMDD[.N]". Ordering is
// (date, increment) lexicographic on the two integers; it exists
// solely to classify a requested install as upgrade vs downgrade.
type BuildId struct {
	Date      int64 // YYYYMMDD, e.g. 20220227
	Increment int64 // 0 if absent in the string form
	hasInc    bool
}

// ParseBuildId validates and parses a build ID string. The date part
// must be exactly 8 ASCII digits, with a month in 1-12 and a day in
// 1-31 (no per-month day-count validation, matching the original
// implementation's calendar-agnostic sanity check); the optional
// increment, after a literal '.', must be a non-negative decimal
// integer written with digits only and no leading zeros.
func ParseBuildId(s string) (BuildId, error) {
	if s == "" {
		return BuildId{}, errInvalidArgument("buildid is empty", nil)
	}

	dateStr, incStr, hasInc := strings.Cut(s, ".")

	if len(dateStr) != 8 || strings.TrimLeft(dateStr, "0123456789") != "" {
		return BuildId{}, errInvalidArgument(fmt.Sprintf("buildid %q doesn't follow the expected YYYYMMDD[.N] format", s), nil)
	}
	date, err := strconv.ParseInt(dateStr, 10, 64)
	if err != nil || date < 0 {
		return BuildId{}, errInvalidArgument(fmt.Sprintf("buildid %q doesn't follow the expected YYYYMMDD[.N] format", s), nil)
	}

	month := (date / 100) % 100
	day := date % 100
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return BuildId{}, errInvalidArgument(fmt.Sprintf("the date in buildid %q is not valid", s), nil)
	}

	b := BuildId{Date: date}
	if hasInc {
		inc, err := strconv.ParseInt(incStr, 10, 64)
		if err != nil || inc < 0 || strings.TrimLeft(incStr, "0123456789") != "" || (len(incStr) > 1 && incStr[0] == '0') {
			return BuildId{}, errInvalidArgument(fmt.Sprintf("the increment part of buildid %q is unexpected", s), nil)
		}
		b.Increment = inc
		b.hasInc = true
	}
	return b, nil
}

// String renders the BuildId back to its canonical "YYYYMMDD[.N]"
// form. format(parse(b)) == b for every string parse accepts.
func (b BuildId) String() string {
	if b.hasInc {
		return fmt.Sprintf("%08d.%d", b.Date, b.Increment)
	}
	return fmt.Sprintf("%08d", b.Date)
}

// Compare returns -1, 0 or 1 as b is less than, equal to, or greater
// than other, ordering first on Date then on Increment.
func (b BuildId) Compare(other BuildId) int {
	if b.Date != other.Date {
		if b.Date < other.Date {
			return -1
		}
		return 1
	}
	if b.Increment != other.Increment {
		if b.Increment < other.Increment {
			return -1
		}
		return 1
	}
	return 0
}

// IsDowngradeFrom reports whether installing b would be a downgrade
// relative to the currently-running current build.
func (b BuildId) IsDowngradeFrom(current BuildId) bool {
	return b.Compare(current) < 0
}
