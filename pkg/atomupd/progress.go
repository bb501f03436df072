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
	"strconv"
	"strings"
	"time"
)

// Progress is the parsed state of one install helper stdout line: a
// percentage and the wall-clock time it's expected to complete at, if
// the helper reported a remaining-time estimate alongside it.
type Progress struct {
	Percentage int
	// EstimatedCompletion is the zero Time if the line carried no
	// (or a malformed) remaining-time remainder.
	EstimatedCompletion time.Time
}

// ParseProgressLine updates prev with the contents of line, the way
// _au_client_stdout_update_cb does: the line is split on the first
// space into a percentage and an optional remainder. A malformed
// percentage leaves prev untouched. A missing or malformed remainder
// clears the estimate to zero without rejecting the percentage.
//
// The remainder, when present, is parsed greedily left to right as
// repeated <digits><unit> tokens (units: d, h, m, s, in any order and
// combination), each accumulated onto now to produce the estimated
// completion time.
func ParseProgressLine(prev Progress, line string, now time.Time) Progress {
	line = strings.TrimSpace(line)
	if line == "" {
		return prev
	}

	pctStr, remainder, hasRemainder := strings.Cut(line, " ")
	pctStr = strings.TrimSuffix(strings.TrimSpace(pctStr), "%")
	pct, err := strconv.Atoi(pctStr)
	if err != nil {
		return prev
	}

	out := Progress{Percentage: pct}
	if !hasRemainder {
		return out
	}
	d, ok := parseRemainingTime(strings.TrimSpace(remainder))
	if !ok {
		return out
	}
	out.EstimatedCompletion = now.Add(d)
	return out
}

// parseRemainingTime parses a greedy sequence of <digits><unit>
// tokens where unit is one of d, h, m, s. Any malformed token (no
// digits, unknown unit, trailing garbage) invalidates the whole
// remainder.
func parseRemainingTime(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	var total time.Duration
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return 0, false
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return 0, false
		}
		if i >= len(s) {
			return 0, false
		}
		unit := s[i]
		i++
		var perUnit time.Duration
		switch unit {
		case 'd':
			perUnit = 24 * time.Hour
		case 'h':
			perUnit = time.Hour
		case 'm':
			perUnit = time.Minute
		case 's':
			perUnit = time.Second
		default:
			return 0, false
		}
		total += time.Duration(n) * perUnit
	}
	return total, true
}
