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
	"testing"
	"time"
)

func TestParseProgressLine(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		prev Progress
		line string
		want Progress
	}{
		{"bare percentage", Progress{}, "42", Progress{Percentage: 42}},
		{"percent sign", Progress{}, "42%", Progress{Percentage: 42}},
		{
			"percentage with remaining time",
			Progress{},
			"50 1h30m",
			Progress{Percentage: 50, EstimatedCompletion: now.Add(90 * time.Minute)},
		},
		{
			"combined units in any order",
			Progress{},
			"10 3m1d4s2h",
			Progress{Percentage: 10, EstimatedCompletion: now.Add(24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second)},
		},
		{"empty line keeps prev", Progress{Percentage: 7}, "", Progress{Percentage: 7}},
		{"malformed percentage keeps prev", Progress{Percentage: 7}, "not-a-number", Progress{Percentage: 7}},
		{"malformed remainder clears estimate", Progress{Percentage: 7, EstimatedCompletion: now}, "60 garbage", Progress{Percentage: 60}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ParseProgressLine(c.prev, c.line, now)
			if got != c.want {
				t.Errorf("ParseProgressLine(%+v, %q) = %+v, want %+v", c.prev, c.line, got, c.want)
			}
		})
	}
}
