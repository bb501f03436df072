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

import "testing"

func TestParseBuildIdRoundTrip(t *testing.T) {
	for _, s := range []string{"20220227", "20220227.1", "20221231.42"} {
		b, err := ParseBuildId(s)
		if err != nil {
			t.Fatalf("ParseBuildId(%q): %v", s, err)
		}
		if got := b.String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestParseBuildIdRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "2022022", "202202277", "2022132", "20220227.", "20220227.-1", "abcdefgh"} {
		if _, err := ParseBuildId(s); err == nil {
			t.Errorf("ParseBuildId(%q) succeeded, want an error", s)
		}
	}
}

func TestBuildIdCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"20220227", "20220227", 0},
		{"20220227", "20220228", -1},
		{"20220228", "20220227", 1},
		{"20220227", "20220227.1", -1},
		{"20220227.2", "20220227.1", 1},
		{"20220227.1", "20220227.1", 0},
	}
	for _, c := range cases {
		a, err := ParseBuildId(c.a)
		if err != nil {
			t.Fatal(err)
		}
		b, err := ParseBuildId(c.b)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.Compare(b); got != c.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestIsDowngradeFrom(t *testing.T) {
	current, _ := ParseBuildId("20220227")
	older, _ := ParseBuildId("20220101")
	newer, _ := ParseBuildId("20220301")

	if !older.IsDowngradeFrom(current) {
		t.Error("older build should be a downgrade from current")
	}
	if newer.IsDowngradeFrom(current) {
		t.Error("newer build should not be a downgrade from current")
	}
	if current.IsDowngradeFrom(current) {
		t.Error("identical build should not be a downgrade from itself")
	}
}
