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

import "regexp"

// streamTokenRe matches the restricted alphabet allowed for a Variant
// or a Branch name.
var streamTokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidStreamToken reports whether s is a legal Variant or Branch
// name. Non-conforming values read from config are dropped silently
// by the caller, with a warning logged at the call site.
func ValidStreamToken(s string) bool {
	return s != "" && streamTokenRe.MatchString(s)
}

// Stream is the (Variant, Branch) pair a host tracks at any instant.
type Stream struct {
	Variant string
	Branch  string
}

// FilterStreamTokens returns the subset of tokens that are valid
// Variant/Branch names, preserving order and dropping duplicates.
func FilterStreamTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !ValidStreamToken(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// AppendIfMissing appends value to list if it is not already present,
// used for the "safety net" append of the manifest's variant/branch
// into the known-lists.
func AppendIfMissing(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
