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
)

const sampleChain = `{
  "minor": {
    "candidates": [
      {"image": {"buildid": "20220301", "version": "1", "variant": "steamdeck", "estimated_size": 100}},
      {"image": {"buildid": "20220315", "version": "2", "variant": "steamdeck", "estimated_size": 200}}
    ],
    "replacement_eol_variant": ""
  }
}`

func TestParseQueryOutputNoCandidates(t *testing.T) {
	for _, raw := range []string{"", "{}", "   "} {
		result, err := parseQueryOutput([]byte(raw), "")
		if err != nil {
			t.Fatalf("parseQueryOutput(%q): %v", raw, err)
		}
		if len(result.Candidates.Available) != 0 || len(result.Candidates.AvailableLater) != 0 {
			t.Errorf("parseQueryOutput(%q) = %+v, want an empty chain", raw, result)
		}
	}
}

func TestParseQueryOutputChain(t *testing.T) {
	result, err := parseQueryOutput([]byte(sampleChain), "")
	if err != nil {
		t.Fatalf("parseQueryOutput: %v", err)
	}
	if len(result.Candidates.Available) != 1 {
		t.Fatalf("Available = %+v, want exactly one entry", result.Candidates.Available)
	}
	head, ok := result.Candidates.Available["20220301"]
	if !ok {
		t.Fatalf("Available missing the head entry: %+v", result.Candidates.Available)
	}
	if head.Requires != "" {
		t.Errorf("head.Requires = %q, want empty", head.Requires)
	}
	later, ok := result.Candidates.AvailableLater["20220315"]
	if !ok {
		t.Fatalf("AvailableLater missing the tail entry: %+v", result.Candidates.AvailableLater)
	}
	if later.Requires != "20220301" {
		t.Errorf("later.Requires = %q, want %q", later.Requires, "20220301")
	}
}

func TestParseQueryOutputSuppressesChainOnPendingReboot(t *testing.T) {
	result, err := parseQueryOutput([]byte(sampleChain), "20220301")
	if err != nil {
		t.Fatalf("parseQueryOutput: %v", err)
	}
	if len(result.Candidates.Available) != 0 || len(result.Candidates.AvailableLater) != 0 {
		t.Errorf("parseQueryOutput with a matching pending reboot id = %+v, want the entire chain suppressed", result.Candidates)
	}
}

func TestParseQueryOutputPendingRebootOnlyMatchesHead(t *testing.T) {
	// A pending-reboot id that only matches a later entry must not
	// suppress anything: the chain's head is still a fresh candidate.
	result, err := parseQueryOutput([]byte(sampleChain), "20220315")
	if err != nil {
		t.Fatalf("parseQueryOutput: %v", err)
	}
	if len(result.Candidates.Available) != 1 {
		t.Errorf("Available = %+v, want the head entry preserved", result.Candidates.Available)
	}
}
