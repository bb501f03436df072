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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

// Candidate is one entry of a candidate chain: the buildid it keys on
// plus the metadata the query helper reported for it.
type Candidate struct {
	Version        string `json:"version"`
	Variant        string `json:"variant"`
	EstimatedSize  uint64 `json:"estimated_size"`
	Requires       string `json:"requires,omitempty"`
}

// CandidateSet is the (UpdatesAvailable, UpdatesAvailableLater) pair.
// UpdatesAvailable holds at most one entry.
type CandidateSet struct {
	Available      map[string]Candidate
	AvailableLater map[string]Candidate
}

func newCandidateSet() CandidateSet {
	return CandidateSet{Available: map[string]Candidate{}, AvailableLater: map[string]Candidate{}}
}

// helperImage mirrors one "image" object inside a candidate chain
// entry.
type helperImage struct {
	BuildId       string `json:"buildid"`
	Version       string `json:"version"`
	Variant       string `json:"variant"`
	EstimatedSize uint64 `json:"estimated_size"`
}

type helperCandidate struct {
	Image helperImage `json:"image"`
}

type helperMinor struct {
	Candidates            []helperCandidate `json:"candidates"`
	ReplacementEOLVariant string            `json:"replacement_eol_variant"`
}

type helperOutput struct {
	Minor *helperMinor `json:"minor"`
}

// exitStatusHTTP4xx is the query helper's distinguished exit code
// signalling that the server answered with an HTTP 4xx status.
const exitStatusHTTP4xx = 2

// QueryResult is the outcome of a successful candidate query.
type QueryResult struct {
	Candidates            CandidateSet
	ReplacementEOLVariant string // empty if none was proposed
	RawJSON               []byte // verbatim helper output, for persistence
}

// CandidateResolver invokes the query helper and turns its output
// into a CandidateSet, per §4.2.
type CandidateResolver struct {
	HelperPath string
	Logger     *log.Logger
	Timeout    time.Duration // defaults to 30s if zero
}

// QueryOptions mirrors CheckForUpdates' options.
type QueryOptions struct {
	Penultimate bool
	Debug       bool
}

// ErrHTTP4xx is returned by Query when the helper's exit status
// indicates the server answered with an HTTP 4xx response; the
// caller is expected to run the fallback-to-default-stream recovery
// in §4.2.
var ErrHTTP4xx = errExternalCommand("query helper reported an HTTP 4xx response", nil)

// Query runs the query helper and parses its stdout. pendingRebootBuildId,
// if it equals the chain's head, suppresses the entire chain per
// parseQueryOutput's doc comment.
func (r *CandidateResolver) Query(ctx context.Context, configPath, manifestPath string, stream Stream, pendingRebootBuildId string, opts QueryOptions) (QueryResult, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--config", configPath,
		"--manifest-file", manifestPath,
		"--variant", stream.Variant,
		"--branch", stream.Branch,
		"--query-only",
		"--estimate-download-size",
	}
	if opts.Penultimate {
		args = append(args, "--penultimate-update")
	}
	if opts.Debug {
		args = append(args, "--debug")
	}

	cmd := exec.CommandContext(ctx, r.HelperPath, args...)
	cmd.Stdin = nil
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ExitCode() == exitStatusHTTP4xx {
				return QueryResult{}, ErrHTTP4xx
			}
			return QueryResult{}, errExternalCommand(fmt.Sprintf("query helper exited with status %d", exitErr.ExitCode()), err)
		}
		return QueryResult{}, errExternalCommand("failed to run query helper", err)
	}

	result, err := parseQueryOutput(out, pendingRebootBuildId)
	if err != nil {
		return QueryResult{}, errExternalCommand("could not parse query helper output", err)
	}
	result.RawJSON = out
	return result, nil
}

// pendingRebootBuildId, if non-empty, is suppressed as described in
// §4.2 "Suppresses the first entry iff it equals the currently
// reboot-pending BuildId" — matching the original implementation,
// the suppression discards the *entire* chain, not just the head,
// since everything downstream requires an update that will never be
// applied as a fresh install.
func parseQueryOutput(raw []byte, pendingRebootBuildId string) (QueryResult, error) {
	trimmed := trimJSONWhitespace(raw)
	if len(trimmed) == 0 || string(trimmed) == "{}" {
		return QueryResult{Candidates: newCandidateSet()}, nil
	}

	var out helperOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return QueryResult{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if out.Minor == nil {
		return QueryResult{Candidates: newCandidateSet()}, nil
	}

	set := newCandidateSet()
	requires := ""
	for i, c := range out.Minor.Candidates {
		if i == 0 && pendingRebootBuildId != "" && c.Image.BuildId == pendingRebootBuildId {
			return QueryResult{Candidates: newCandidateSet(), ReplacementEOLVariant: out.Minor.ReplacementEOLVariant}, nil
		}
		cand := Candidate{
			Version:       c.Image.Version,
			Variant:       c.Image.Variant,
			EstimatedSize: c.Image.EstimatedSize,
			Requires:      requires,
		}
		if i == 0 {
			set.Available[c.Image.BuildId] = cand
		} else {
			set.AvailableLater[c.Image.BuildId] = cand
		}
		requires = c.Image.BuildId
	}

	return QueryResult{Candidates: set, ReplacementEOLVariant: out.Minor.ReplacementEOLVariant}, nil
}

func trimJSONWhitespace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isJSONSpace(b[start]) {
		start++
	}
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// SaveCandidatesJSON persists the raw helper JSON at path, atomically,
// so it survives a service restart (§3 "Candidate listing").
func SaveCandidatesJSON(path string, raw []byte) error {
	if err := atomicWriteFile(path, raw, 0644); err != nil {
		return errFilesystem(fmt.Sprintf("could not write cached candidates file %q", path), err)
	}
	return nil
}

// LoadCandidatesJSON re-parses the cached candidates file on startup,
// so the previous instance's UpdatesAvailable/UpdatesAvailableLater
// can be republished without re-querying.
func LoadCandidatesJSON(path, pendingRebootBuildId string) (QueryResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return QueryResult{Candidates: newCandidateSet()}, nil
		}
		return QueryResult{}, errFilesystem(fmt.Sprintf("could not read cached candidates file %q", path), err)
	}
	return parseQueryOutput(data, pendingRebootBuildId)
}

// SnapshotCandidatesJSON copies the canonical cached-candidates file
// to a fresh temporary file so a concurrent CheckForUpdates cannot
// mutate the JSON an in-flight install is reading from (§3, §5).
func SnapshotCandidatesJSON(cachedPath, dir string) (string, error) {
	data, err := os.ReadFile(cachedPath)
	if err != nil {
		return "", errFilesystem(fmt.Sprintf("could not read cached candidates file %q", cachedPath), err)
	}
	tmp, err := os.CreateTemp(dir, "atomupd-update-*.json")
	if err != nil {
		return "", errFilesystem("could not create update snapshot file", err)
	}
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return "", errFilesystem("could not write update snapshot file", err)
	}
	return tmp.Name(), nil
}
