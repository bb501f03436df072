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
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Preferences is the writable state backing preferences.conf: the
// tracked stream and an optional HTTP proxy.
type Preferences struct {
	Variant string
	Branch  string

	ProxyAddress string // empty if no proxy configured
	ProxyPort    int
}

// HasProxy reports whether an HTTP proxy is configured.
func (p Preferences) HasProxy() bool { return p.ProxyAddress != "" }

// LoadPreferences reads preferences.conf from path. A missing file is
// reported via os.IsNotExist on the returned error so callers can
// distinguish "not yet configured" from a real filesystem failure.
func LoadPreferences(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preferences{}, err
	}
	f, err := parseINI(string(data))
	if err != nil {
		return Preferences{}, errFilesystem(fmt.Sprintf("malformed preferences file %q", path), err)
	}
	var p Preferences
	p.Variant, _ = f.get("Choices", "Variant")
	p.Branch, _ = f.get("Choices", "Branch")
	if addr, ok := f.get("Proxy", "Address"); ok {
		p.ProxyAddress = addr
		if portStr, ok := f.get("Proxy", "Port"); ok {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Preferences{}, errFilesystem(fmt.Sprintf("malformed Proxy.Port in %q", path), err)
			}
			p.ProxyPort = port
		}
	}
	return p, nil
}

// Save writes preferences.conf atomically: write to a temp file in the
// same directory, fsync, then rename over the target, so partial
// writes are never observable.
func (p Preferences) Save(path string) error {
	f := newIniFile()
	f.set("Choices", "Variant", p.Variant)
	f.set("Choices", "Branch", p.Branch)
	if p.HasProxy() {
		f.set("Proxy", "Address", p.ProxyAddress)
		f.set("Proxy", "Port", strconv.Itoa(p.ProxyPort))
	}
	if err := atomicWriteFile(path, []byte(f.String()), 0644); err != nil {
		return errFilesystem(fmt.Sprintf("could not write preferences file %q", path), err)
	}
	return nil
}

// atomicWriteFile implements the write-temp/fsync/rename discipline
// used for every on-disk file this package owns exclusively
// (preferences, netrc, desync config, cached candidates JSON).
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// MigrateLegacyBranchFile performs the one-time migration of the
// deprecated single-line "steamos-branch" file into preferences.conf,
// gated by legacyPath's presence and prefsPath's absence. The legacy
// file is always removed afterwards (on success, on "unreadable", and
// on "unparseable"), so it can never re-trigger the migration.
//
// The legacy token is split on the literal prefix "steamdeck-"; the
// bare token "steamdeck" maps to branch "stable". If no parseable
// value is available, the manifest's default stream is used instead.
func MigrateLegacyBranchFile(legacyPath, prefsPath string, fallback Stream, logger *log.Logger) (Preferences, error) {
	if _, err := os.Stat(prefsPath); err == nil {
		// Preferences already exist; nothing to migrate.
		return LoadPreferences(prefsPath)
	}

	prefs, migrateErr := parseLegacyBranchFile(legacyPath, fallback)
	if migrateErr != nil {
		logger.Printf("legacy branch file %q is unreadable or unparseable, discarding it and falling back to defaults: %v", legacyPath, migrateErr)
		prefs = Preferences{Variant: fallback.Variant, Branch: fallback.Branch}
	}

	if err := os.Remove(legacyPath); err != nil && !os.IsNotExist(err) {
		logger.Printf("could not remove legacy branch file %q: %v", legacyPath, err)
	}

	if err := prefs.Save(prefsPath); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

func parseLegacyBranchFile(path string, fallback Stream) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Preferences{Variant: fallback.Variant, Branch: fallback.Branch}, nil
		}
		return Preferences{}, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		return Preferences{}, fmt.Errorf("legacy branch file has %d lines, expected exactly one", len(lines))
	}
	token := strings.TrimSpace(lines[0])
	if token == "" {
		return Preferences{}, fmt.Errorf("legacy branch file is empty")
	}

	if token == "steamdeck" {
		return Preferences{Variant: "steamdeck", Branch: "stable"}, nil
	}
	const prefix = "steamdeck-"
	if !strings.HasPrefix(token, prefix) {
		return Preferences{}, fmt.Errorf("legacy branch token %q doesn't have the expected %q prefix", token, prefix)
	}
	branch := strings.TrimPrefix(token, prefix)
	if !ValidStreamToken(branch) {
		return Preferences{}, fmt.Errorf("legacy branch token %q yields an invalid branch name", token)
	}
	return Preferences{Variant: "steamdeck", Branch: branch}, nil
}
