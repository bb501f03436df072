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
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the read-only JSON document installed with the running
// image; it is the source of truth for "what image is installed now".
type Manifest struct {
	BuildId             string `json:"buildid"`
	Version             string `json:"version"`
	Variant             string `json:"variant"`
	DefaultUpdateBranch string `json:"default_update_branch"`
	Release             string `json:"release"`
	Product             string `json:"product"`
	Arch                string `json:"arch"`
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFilesystem(fmt.Sprintf("could not read manifest %q", path), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errFilesystem(fmt.Sprintf("could not parse manifest %q", path), err)
	}
	if m.BuildId == "" || m.Variant == "" {
		return nil, errConfiguration(fmt.Sprintf("manifest %q is missing buildid or variant", path), nil)
	}
	return &m, nil
}

// ParseBuildId parses the manifest's buildid string.
func (m *Manifest) ParseBuildId() (BuildId, error) {
	return ParseBuildId(m.BuildId)
}

// DefaultStream is the (Variant, Branch) the manifest proposes as a
// fallback, used by the HTTP-4xx recovery path and preference
// migration.
func (m *Manifest) DefaultStream() Stream {
	return Stream{Variant: m.Variant, Branch: m.DefaultUpdateBranch}
}

// RemoteInfoURL builds the "<MetaUrl>/<release>/<product>/<arch>/<variant>/remote-info.conf"
// URL described in §4.3, using the given variant rather than the
// manifest's own (the host may be tracking a different variant than
// the one it was imaged with).
func (m *Manifest) RemoteInfoURL(metaURL, variant string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/remote-info.conf",
		trimTrailingSlash(metaURL), m.Release, m.Product, m.Arch, variant)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
