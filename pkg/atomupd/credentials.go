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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// hostFromURL extracts the host component of a URL, the way
// _au_get_host_from_url does: strip the "scheme://" prefix, then
// truncate at the first remaining '/'.
func hostFromURL(rawURL string) string {
	host := rawURL
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+len("://"):]
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// UpdateNetrc ensures machine entries for every host derived from
// urls exist in the netrc document existing, all with the given
// username/password. It is a pure function: deterministic (hosts are
// emitted in sorted order) and idempotent (a no-op re-application
// returns existing unchanged).
func UpdateNetrc(existing string, urls []string, username, password string) string {
	login := fmt.Sprintf("login %s password %s", username, password)

	hosts := map[string]bool{}
	for _, u := range urls {
		hosts[hostFromURL(u)] = true
	}

	var out strings.Builder
	changed := false

	if existing != "" {
		for _, line := range strings.Split(strings.TrimRight(existing, "\n"), "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			parts := strings.SplitN(trimmed, " ", 3)
			if len(parts) != 3 || parts[0] != "machine" {
				out.WriteString(trimmed)
				out.WriteByte('\n')
				continue
			}
			host, rest := parts[1], parts[2]
			if hosts[host] {
				delete(hosts, host)
				if rest != login {
					changed = true
					fmt.Fprintf(&out, "machine %s %s\n", host, login)
					continue
				}
			}
			out.WriteString(trimmed)
			out.WriteByte('\n')
		}
	}

	remaining := make([]string, 0, len(hosts))
	for h := range hosts {
		remaining = append(remaining, h)
	}
	sort.Strings(remaining)
	for _, h := range remaining {
		changed = true
		fmt.Fprintf(&out, "machine %s %s\n", h, login)
	}

	if !changed {
		return existing
	}
	return out.String()
}

// desyncGlobKeys returns the (up to five-star) glob keys the original
// implementation writes for a base URL: "<url>/*/*/", then the same
// key with one, two, and three more "*/" segments appended, covering
// the image/version/castr layout plus a few speculative extra levels.
func desyncGlobKeys(baseURL string) []string {
	prefix := baseURL
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	prefix += "*/*/"

	keys := make([]string, 0, 4)
	key := prefix
	keys = append(keys, key)
	for i := 0; i < 3; i++ {
		key += "*/"
		keys = append(keys, key)
	}
	return keys
}

// UpdateDesyncConfig ensures the glob keys derived from url exist
// under "store-options" in the Desync JSON config existingJSON, with
// http-auth set to authHeader and a 1-second error-retry base
// interval (in nanoseconds, matching the original's g_time_span
// units). Idempotent and deterministic (keys are written in a fixed
// order, map marshalling aside).
func UpdateDesyncConfig(existingJSON string, url string, authHeader string) (string, error) {
	root := map[string]any{}
	if strings.TrimSpace(existingJSON) != "" {
		if err := json.Unmarshal([]byte(existingJSON), &root); err != nil {
			return "", fmt.Errorf("existing desync config is not a JSON object: %w", err)
		}
	}

	storeOptionsRaw, _ := root["store-options"].(map[string]any)
	if storeOptionsRaw == nil {
		storeOptionsRaw = map[string]any{}
	}

	changed := false
	for _, key := range desyncGlobKeys(url) {
		entryRaw, _ := storeOptionsRaw[key].(map[string]any)
		if entryRaw != nil {
			if oldAuth, _ := entryRaw["http-auth"].(string); oldAuth != authHeader {
				entryRaw["http-auth"] = authHeader
				changed = true
			}
			continue
		}
		storeOptionsRaw[key] = map[string]any{
			"http-auth":                 authHeader,
			"error-retry-base-interval": int64(1_000_000_000),
		}
		changed = true
	}

	if !changed {
		return existingJSON, nil
	}

	root["store-options"] = storeOptionsRaw
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// BasicAuthHeader renders the "Basic <base64(u:p)>" value desync
// expects.
func BasicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// MaterializeCredentials updates the netrc and Desync config files so
// the query/install helpers can authenticate against eff's URLs, per
// §4.3. It is a no-op if eff carries no credentials.
func MaterializeCredentials(eff Effective, netrcPath, desyncPath string) error {
	if !eff.HasAuth {
		return nil
	}

	urls := make([]string, 0, len(eff.URLs))
	for _, u := range eff.URLs {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	existingNetrc := ""
	if data, err := os.ReadFile(netrcPath); err == nil {
		existingNetrc = string(data)
	} else if !os.IsNotExist(err) {
		return errFilesystem(fmt.Sprintf("could not read netrc file %q", netrcPath), err)
	}
	updatedNetrc := UpdateNetrc(existingNetrc, urls, eff.Username, eff.Password)
	if updatedNetrc != existingNetrc {
		if err := atomicWriteFile(netrcPath, []byte(updatedNetrc), 0600); err != nil {
			return errFilesystem(fmt.Sprintf("could not write netrc file %q", netrcPath), err)
		}
	}

	imagesURL := eff.ImagesURL()
	if imagesURL == "" {
		return nil
	}
	existingDesync := ""
	if data, err := os.ReadFile(desyncPath); err == nil {
		existingDesync = string(data)
	} else if !os.IsNotExist(err) {
		return errFilesystem(fmt.Sprintf("could not read desync config %q", desyncPath), err)
	}
	auth := BasicAuthHeader(eff.Username, eff.Password)
	updatedDesync, err := UpdateDesyncConfig(existingDesync, imagesURL, auth)
	if err != nil {
		return errFilesystem(fmt.Sprintf("could not parse desync config %q", desyncPath), err)
	}
	if updatedDesync != existingDesync {
		if err := atomicWriteFile(desyncPath, []byte(updatedDesync), 0600); err != nil {
			return errFilesystem(fmt.Sprintf("could not write desync config %q", desyncPath), err)
		}
	}
	return nil
}
