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
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	remoteInfoConnectTimeout = 10 * time.Second
	remoteInfoTotalTimeout   = 10 * time.Second
)

// refreshRemoteInfo downloads the variant-specific remote-info.conf
// and atomically replaces the local copy on success. It is the one
// impure step design note 9 keeps separate from resolveEffective.
func (r *Resolver) refreshRemoteInfo(ctx context.Context, manifest *Manifest, metaURL string, current Stream, proxy *ProxyConfig) error {
	remoteURL := manifest.RemoteInfoURL(metaURL, current.Variant)
	body, err := downloadFile(ctx, remoteURL, proxy)
	if err != nil {
		return errTransient(fmt.Sprintf("failed to download remote-info from %q", remoteURL), err)
	}
	if err := atomicWriteFile(r.RemoteInfoPath, body, 0644); err != nil {
		return errFilesystem(fmt.Sprintf("could not write remote-info file %q", r.RemoteInfoPath), err)
	}
	return nil
}

func downloadFile(ctx context.Context, rawURL string, proxy *ProxyConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteInfoTotalTimeout)
	defer cancel()

	transport := &http.Transport{}
	if proxyURL := proxy.url(); proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	dialer := &net.Dialer{Timeout: remoteInfoConnectTimeout}
	transport.DialContext = dialer.DialContext

	client := &http.Client{
		Transport: transport,
		// The default redirect policy (follow, cap at 10) matches
		// §4.3's "follows redirects".
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d from %q", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}
