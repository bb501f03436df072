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
	"log"
	"os"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Effective is the merged, ready-to-use configuration produced by the
// layered resolution in §4.3: server URLs, known streams, and
// optional HTTP basic-auth credentials.
type Effective struct {
	// URLs holds every Server-section key ending in "Url", verbatim.
	// ImagesUrl and MetaUrl are mandatory and are always present here.
	URLs map[string]string

	Username string
	Password string
	HasAuth  bool

	KnownVariants []string
	KnownBranches []string

	// UsedDevConfig records whether client-dev.conf won the layering,
	// in which case remote-info was never consulted.
	UsedDevConfig bool
}

// ImagesURL and MetaURL are the two mandatory URLs.
func (e Effective) ImagesURL() string { return e.URLs["ImagesUrl"] }
func (e Effective) MetaURL() string   { return e.URLs["MetaUrl"] }

// configSource is one INI file candidate for the layering: its raw
// content if readable, and whether it existed at all.
type configSource struct {
	content string
	present bool
}

func readConfigSource(path string) configSource {
	data, err := os.ReadFile(path)
	if err != nil {
		return configSource{present: false}
	}
	return configSource{content: string(data), present: true}
}

// parsedServer pulls out of an INI document's [Server] section exactly
// the fields the resolver cares about.
type parsedServer struct {
	urls     map[string]string
	username string
	password string
	hasAuth  bool
	variants []string
	branches []string
}

func parseServerSection(content string) (parsedServer, error) {
	f, err := parseINI(content)
	if err != nil {
		return parsedServer{}, err
	}
	var ps parsedServer
	ps.urls = map[string]string{}
	if sec, ok := f.sections["Server"]; ok {
		for _, key := range sec.order {
			v := sec.values[key]
			if strings.HasSuffix(key, "Url") {
				ps.urls[key] = v
				continue
			}
			switch key {
			case "Username":
				ps.username = v
			case "Password":
				ps.password = v
			case "Variants":
				ps.variants = splitSemicolonList(v)
			case "Branches":
				ps.branches = splitSemicolonList(v)
			}
		}
	}
	ps.hasAuth = ps.username != "" && ps.password != ""
	return ps, nil
}

// resolveEffective is the pure core of the configuration resolver
// (design note 9: "express as a pure function resolve(layers,
// remote_info_contents) -> Effective"). It never touches the
// filesystem or the network.
func resolveEffective(dev, client, fallback, remoteInfo configSource, manifest *Manifest) (Effective, error) {
	if dev.present {
		ps, err := parseServerSection(dev.content)
		if err == nil {
			eff, verr := buildEffective(ps, parsedServer{}, manifest)
			if verr == nil {
				eff.UsedDevConfig = true
				return eff, nil
			}
			err = verr
		}
		// A present-but-unparseable or invalid dev config is a hard
		// configuration error: it was explicitly placed there to
		// override everything else, so silently falling through
		// would hide a developer mistake.
		return Effective{}, errConfiguration("client-dev.conf is present but invalid", err)
	}

	base := client
	if !base.present {
		base = fallback
	} else if _, err := parseServerSection(base.content); err != nil {
		base = fallback
	}
	if !base.present {
		return Effective{}, errConfiguration("no parseable configuration is available in any layer", nil)
	}

	ps, err := parseServerSection(base.content)
	if err != nil {
		return Effective{}, errConfiguration("configuration layer is malformed", err)
	}

	var remote parsedServer
	if remoteInfo.present {
		remote, err = parseServerSection(remoteInfo.content)
		if err != nil {
			return Effective{}, errConfiguration("remote-info.conf is malformed", err)
		}
	}

	return buildEffective(ps, remote, manifest)
}

func buildEffective(base, remote parsedServer, manifest *Manifest) (Effective, error) {
	eff := Effective{URLs: map[string]string{}}
	for k, v := range base.urls {
		eff.URLs[k] = v
	}
	if base.hasAuth {
		eff.Username, eff.Password, eff.HasAuth = base.username, base.password, true
	}

	variants := append([]string{}, base.variants...)
	branches := append([]string{}, base.branches...)
	variants = append(variants, remote.variants...)
	branches = append(branches, remote.branches...)

	if manifest != nil {
		variants = AppendIfMissing(variants, manifest.Variant)
		branches = AppendIfMissing(branches, manifest.DefaultUpdateBranch)
	}
	eff.KnownVariants = FilterStreamTokens(variants)
	eff.KnownBranches = FilterStreamTokens(branches)

	if eff.URLs["ImagesUrl"] == "" {
		return Effective{}, errConfiguration("the configuration is missing the mandatory ImagesUrl entry", nil)
	}
	if eff.URLs["MetaUrl"] == "" {
		return Effective{}, errConfiguration("the configuration is missing the mandatory MetaUrl entry", nil)
	}
	return eff, nil
}

// Resolver is the impure shell around resolveEffective: it knows
// where the layered files live, how to refresh remote-info.conf over
// the network, and de-duplicates concurrent resolutions.
type Resolver struct {
	DevConfigPath      string
	ConfigPath         string
	FallbackConfigPath string
	RemoteInfoPath     string

	ManifestPath string

	Logger *log.Logger

	group singleflight.Group
}

// Resolve re-reads the layered configuration and, unless a dev config
// is already in effect, refreshes remote-info.conf first. Concurrent
// calls collapse into a single in-flight resolution via singleflight,
// matching §5's requirement that ReloadConfiguration and an implicit
// startup resolve may race without corrupting state.
func (r *Resolver) Resolve(ctx context.Context, manifest *Manifest, current Stream, proxy *ProxyConfig) (Effective, error) {
	v, err, _ := r.group.Do("resolve", func() (any, error) {
		return r.resolveLocked(ctx, manifest, current, proxy)
	})
	if err != nil {
		return Effective{}, err
	}
	return v.(Effective), nil
}

func (r *Resolver) resolveLocked(ctx context.Context, manifest *Manifest, current Stream, proxy *ProxyConfig) (Effective, error) {
	dev := readConfigSource(r.DevConfigPath)
	client := readConfigSource(r.ConfigPath)
	fallback := readConfigSource(r.FallbackConfigPath)

	if !dev.present {
		if metaURL, ok := baseMetaURL(client, fallback); ok && manifest != nil {
			if err := r.refreshRemoteInfo(ctx, manifest, metaURL, current, proxy); err != nil {
				// Non-fatal: §4.3 "Failure is non-fatal; the service
				// continues with whatever local remote-info exists."
				r.Logger.Printf("remote-info refresh failed, continuing with local copy: %v", err)
			}
		}
	}
	remoteInfo := readConfigSource(r.RemoteInfoPath)

	return resolveEffective(dev, client, fallback, remoteInfo, manifest)
}

// baseMetaURL extracts MetaUrl from whichever of client.conf/fallback
// would win the layering, so the remote-info refresh can be attempted
// before the full (remote-info-dependent) Effective is built.
func baseMetaURL(client, fallback configSource) (string, bool) {
	base := client
	if !base.present {
		base = fallback
	} else if ps, err := parseServerSection(base.content); err != nil || ps.urls["MetaUrl"] == "" {
		base = fallback
	}
	if !base.present {
		return "", false
	}
	ps, err := parseServerSection(base.content)
	if err != nil || ps.urls["MetaUrl"] == "" {
		return "", false
	}
	return ps.urls["MetaUrl"], true
}

// ProxyConfig names the HTTP(S) proxy preferences currently has
// configured, if any.
type ProxyConfig struct {
	Address string
	Port    int
}

func (p *ProxyConfig) url() string {
	if p == nil || p.Address == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", p.Address, p.Port)
}
