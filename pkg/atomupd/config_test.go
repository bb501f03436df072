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

const clientConf = `[Server]
ImagesUrl=https://example.com/images
MetaUrl=https://example.com/meta
Variants=steamdeck;steamdeck-beta
Branches=stable;beta
`

const devConf = `[Server]
ImagesUrl=https://dev.example.com/images
MetaUrl=https://dev.example.com/meta
`

func TestResolveEffectivePrefersDevConfig(t *testing.T) {
	eff, err := resolveEffective(
		configSource{content: devConf, present: true},
		configSource{content: clientConf, present: true},
		configSource{},
		configSource{},
		nil,
	)
	if err != nil {
		t.Fatalf("resolveEffective: %v", err)
	}
	if !eff.UsedDevConfig {
		t.Error("UsedDevConfig = false, want true when client-dev.conf is present and valid")
	}
	if eff.ImagesURL() != "https://dev.example.com/images" {
		t.Errorf("ImagesURL() = %q, want the dev config's URL", eff.ImagesURL())
	}
}

func TestResolveEffectiveInvalidDevConfigIsHardError(t *testing.T) {
	_, err := resolveEffective(
		configSource{content: "not valid ini [[[", present: true},
		configSource{content: clientConf, present: true},
		configSource{},
		configSource{},
		nil,
	)
	if err == nil {
		t.Error("resolveEffective with a malformed dev config succeeded, want an error")
	}
}

func TestResolveEffectiveFallsBackToFallbackConfig(t *testing.T) {
	eff, err := resolveEffective(
		configSource{},
		configSource{},
		configSource{content: clientConf, present: true},
		configSource{},
		nil,
	)
	if err != nil {
		t.Fatalf("resolveEffective: %v", err)
	}
	if eff.UsedDevConfig {
		t.Error("UsedDevConfig = true, want false when no dev config is present")
	}
	if eff.MetaURL() != "https://example.com/meta" {
		t.Errorf("MetaURL() = %q, want the fallback config's URL", eff.MetaURL())
	}
}

func TestResolveEffectiveMissingMandatoryURLIsError(t *testing.T) {
	_, err := resolveEffective(
		configSource{},
		configSource{content: "[Server]\nImagesUrl=https://example.com/images\n", present: true},
		configSource{},
		configSource{},
		nil,
	)
	if err == nil {
		t.Error("resolveEffective with no MetaUrl succeeded, want an error")
	}
}

func TestResolveEffectiveMergesKnownVariantsFromManifest(t *testing.T) {
	manifest := &Manifest{Variant: "steamdeck-preview", DefaultUpdateBranch: "preview"}
	eff, err := resolveEffective(
		configSource{},
		configSource{content: clientConf, present: true},
		configSource{},
		configSource{},
		manifest,
	)
	if err != nil {
		t.Fatalf("resolveEffective: %v", err)
	}
	found := false
	for _, v := range eff.KnownVariants {
		if v == "steamdeck-preview" {
			found = true
		}
	}
	if !found {
		t.Errorf("KnownVariants = %v, want it to include the manifest's own variant", eff.KnownVariants)
	}
}
