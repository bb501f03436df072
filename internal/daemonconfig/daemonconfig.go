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

// Package daemonconfig loads the daemon's own operational
// configuration: bus identity, log verbosity, and the on-disk paths
// it manages. This is distinct from the client-facing layered
// configuration in pkg/atomupd, which is resolved separately from the
// update server.
package daemonconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's operational configuration, normally loaded
// from /etc/atomupd-daemon/daemon.yaml and overridable piecemeal by
// the AU_* environment variables named in the external interfaces.
type Config struct {
	BusName   string `yaml:"bus_name"`
	ObjectPath string `yaml:"object_path"`

	Verbose bool `yaml:"verbose"`

	ManifestPath string `yaml:"manifest_path"`

	ConfigDir   string `yaml:"config_dir"`
	DevConfigPath      string `yaml:"dev_config_path"`
	ClientConfigPath   string `yaml:"client_config_path"`
	FallbackConfigPath string `yaml:"fallback_config_path"`
	RemoteInfoPath     string `yaml:"remote_info_path"`

	PreferencesPath string `yaml:"preferences_path"`
	LegacyBranchPath string `yaml:"legacy_branch_path"`

	CandidatesJSONPath string `yaml:"candidates_json_path"`
	RebootPendingPath  string `yaml:"reboot_pending_path"`

	NetrcPath  string `yaml:"netrc_path"`
	DesyncPath string `yaml:"desync_path"`

	QueryHelperPath   string `yaml:"query_helper_path"`
	InstallHelperPath string `yaml:"install_helper_path"`
	RaucServiceName   string `yaml:"rauc_service_name"`

	// ProxyEnvironmentFilePath is an EnvironmentFile= consumed by the
	// rauc service's unit, kept in sync with the preferences proxy so
	// the image-apply process sees the same proxy as the install
	// helper even though it is started by systemd, not by us.
	ProxyEnvironmentFilePath string `yaml:"proxy_environment_file_path"`

	PolicyActionPrefix string `yaml:"policy_action_prefix"`
}

// Default returns the configuration the daemon ships with, matching
// the canonical Steam Deck filesystem layout.
func Default() Config {
	return Config{
		BusName:    "com.steampowered.Atomupd1",
		ObjectPath: "/com/steampowered/Atomupd1",

		ManifestPath: "/etc/os-release-manifest.json",

		ConfigDir:          "/etc/steamos-atomupd",
		DevConfigPath:      "/etc/steamos-atomupd/client-dev.conf",
		ClientConfigPath:   "/etc/steamos-atomupd/client.conf",
		FallbackConfigPath: "/usr/share/steamos-atomupd/client.conf",
		RemoteInfoPath:     "/etc/steamos-atomupd/remote-info.conf",

		PreferencesPath:  "/etc/steamos-atomupd/preferences.conf",
		LegacyBranchPath: "/etc/steamos-branch",

		CandidatesJSONPath: "/var/cache/steamos-atomupd/candidates.json",
		RebootPendingPath:  "/run/steamos-atomupd/reboot-pending",

		NetrcPath:  "/etc/netrc",
		DesyncPath: "/etc/desync/config.json",

		QueryHelperPath:   "/usr/bin/steamos-atomupd-client",
		InstallHelperPath: "/usr/bin/steamos-atomupd-client",
		RaucServiceName:   "rauc.service",

		ProxyEnvironmentFilePath: "/run/steamos-atomupd/proxy.env",

		PolicyActionPrefix: "com.steampowered.atomupd1.",
	}
}

// Load reads path and overlays it on Default(); a missing file is not
// an error, since every field already has a usable default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading daemon config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing daemon config %q: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays the development/test environment
// variables named in the external interfaces on top of cfg, the way
// the original implementation lets its test suite redirect every
// managed path without touching the installed config file.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("AU_CHOSEN_BRANCH_FILE"); v != "" {
		cfg.LegacyBranchPath = v
	}
	if v := os.Getenv("AU_FALLBACK_CONFIG_PATH"); v != "" {
		cfg.FallbackConfigPath = v
	}
	if v := os.Getenv("AU_USER_PREFERENCES_FILE"); v != "" {
		cfg.PreferencesPath = v
	}
	if v := os.Getenv("AU_REMOTE_INFO_PATH"); v != "" {
		cfg.RemoteInfoPath = v
	}
	if v := os.Getenv("AU_UPDATES_JSON_FILE"); v != "" {
		cfg.CandidatesJSONPath = v
	}
	if v := os.Getenv("AU_REBOOT_FOR_UPDATE"); v != "" {
		cfg.RebootPendingPath = v
	}
	return cfg
}
