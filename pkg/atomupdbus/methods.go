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

package atomupdbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/steampowered/atomupd-daemon/pkg/atomupd"
)

// methodTable is the value actually passed to dbus.Conn.Export. It
// deliberately does not embed *Server: doing so would also promote
// Server's own exported methods (Run, NewServer's return type) into
// the reflection-based method set dbus.Conn.Export and
// introspect.Methods walk, polluting the bus-visible surface with
// methods that don't match the D-Bus calling convention. Every
// exported method here instead works against srv explicitly and is
// reached through that reflection-based export, not through a central
// switch. Each method passes its own action constant to authorize;
// only CheckForUpdates builds a request and takes its action from
// request.action.
type methodTable struct {
	srv *Server
}

func newMethodTable(s *Server) *methodTable {
	return &methodTable{srv: s}
}

func boolOption(options map[string]dbus.Variant, key string) bool {
	v, ok := options[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func (m *methodTable) CheckForUpdates(options map[string]dbus.Variant, sender dbus.Sender) (map[string]map[string]dbus.Variant, map[string]map[string]dbus.Variant, *dbus.Error) {
	req := request{
		kind:             reqCheckForUpdates,
		penultimate:      boolOption(options, "penultimate"),
		debug:            boolOption(options, "debug"),
		allowInteractive: boolOption(options, "allow-interactive"),
	}
	if err := m.srv.authorize(sender, req.action(nil), req.allowInteractive); err != nil {
		return nil, nil, dbusError(err)
	}

	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	pendingID, pendingOK, _ := m.srv.reboot.Read()
	pendingStr := ""
	if pendingOK {
		pendingStr = pendingID.String()
	}

	stream := atomupd.Stream{Variant: m.srv.prefs.Variant, Branch: m.srv.prefs.Branch}
	result, err := m.srv.candidate.Query(context.Background(), m.srv.cfg.ClientConfigPath, m.srv.cfg.ManifestPath, stream, pendingStr, atomupd.QueryOptions{
		Penultimate: req.penultimate,
		Debug:       req.debug,
	})
	if err != nil {
		if err == atomupd.ErrHTTP4xx {
			return nil, nil, dbusError(m.handleHTTP4xx())
		}
		return nil, nil, dbusError(err)
	}

	if result.ReplacementEOLVariant != "" && result.ReplacementEOLVariant != m.srv.prefs.Variant {
		if serr := m.switchVariantLocked(result.ReplacementEOLVariant); serr != nil {
			m.srv.logger.Printf("could not persist the EOL replacement variant %q: %v", result.ReplacementEOLVariant, serr)
		}
	}

	if err := atomupd.SaveCandidatesJSON(m.srv.cfg.CandidatesJSONPath, result.RawJSON); err != nil {
		m.srv.logger.Printf("could not persist the candidates file: %v", err)
	}
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "UpdatesAvailable", candidateSetToVariants(result.Candidates.Available))
		m.srv.props.SetMust(ifaceName, "UpdatesAvailableLater", candidateSetToVariants(result.Candidates.AvailableLater))
	}

	return candidateSetToVariants(result.Candidates.Available), candidateSetToVariants(result.Candidates.AvailableLater), nil
}

// handleHTTP4xx implements §4.2's fallback-to-default-stream recovery.
func (m *methodTable) handleHTTP4xx() error {
	defaultStream := m.srv.manifest.DefaultStream()
	if m.srv.prefs.Variant == defaultStream.Variant && m.srv.prefs.Branch == defaultStream.Branch {
		return atomupd.ErrExternalCommand
	}
	m.srv.prefs.Variant = defaultStream.Variant
	m.srv.prefs.Branch = defaultStream.Branch
	if err := m.srv.prefs.Save(m.srv.cfg.PreferencesPath); err != nil {
		return err
	}
	return fmt.Errorf("%w: server rejected the request; switched back to the default stream, retry", atomupd.ErrExternalCommand)
}

func (m *methodTable) StartUpdate(buildID string, sender dbus.Sender) *dbus.Error {
	requested, err := atomupd.ParseBuildId(buildID)
	if err != nil {
		return dbusError(fmt.Errorf("%w: %v", atomupd.ErrInvalidArgument, err))
	}
	current, _ := atomupd.ParseBuildId(m.srv.manifest.BuildId)
	action := startUpdateAction(requested, current)

	if err := m.srv.authorize(sender, action, false); err != nil {
		return dbusError(err)
	}

	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	if _, statErr := stat(m.srv.cfg.CandidatesJSONPath); statErr != nil {
		return dbusError(fmt.Errorf("%w: no prior successful CheckForUpdates", atomupd.ErrPrecondition))
	}
	snapshot, err := atomupd.SnapshotCandidatesJSON(m.srv.cfg.CandidatesJSONPath, tempDirOf(m.srv.cfg.CandidatesJSONPath))
	if err != nil {
		return dbusError(err)
	}

	var proxy *atomupd.ProxyConfig
	if m.srv.prefs.HasProxy() {
		proxy = &atomupd.ProxyConfig{Address: m.srv.prefs.ProxyAddress, Port: m.srv.prefs.ProxyPort}
	}

	knownVersion := ""
	if cached, cerr := atomupd.LoadCandidatesJSON(m.srv.cfg.CandidatesJSONPath, ""); cerr == nil {
		if c, ok := cached.Candidates.Available[requested.String()]; ok {
			knownVersion = c.Version
		}
	}

	startErr := m.srv.session.Start(atomupd.StartOptions{
		BuildId:      requested,
		ConfigPath:   m.srv.cfg.ClientConfigPath,
		SnapshotPath: snapshot,
		KnownVersion: knownVersion,
		Proxy:        proxy,
	})
	return dbusError(startErr)
}

func (m *methodTable) StartCustomUpdate(options map[string]dbus.Variant, sender dbus.Sender) *dbus.Error {
	// The original server-side contract for this method is only
	// partially realised upstream; surface it as not-yet-implemented
	// rather than silently no-op.
	return dbus.NewError("com.steampowered.Atomupd1.Error.Failed", []interface{}{"StartCustomUpdate is not implemented"})
}

func (m *methodTable) PauseUpdate(sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionPauseUpdate, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()
	return dbusError(m.srv.session.Pause())
}

func (m *methodTable) ResumeUpdate(sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionResumeUpdate, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()
	return dbusError(m.srv.session.Resume())
}

func (m *methodTable) CancelUpdate(sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionCancelUpdate, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()
	return dbusError(m.srv.session.Cancel())
}

func (m *methodTable) SwitchToVariant(variant string, sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionSwitchVariant, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()
	return dbusError(m.switchVariantLocked(variant))
}

func (m *methodTable) switchVariantLocked(variant string) error {
	if variant == m.srv.prefs.Variant {
		return nil // explicit no-op success, not an ambiguous case
	}
	if !atomupd.ValidStreamToken(variant) {
		return fmt.Errorf("%w: %q is not a valid variant token", atomupd.ErrInvalidArgument, variant)
	}
	prev := m.srv.prefs.Variant
	m.srv.prefs.Variant = variant
	if err := m.srv.prefs.Save(m.srv.cfg.PreferencesPath); err != nil {
		m.srv.prefs.Variant = prev
		return err
	}
	m.clearCandidatesLocked()
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "Variant", m.srv.prefs.Variant)
	}
	return nil
}

func (m *methodTable) SwitchToBranch(branch string, sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionSwitchBranch, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	if branch == m.srv.prefs.Branch {
		return nil
	}
	if !atomupd.ValidStreamToken(branch) {
		return dbusError(fmt.Errorf("%w: %q is not a valid branch token", atomupd.ErrInvalidArgument, branch))
	}
	prev := m.srv.prefs.Branch
	m.srv.prefs.Branch = branch
	if err := m.srv.prefs.Save(m.srv.cfg.PreferencesPath); err != nil {
		m.srv.prefs.Branch = prev
		return dbusError(err)
	}
	m.clearCandidatesLocked()
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "Branch", m.srv.prefs.Branch)
	}
	return nil
}

func (m *methodTable) clearCandidatesLocked() {
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "UpdatesAvailable", map[string]map[string]dbus.Variant{})
		m.srv.props.SetMust(ifaceName, "UpdatesAvailableLater", map[string]map[string]dbus.Variant{})
	}
}

func (m *methodTable) ReloadConfiguration(options map[string]dbus.Variant, sender dbus.Sender) (map[string]dbus.Variant, *dbus.Error) {
	if err := m.srv.authorize(sender, ActionReloadConfiguration, boolOption(options, "allow-interactive")); err != nil {
		return nil, dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	if err := m.srv.resolveConfiguration(context.Background()); err != nil {
		return nil, dbusError(err)
	}

	// Supplemented diagnostics surface (not in the distilled method
	// contract, present in the original's verbose-reload behaviour):
	// report which URLs are now in effect, so operators don't have to
	// go spelunking in the config files by hand.
	diagnostics := map[string]dbus.Variant{
		"ImagesUrl":     dbus.MakeVariant(m.srv.effective.ImagesURL()),
		"MetaUrl":       dbus.MakeVariant(m.srv.effective.MetaURL()),
		"UsedDevConfig": dbus.MakeVariant(m.srv.effective.UsedDevConfig),
	}
	return diagnostics, nil
}

func (m *methodTable) EnableHttpProxy(address string, port uint16, options map[string]dbus.Variant, sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionEnableHTTPProxy, false); err != nil {
		return dbusError(err)
	}
	if address == "" {
		return dbusError(fmt.Errorf("%w: proxy address must not be empty", atomupd.ErrInvalidArgument))
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	prev := m.srv.prefs
	m.srv.prefs.ProxyAddress = address
	m.srv.prefs.ProxyPort = int(port)
	if err := m.srv.prefs.Save(m.srv.cfg.PreferencesPath); err != nil {
		m.srv.prefs = prev
		return dbusError(err)
	}
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "HttpProxy", m.srv.prefs.ProxyAddress)
	}
	if err := m.srv.writeProxyEnvironment(); err != nil {
		m.srv.logger.Printf("could not refresh %s: %v", m.srv.cfg.ProxyEnvironmentFilePath, err)
	}
	return nil
}

func (m *methodTable) DisableHttpProxy(sender dbus.Sender) *dbus.Error {
	if err := m.srv.authorize(sender, ActionDisableHTTPProxy, false); err != nil {
		return dbusError(err)
	}
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()

	prev := m.srv.prefs
	m.srv.prefs.ProxyAddress = ""
	m.srv.prefs.ProxyPort = 0
	if err := m.srv.prefs.Save(m.srv.cfg.PreferencesPath); err != nil {
		m.srv.prefs = prev
		return dbusError(err)
	}
	if m.srv.props != nil {
		m.srv.props.SetMust(ifaceName, "HttpProxy", "")
	}
	if err := m.srv.writeProxyEnvironment(); err != nil {
		m.srv.logger.Printf("could not refresh %s: %v", m.srv.cfg.ProxyEnvironmentFilePath, err)
	}
	return nil
}

func candidateSetToVariants(set map[string]atomupd.Candidate) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(set))
	for id, c := range set {
		entry := map[string]dbus.Variant{
			"version":        dbus.MakeVariant(c.Version),
			"variant":        dbus.MakeVariant(c.Variant),
			"estimated_size": dbus.MakeVariant(c.EstimatedSize),
		}
		if c.Requires != "" {
			entry["requires"] = dbus.MakeVariant(c.Requires)
		}
		out[id] = entry
	}
	return out
}
