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
	"log"
	"os/exec"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/mdlayher/sdnotify"

	"github.com/steampowered/atomupd-daemon/pkg/atomupd"
	"github.com/steampowered/atomupd-daemon/pkg/env"
	"github.com/steampowered/atomupd-daemon/internal/daemonconfig"
)

const ifaceName = "com.steampowered.Atomupd1"

// Server is the bus-facing object: it owns the single logical
// executor (mu) that serialises every writing method, and forwards
// requests into pkg/atomupd once authorised.
type Server struct {
	conn   *dbus.Conn
	cfg    daemonconfig.Config
	logger *log.Logger
	policy PolicyChecker

	mu sync.Mutex // the server's single logical executor

	manifest  *atomupd.Manifest
	resolver  *atomupd.Resolver
	candidate *atomupd.CandidateResolver
	session   *atomupd.Session
	reboot    *atomupd.RebootPendingMarker

	prefs     atomupd.Preferences
	effective atomupd.Effective

	props *prop.Properties
}

// NewServer wires every pkg/atomupd component according to cfg and
// connects to the system bus, but does not yet request the well-known
// name — call Run for that.
func NewServer(cfg daemonconfig.Config, policy PolicyChecker, logger *log.Logger) (*Server, error) {
	manifest, err := atomupd.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	if err := atomupd.AssertNoRunningHelper(execBaseName(cfg.InstallHelperPath)); err != nil {
		logger.Printf("a stale install helper was found at startup, terminating it: %v", err)
		if pid, found, ferr := atomupd.FindRunningHelper(execBaseName(cfg.InstallHelperPath)); ferr == nil && found {
			_ = atomupd.TerminateProcessGroup(pid, logger)
		}
	}

	prefs, err := atomupd.MigrateLegacyBranchFile(cfg.LegacyBranchPath, cfg.PreferencesPath, manifest.DefaultStream(), logger)
	if err != nil {
		return nil, fmt.Errorf("migrating legacy preferences: %w", err)
	}

	resolver := &atomupd.Resolver{
		DevConfigPath:      cfg.DevConfigPath,
		ConfigPath:         cfg.ClientConfigPath,
		FallbackConfigPath: cfg.FallbackConfigPath,
		RemoteInfoPath:     cfg.RemoteInfoPath,
		Logger:             logger,
	}

	candidate := &atomupd.CandidateResolver{
		HelperPath: cfg.QueryHelperPath,
		Logger:     logger,
	}

	reboot := atomupd.NewRebootPendingMarker(cfg.RebootPendingPath)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to the system bus: %w", err)
	}

	s := &Server{
		conn:      conn,
		cfg:       cfg,
		logger:    logger,
		policy:    policy,
		manifest:  manifest,
		resolver:  resolver,
		candidate: candidate,
		reboot:    reboot,
		prefs:     prefs,
	}
	s.session = atomupd.NewSession(cfg.InstallHelperPath, s.lookupRaucPid, logger, s.onSessionChange)

	if id, ok, rerr := reboot.Read(); rerr == nil && ok {
		s.session.AdoptRebootPending(id, "")
	} else if rerr != nil {
		logger.Printf("could not read reboot-pending marker: %v", rerr)
	}

	return s, nil
}

func execBaseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// lookupRaucPid resolves the image-apply service's MainPID via
// systemctl, the way _au_get_rauc_service_pid does.
func (s *Server) lookupRaucPid() (int, error) {
	out, err := exec.Command("systemctl", "show", "--property", "MainPID", s.cfg.RaucServiceName).Output()
	if err != nil {
		return 0, fmt.Errorf("querying %s's MainPID: %w", s.cfg.RaucServiceName, err)
	}
	var pid int
	if _, err := fmt.Sscanf(string(out), "MainPID=%d", &pid); err != nil {
		return 0, fmt.Errorf("parsing MainPID output %q: %w", out, err)
	}
	if pid == 0 {
		return 0, fmt.Errorf("%s is not currently running", s.cfg.RaucServiceName)
	}
	return pid, nil
}

// Run exports the object, claims the well-known bus name (replacing
// any prior instance), notifies systemd readiness, and blocks
// servicing requests until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.exportObject(); err != nil {
		return err
	}

	reply, err := s.conn.RequestName(s.cfg.BusName, dbus.NameFlagReplaceExisting|dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %q: %w", s.cfg.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("could not become the primary owner of %q (reply %d)", s.cfg.BusName, reply)
	}

	if err := s.resolveConfiguration(ctx); err != nil {
		s.logger.Printf("initial configuration resolution failed: %v", err)
	}

	if err := sdnotify.Ready(); err != nil {
		s.logger.Printf("sd_notify(READY=1) failed (not running under systemd?): %v", err)
	}

	<-ctx.Done()
	_ = s.conn.ReleaseName(s.cfg.BusName)
	return s.conn.Close()
}

func (s *Server) exportObject() error {
	path := dbus.ObjectPath(s.cfg.ObjectPath)

	if err := s.conn.Export(newMethodTable(s), path, ifaceName); err != nil {
		return fmt.Errorf("exporting methods: %w", err)
	}

	propsSpec := s.propertySpec()
	p, err := prop.Export(s.conn, path, propsSpec)
	if err != nil {
		return fmt.Errorf("exporting properties: %w", err)
	}
	s.props = p

	node := &introspect.Node{
		Name: s.cfg.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       ifaceName,
				Methods:    introspect.Methods(newMethodTable(s)),
				Properties: p.Introspection(ifaceName),
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("exporting introspection: %w", err)
	}
	return nil
}

// resolveConfiguration re-resolves the layered configuration and
// materialises credentials, per §4.3; called at startup and from
// ReloadConfiguration.
func (s *Server) resolveConfiguration(ctx context.Context) error {
	current := atomupd.Stream{Variant: s.prefs.Variant, Branch: s.prefs.Branch}
	var proxy *atomupd.ProxyConfig
	if s.prefs.HasProxy() {
		proxy = &atomupd.ProxyConfig{Address: s.prefs.ProxyAddress, Port: s.prefs.ProxyPort}
	}

	eff, err := s.resolver.Resolve(ctx, s.manifest, current, proxy)
	if err != nil {
		return err
	}
	s.effective = eff

	if err := atomupd.MaterializeCredentials(eff, s.cfg.NetrcPath, s.cfg.DesyncPath); err != nil {
		s.logger.Printf("credential materialisation failed: %v", err)
	}

	if s.props != nil {
		s.props.SetMust(ifaceName, "KnownVariants", eff.KnownVariants)
		s.props.SetMust(ifaceName, "KnownBranches", eff.KnownBranches)
	}

	if err := s.writeProxyEnvironment(); err != nil {
		s.logger.Printf("could not refresh %s: %v", s.cfg.ProxyEnvironmentFilePath, err)
	}
	return nil
}

// proxyEnvironment is the EnvironmentFile= shape the rauc unit reads;
// systemd ignores a field whose value is empty, so a cleared proxy
// naturally drops both keys out of the file.
type proxyEnvironment struct {
	HTTPSProxy string `env:"https_proxy"`
	HTTPProxy  string `env:"http_proxy"`
}

func (s *Server) writeProxyEnvironment() error {
	if s.cfg.ProxyEnvironmentFilePath == "" {
		return nil
	}
	var e proxyEnvironment
	if s.prefs.HasProxy() {
		addr := fmt.Sprintf("http://%s:%d", s.prefs.ProxyAddress, s.prefs.ProxyPort)
		e.HTTPSProxy = addr
		e.HTTPProxy = addr
	}
	return env.Write(s.cfg.ProxyEnvironmentFilePath, &e)
}

// onSessionChange is the Session's property-change hook: it pushes
// every field onto the bus property store, which in turn emits
// PropertiesChanged before this call returns, satisfying §5's
// ordering guarantee that every notification precedes the method
// reply that triggered it.
func (s *Server) onSessionChange(state atomupd.SessionState) {
	if s.props == nil {
		return
	}
	s.props.SetMust(ifaceName, "UpdateBuildID", state.UpdateBuildId)
	s.props.SetMust(ifaceName, "UpdateVersion", state.UpdateVersion)
	s.props.SetMust(ifaceName, "UpdateStatus", state.Status.String())
	s.props.SetMust(ifaceName, "ProgressPercentage", state.ProgressPercentage)
	s.props.SetMust(ifaceName, "EstimatedCompletionTime", state.EstimatedCompletionTime)
	s.props.SetMust(ifaceName, "FailureCode", state.FailureCode)
	s.props.SetMust(ifaceName, "FailureMessage", state.FailureMessage)
}

func (s *Server) propertySpec() prop.Map {
	state := s.session.State()

	// Republish the previous instance's candidates from the cached file.
	available := map[string]map[string]dbus.Variant{}
	availableLater := map[string]map[string]dbus.Variant{}
	pendingStr := ""
	if id, ok, err := s.reboot.Read(); err == nil && ok {
		pendingStr = id.String()
	}
	if cached, err := atomupd.LoadCandidatesJSON(s.cfg.CandidatesJSONPath, pendingStr); err == nil {
		available = candidateSetToVariants(cached.Candidates.Available)
		availableLater = candidateSetToVariants(cached.Candidates.AvailableLater)
	}

	return prop.Map{
		ifaceName: {
			"Version":                 {Value: int32(1), Writable: false, Emit: prop.EmitTrue, Callback: nil},
			"Variant":                 {Value: s.prefs.Variant, Writable: false, Emit: prop.EmitTrue},
			"Branch":                  {Value: s.prefs.Branch, Writable: false, Emit: prop.EmitTrue},
			"KnownVariants":           {Value: s.effective.KnownVariants, Writable: false, Emit: prop.EmitTrue},
			"KnownBranches":           {Value: s.effective.KnownBranches, Writable: false, Emit: prop.EmitTrue},
			"CurrentBuildID":          {Value: s.manifest.BuildId, Writable: false, Emit: prop.EmitTrue},
			"CurrentVersion":          {Value: s.manifest.Version, Writable: false, Emit: prop.EmitTrue},
			"UpdateBuildID":           {Value: state.UpdateBuildId, Writable: false, Emit: prop.EmitTrue},
			"UpdateVersion":           {Value: state.UpdateVersion, Writable: false, Emit: prop.EmitTrue},
			"UpdateStatus":            {Value: state.Status.String(), Writable: false, Emit: prop.EmitTrue},
			"ProgressPercentage":      {Value: state.ProgressPercentage, Writable: false, Emit: prop.EmitTrue},
			"EstimatedCompletionTime": {Value: state.EstimatedCompletionTime, Writable: false, Emit: prop.EmitTrue},
			"FailureCode":             {Value: state.FailureCode, Writable: false, Emit: prop.EmitTrue},
			"FailureMessage":          {Value: state.FailureMessage, Writable: false, Emit: prop.EmitTrue},
			"UpdatesAvailable":        {Value: available, Writable: false, Emit: prop.EmitTrue},
			"UpdatesAvailableLater":   {Value: availableLater, Writable: false, Emit: prop.EmitTrue},
			"HttpProxy":               {Value: s.prefs.ProxyAddress, Writable: false, Emit: prop.EmitTrue},
		},
	}
}

// authorize runs the policy check for action, logging denials; it
// never caches decisions (§5).
func (s *Server) authorize(sender dbus.Sender, action string, allowInteractive bool) error {
	if s.policy == nil {
		return nil
	}
	if err := s.policy.CheckAuthorization(sender, action, allowInteractive); err != nil {
		s.logger.Printf("denied %s to %s: %v", action, sender, err)
		return atomupd.ErrAccessDenied
	}
	return nil
}
