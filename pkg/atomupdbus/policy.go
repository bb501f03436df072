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
	"github.com/godbus/dbus/v5"

	"github.com/steampowered/atomupd-daemon/pkg/atomupd"
)

// PolicyChecker is the external authority consulted before every
// method runs (§6 "Policy check"). It is treated purely as an RPC
// collaborator: no local caching of its decisions.
type PolicyChecker interface {
	// CheckAuthorization reports whether sender is permitted to
	// perform action, honouring allowInteractive the way
	// polkit-style authorities do (prompting the user if the
	// decision is otherwise "could be allowed interactively").
	CheckAuthorization(sender dbus.Sender, action string, allowInteractive bool) error
}

// action identifiers, named as data on each method per design note 9
// rather than derived from the method name.
const (
	actionPrefix = "com.steampowered.atomupd1."

	ActionCheckForUpdates     = actionPrefix + "check-for-updates"
	ActionStartUpgrade        = actionPrefix + "start-upgrade"
	ActionStartDowngrade      = actionPrefix + "start-downgrade"
	ActionPauseUpdate         = actionPrefix + "pause-update"
	ActionResumeUpdate        = actionPrefix + "resume-update"
	ActionCancelUpdate        = actionPrefix + "cancel-update"
	ActionSwitchVariant       = actionPrefix + "switch-variant"
	ActionSwitchBranch        = actionPrefix + "switch-branch"
	ActionReloadConfiguration = actionPrefix + "reload-configuration"
	ActionEnableHTTPProxy     = actionPrefix + "enable-http-proxy"
	ActionDisableHTTPProxy    = actionPrefix + "disable-http-proxy"
)

// startUpdateAction classifies StartUpdate as an upgrade or a
// downgrade action by comparing the requested BuildId to the current
// one (§3, §4.1): the single place this comparison is made.
func startUpdateAction(requested, current atomupd.BuildId) string {
	if requested.IsDowngradeFrom(current) {
		return ActionStartDowngrade
	}
	return ActionStartUpgrade
}
