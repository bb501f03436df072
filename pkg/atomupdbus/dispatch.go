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

// request is a tagged variant of an inbound method call; its action
// method maps each requestKind to a policy action with a switch. Only
// CheckForUpdates builds a request; the other methods pass their
// action constant to authorize directly.
type requestKind int

const (
	reqCheckForUpdates requestKind = iota
	reqStartUpdate
	reqStartCustomUpdate
	reqPauseUpdate
	reqResumeUpdate
	reqCancelUpdate
	reqSwitchToVariant
	reqSwitchToBranch
	reqReloadConfiguration
	reqEnableHTTPProxy
	reqDisableHTTPProxy
)

type request struct {
	kind requestKind

	// Populated depending on kind; zero value otherwise.
	buildID           string
	penultimate       bool
	debug             bool
	variant           string
	branch            string
	proxyAddress      string
	proxyPort         int
	allowInteractive  bool
}

func (r request) action(currentBuildIDLess func(requested string) string) string {
	switch r.kind {
	case reqCheckForUpdates:
		return ActionCheckForUpdates
	case reqStartUpdate, reqStartCustomUpdate:
		return currentBuildIDLess(r.buildID)
	case reqPauseUpdate:
		return ActionPauseUpdate
	case reqResumeUpdate:
		return ActionResumeUpdate
	case reqCancelUpdate:
		return ActionCancelUpdate
	case reqSwitchToVariant:
		return ActionSwitchVariant
	case reqSwitchToBranch:
		return ActionSwitchBranch
	case reqReloadConfiguration:
		return ActionReloadConfiguration
	case reqEnableHTTPProxy:
		return ActionEnableHTTPProxy
	case reqDisableHTTPProxy:
		return ActionDisableHTTPProxy
	default:
		return ""
	}
}

// Every request kind here mutates session or configuration state; the
// method handling each one holds the server's mutex (Server.mu) for its
// duration. Property reads are answered by the exported property table
// and take neither that mutex nor this type.
