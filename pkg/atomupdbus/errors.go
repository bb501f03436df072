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

// Package atomupdbus is the D-Bus transport boundary: it exports the
// service's method/property surface, dispatches inbound calls,
// authorises them, and translates pkg/atomupd errors into D-Bus error
// names. Nothing under pkg/atomupd imports this package, so the
// domain logic stays testable without a bus connection.
package atomupdbus

import (
	"github.com/godbus/dbus/v5"

	"github.com/steampowered/atomupd-daemon/pkg/atomupd"
)

const errorPrefix = "com.steampowered.Atomupd1.Error."

// dbusError maps an internal error to the *dbus.Error the method
// handler returns, per §7's error-kind taxonomy. Only this file knows
// the wire names; everything else works with atomupd.Kind.
func dbusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := errorPrefix + "Failed"
	switch atomupd.KindOf(err) {
	case atomupd.KindInvalidArgument:
		name = errorPrefix + "InvalidArgument"
	case atomupd.KindPrecondition:
		name = errorPrefix + "PreconditionFailed"
	case atomupd.KindAccessDenied:
		name = "org.freedesktop.DBus.Error.AccessDenied"
	case atomupd.KindConfiguration:
		name = errorPrefix + "Configuration"
	case atomupd.KindExternalCommand:
		name = errorPrefix + "ExternalCommand"
	case atomupd.KindFilesystem:
		name = errorPrefix + "Filesystem"
	case atomupd.KindTransient:
		name = errorPrefix + "Transient"
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}
