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
	"testing"

	"github.com/steampowered/atomupd-daemon/pkg/atomupd"
)

func mustBuildId(t *testing.T, s string) atomupd.BuildId {
	t.Helper()
	b, err := atomupd.ParseBuildId(s)
	if err != nil {
		t.Fatalf("ParseBuildId(%q): %v", s, err)
	}
	return b
}

func TestStartUpdateAction(t *testing.T) {
	current := mustBuildId(t, "20220227")

	cases := []struct {
		name      string
		requested string
		want      string
	}{
		{"newer build is an upgrade", "20220301", ActionStartUpgrade},
		{"older build is a downgrade", "20220101", ActionStartDowngrade},
		{"identical build is an upgrade (not a downgrade)", "20220227", ActionStartUpgrade},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			requested := mustBuildId(t, c.requested)
			if got := startUpdateAction(requested, current); got != c.want {
				t.Errorf("startUpdateAction(%s, %s) = %q, want %q", c.requested, current, got, c.want)
			}
		})
	}
}

func TestDBusErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"invalid argument", atomupd.ErrInvalidArgument, errorPrefix + "InvalidArgument"},
		{"precondition", atomupd.ErrPrecondition, errorPrefix + "PreconditionFailed"},
		{"access denied", atomupd.ErrAccessDenied, "org.freedesktop.DBus.Error.AccessDenied"},
		{"configuration", atomupd.ErrConfiguration, errorPrefix + "Configuration"},
		{"external command", atomupd.ErrExternalCommand, errorPrefix + "ExternalCommand"},
		{"filesystem", atomupd.ErrFilesystem, errorPrefix + "Filesystem"},
		{"transient", atomupd.ErrTransient, errorPrefix + "Transient"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := dbusError(c.err)
			if got == nil {
				t.Fatal("dbusError returned nil")
			}
			if got.Name != c.want {
				t.Errorf("dbusError(%v).Name = %q, want %q", c.err, got.Name, c.want)
			}
		})
	}
}

func TestDBusErrorNilIsNil(t *testing.T) {
	if dbusError(nil) != nil {
		t.Error("dbusError(nil) should be nil")
	}
}
