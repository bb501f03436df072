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
	"fmt"
	"os"
	"strings"
)

// RebootPendingMarker tracks the BuildId of an update that has been
// applied to the inactive slot and is waiting for a reboot to take
// effect, per §4.4's "reboot-pending" session state.
type RebootPendingMarker struct {
	path string
}

// NewRebootPendingMarker returns a marker backed by the given file
// path.
func NewRebootPendingMarker(path string) *RebootPendingMarker {
	return &RebootPendingMarker{path: path}
}

// Read returns the pending BuildId, or the zero BuildId and ok=false
// if no reboot is pending.
func (m *RebootPendingMarker) Read() (id BuildId, ok bool, err error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return BuildId{}, false, nil
		}
		return BuildId{}, false, errFilesystem(fmt.Sprintf("could not read reboot-pending marker %q", m.path), err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return BuildId{}, false, nil
	}
	parsed, err := ParseBuildId(token)
	if err != nil {
		return BuildId{}, false, errFilesystem(fmt.Sprintf("reboot-pending marker %q contains an invalid buildid", m.path), err)
	}
	return parsed, true, nil
}

// Set records id as the reboot-pending BuildId, atomically.
func (m *RebootPendingMarker) Set(id BuildId) error {
	if err := atomicWriteFile(m.path, []byte(id.String()+"\n"), 0644); err != nil {
		return errFilesystem(fmt.Sprintf("could not write reboot-pending marker %q", m.path), err)
	}
	return nil
}

// Clear removes the marker, e.g. once the reboot has happened and the
// slot switch has been confirmed.
func (m *RebootPendingMarker) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return errFilesystem(fmt.Sprintf("could not remove reboot-pending marker %q", m.path), err)
	}
	return nil
}
