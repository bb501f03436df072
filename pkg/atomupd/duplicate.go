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
	"path/filepath"

	ps "github.com/mitchellh/go-ps"
)

// FindRunningHelper scans the process table for a process whose
// executable basename matches helperName, returning its pid. Used at
// startup to find a helper left running across a daemon crash/restart,
// so it can be terminated before the daemon serves requests.
func FindRunningHelper(helperName string) (pid int, found bool, err error) {
	procs, err := ps.Processes()
	if err != nil {
		return 0, false, errExternalCommand("could not list running processes", err)
	}
	for _, p := range procs {
		if filepath.Base(p.Executable()) == helperName {
			return p.Pid(), true, nil
		}
	}
	return 0, false, nil
}

// AssertNoRunningHelper returns a precondition error if helperName is
// already running; NewServer uses it at startup to detect a stale
// helper, which it then terminates.
func AssertNoRunningHelper(helperName string) error {
	pid, found, err := FindRunningHelper(helperName)
	if err != nil {
		return err
	}
	if found {
		return errPrecondition(fmt.Sprintf("%s is already running (pid %d)", helperName, pid), nil)
	}
	return nil
}
