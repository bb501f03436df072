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
	"log"
	"time"

	"golang.org/x/sys/unix"
)

// processGroupPollInterval is how often TerminateProcessGroup polls
// for exit while waiting out the grace period before escalating to
// SIGKILL.
const processGroupPollInterval = 500 * time.Millisecond

// TerminateProcessGroup asks the process group of pid to exit,
// escalating if it doesn't within a 2-second grace period: SIGTERM,
// then poll until the grace period ends (waking a stopped group with
// SIGCONT so it can actually see the SIGTERM), then SIGKILL as a last
// resort. pid identifies the
// leader for the existence probe used once Wait4 stops being usable
// (the leader has been reparented to init, ECHILD).
//
// This mirrors the escalation policy in au-atomupd1-impl.c's process
// teardown: never block indefinitely on an uncooperative helper.
func TerminateProcessGroup(pid int, logger *log.Logger) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// The process is already gone.
		return nil
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return errExternalCommand(fmt.Sprintf("could not SIGTERM process group %d", pgid), err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exited, stopped := pollProcessGroup(pid, pgid)
		if exited {
			return nil
		}
		if stopped {
			// A stopped member would otherwise never observe the
			// SIGTERM; wake the whole group so it can.
			_ = unix.Kill(-pgid, unix.SIGCONT)
		}
		time.Sleep(processGroupPollInterval)
	}

	if logger != nil {
		logger.Printf("process group %d did not exit within the grace period, sending SIGKILL", pgid)
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return errExternalCommand(fmt.Sprintf("could not SIGKILL process group %d", pgid), err)
	}

	// Reap whatever we can; ignore the result, the leader's parent
	// (exec.Cmd or init) is responsible for the final wait.
	_, _ = waitNoHang(pid)
	return nil
}

// pollProcessGroup reports whether the leader has exited, and whether
// it is currently stopped (as opposed to merely still running).
func pollProcessGroup(pid, pgid int) (exited, stopped bool) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
	switch err {
	case nil:
		if wpid == 0 {
			// Still running, no state change to report.
			return false, false
		}
		if ws.Exited() || ws.Signaled() {
			return true, false
		}
		if ws.Stopped() {
			return false, true
		}
		return false, false
	case unix.ECHILD:
		// pid isn't our child (e.g. it was reparented, or we never
		// forked it directly); fall back to a liveness probe.
		if probeAlive(pid) {
			return false, false
		}
		return true, false
	default:
		return false, false
	}
}

func waitNoHang(pid int) (int, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	return wpid, err
}

// probeAlive reports whether pid refers to a live process, using the
// conventional kill(pid, 0) existence check.
func probeAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
