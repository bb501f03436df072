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
	"os/exec"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func startInOwnGroup(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start /bin/sh, skipping: %v", err)
	}
	return cmd
}

// TestTerminateProcessGroupCooperative checks that a child honouring
// SIGTERM is reaped well within the SIGKILL grace period.
func TestTerminateProcessGroupCooperative(t *testing.T) {
	cmd := startInOwnGroup(t, "sleep 30")
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	start := time.Now()
	if err := TerminateProcessGroup(cmd.Process.Pid, nil); err != nil {
		t.Fatalf("TerminateProcessGroup: %v", err)
	}
	<-done
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("a SIGTERM-honouring child took %v to reap, want well under the 2s grace period", elapsed)
	}
}

// TestTerminateProcessGroupEscalatesToSigkill checks that a child
// ignoring SIGTERM is still gone after the grace period elapses.
func TestTerminateProcessGroupEscalatesToSigkill(t *testing.T) {
	cmd := startInOwnGroup(t, "trap '' TERM; sleep 30")
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	start := time.Now()
	if err := TerminateProcessGroup(cmd.Process.Pid, nil); err != nil {
		t.Fatalf("TerminateProcessGroup: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 2*time.Second {
		t.Errorf("escalation happened after only %v, want it to wait out the grace period first", elapsed)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("process was not reaped after SIGKILL escalation")
	}
}

// TestTerminateProcessGroupAlreadyExited checks the no-op path when
// the leader is already gone by the time we ask.
func TestTerminateProcessGroupAlreadyExited(t *testing.T) {
	cmd := startInOwnGroup(t, "true")
	_ = cmd.Wait()

	if err := unix.Kill(cmd.Process.Pid, 0); err == nil {
		t.Skip("pid was reused before the test could run, skipping")
	}
	if err := TerminateProcessGroup(cmd.Process.Pid, nil); err != nil {
		t.Errorf("TerminateProcessGroup on an already-exited pid returned an error: %v", err)
	}
}
