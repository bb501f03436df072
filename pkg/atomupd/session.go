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
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// UpdateStatus is the session's coarse state, per §3/§4.4.
type UpdateStatus int

const (
	StatusIdle UpdateStatus = iota
	StatusInProgress
	StatusPaused
	StatusSuccessful
	StatusFailed
	StatusCancelled
)

func (s UpdateStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in-progress"
	case StatusPaused:
		return "paused"
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SessionState is a snapshot of every bus-visible session attribute.
type SessionState struct {
	Status                  UpdateStatus
	UpdateBuildId           string
	UpdateVersion           string
	ProgressPercentage      float64
	EstimatedCompletionTime int64 // absolute UNIX seconds; 0 if unknown
	FailureCode             string
	FailureMessage          string
}

// RaucPidLookup resolves the image-apply service's current MainPID,
// e.g. by shelling out to "systemctl show --property MainPID rauc".
type RaucPidLookup func() (int, error)

// Session owns the lifecycle of a single install attempt (§4.4). A
// weak-handle discipline (design note 9) guards against stale async
// callbacks: every callback captures the session's id at spawn time
// and re-checks it against the session's current id before mutating
// state, so a callback from a cancelled/superseded attempt is a
// silent no-op rather than a corruption.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID // identifies the current attempt; changes each Start
	state   SessionState
	onChange func(SessionState)

	helperCmd  *exec.Cmd
	helperPath string

	lookupRaucPid RaucPidLookup
	logger        *log.Logger
}

// NewSession constructs an idle session. onChange, if non-nil, is
// invoked (outside the session's lock) after every state mutation, to
// drive property-changed notifications on the bus.
func NewSession(helperPath string, lookupRaucPid RaucPidLookup, logger *log.Logger, onChange func(SessionState)) *Session {
	return &Session{
		id:            uuid.New(),
		state:         SessionState{Status: StatusIdle},
		helperPath:    helperPath,
		lookupRaucPid: lookupRaucPid,
		logger:        logger,
		onChange:      onChange,
	}
}

// State returns a snapshot of the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AdoptRebootPending forces the initial state to Successful with the
// given BuildId/Version, per §3's "reboot pending marker forces
// initial status Successful".
func (s *Session) AdoptRebootPending(id BuildId, version string) {
	s.mu.Lock()
	s.state = SessionState{
		Status:        StatusSuccessful,
		UpdateBuildId: id.String(),
		UpdateVersion: version,
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.State())
}

// StartOptions carries everything Start needs beyond the target
// BuildId.
type StartOptions struct {
	BuildId      BuildId
	ConfigPath   string
	SnapshotPath string // pre-computed by SnapshotCandidatesJSON
	KnownVersion string // UpdateVersion looked up from UpdatesAvailable, may be empty
	Proxy        *ProxyConfig
	Debug        bool
}

// Start spawns the install helper and transitions to InProgress. It
// rejects if a session is already InProgress or Paused.
func (s *Session) Start(opts StartOptions) error {
	s.mu.Lock()
	if s.state.Status == StatusInProgress || s.state.Status == StatusPaused {
		s.mu.Unlock()
		return errPrecondition("an update is already in progress", nil)
	}

	args := []string{
		"--config", opts.ConfigPath,
		"--update-file", opts.SnapshotPath,
		"--update-version", opts.BuildId.String(),
	}
	if opts.Debug {
		args = append(args, "--debug")
	}

	cmd := exec.Command(s.helperPath, args...)
	cmd.Env = overlayProxyEnv(os.Environ(), opts.Proxy)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return errExternalCommand("could not create a stdout pipe for the install helper", err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return errExternalCommand("could not start the install helper", err)
	}

	sessionID := uuid.New()
	s.id = sessionID
	s.helperCmd = cmd
	s.state = SessionState{
		Status:             StatusInProgress,
		UpdateBuildId:      opts.BuildId.String(),
		UpdateVersion:      opts.KnownVersion,
		ProgressPercentage: 0,
	}
	s.mu.Unlock()
	s.notify()

	go s.watchProgress(sessionID, stdout)
	go s.watchExit(sessionID, cmd)

	return nil
}

// watchProgress streams progress lines from the helper's stdout until
// EOF, updating state and notifying on every line.
func (s *Session) watchProgress(sessionID uuid.UUID, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	var prev Progress
	for scanner.Scan() {
		if !s.ownsCurrentAttempt(sessionID) {
			return
		}
		prev = ParseProgressLine(prev, scanner.Text(), time.Now())

		s.mu.Lock()
		if s.id != sessionID {
			s.mu.Unlock()
			return
		}
		s.state.ProgressPercentage = float64(prev.Percentage)
		if prev.EstimatedCompletion.IsZero() {
			s.state.EstimatedCompletionTime = 0
		} else {
			s.state.EstimatedCompletionTime = prev.EstimatedCompletion.Unix()
		}
		s.mu.Unlock()
		s.notify()
	}
}

// watchExit waits for the helper to exit and applies the Successful /
// Failed transition, unless Cancel has already claimed this attempt.
func (s *Session) watchExit(sessionID uuid.UUID, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	if s.id != sessionID {
		// Superseded by a Cancel or a fresh Start; the cancel path or
		// the new attempt owns the state transition instead.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state.Status = StatusFailed
		s.state.FailureCode = "org.freedesktop.DBus.Error"
		s.state.FailureMessage = err.Error()
	} else {
		s.state.Status = StatusSuccessful
	}
	s.mu.Unlock()
	s.notify()
}

// ownsCurrentAttempt reports whether sessionID is still the live
// attempt, without holding the lock across the caller's own work.
func (s *Session) ownsCurrentAttempt(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id == sessionID
}

// Pause sends SIGSTOP to the helper and the image-apply process
// group. Only valid from InProgress.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state.Status != StatusInProgress {
		s.mu.Unlock()
		return errPrecondition("cannot pause: no update is in progress", nil)
	}
	cmd := s.helperCmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return errPrecondition("no install helper process is tracked", nil)
	}
	if err := unix.Kill(cmd.Process.Pid, unix.SIGSTOP); err != nil {
		return errExternalCommand("could not stop the install helper", err)
	}
	if pgid, err := s.raucProcessGroup(); err == nil {
		if err := unix.Kill(-pgid, unix.SIGSTOP); err != nil && err != unix.ESRCH {
			s.logger.Printf("could not stop the image-apply process group %d: %v", pgid, err)
		}
	}

	s.mu.Lock()
	s.state.Status = StatusPaused
	s.mu.Unlock()
	s.notify()
	return nil
}

// Resume sends SIGCONT to the helper and the image-apply process
// group. Only valid from Paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state.Status != StatusPaused {
		s.mu.Unlock()
		return errPrecondition("cannot resume: no update is paused", nil)
	}
	cmd := s.helperCmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return errPrecondition("no install helper process is tracked", nil)
	}
	if err := unix.Kill(cmd.Process.Pid, unix.SIGCONT); err != nil {
		return errExternalCommand("could not resume the install helper", err)
	}
	if pgid, err := s.raucProcessGroup(); err == nil {
		if err := unix.Kill(-pgid, unix.SIGCONT); err != nil && err != unix.ESRCH {
			s.logger.Printf("could not resume the image-apply process group %d: %v", pgid, err)
		}
	}

	s.mu.Lock()
	s.state.Status = StatusInProgress
	s.mu.Unlock()
	s.notify()
	return nil
}

// Cancel tears down the helper and the image-apply process group, in
// that strict order — never concurrently, since the still-running
// helper could re-invoke the image-apply service before the
// termination signal reaches it. Valid from InProgress or Paused.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state.Status != StatusInProgress && s.state.Status != StatusPaused {
		s.mu.Unlock()
		return errPrecondition("cannot cancel: no update is in progress or paused", nil)
	}
	cmd := s.helperCmd
	// Bump the session id now so watchExit/watchProgress, racing on
	// their own goroutines, observe a mismatch and back off instead of
	// fighting this function for the state transition.
	s.id = uuid.New()
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := TerminateProcessGroup(cmd.Process.Pid, s.logger); err != nil {
			return err
		}
	}
	if pgid, err := s.raucProcessGroup(); err == nil {
		if err := terminateKnownProcessGroup(pgid, s.logger); err != nil {
			return err
		}
	}

	if cmd != nil {
		// watchExit is also waiting on cmd; whichever Wait returns
		// first reaps the helper, and watchExit then discards its
		// result because the session id moved on.
		_ = cmd.Wait()
	}

	s.mu.Lock()
	s.state.Status = StatusCancelled
	s.mu.Unlock()
	s.notify()
	return nil
}

// terminateKnownProcessGroup runs the same escalation policy as
// TerminateProcessGroup, but for a process group whose leader pid we
// don't know (only its pgid, from the systemctl MainPID lookup), so
// the Wait4-based polling in TerminateProcessGroup can't apply. Since
// a stopped state can't be polled here, SIGCONT follows SIGTERM
// unconditionally.
func terminateKnownProcessGroup(pgid int, logger *log.Logger) error {
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return errExternalCommand(fmt.Sprintf("could not SIGTERM process group %d", pgid), err)
	}
	// A group stopped by Pause would otherwise never observe the
	// SIGTERM; wake it so it can.
	_ = unix.Kill(-pgid, unix.SIGCONT)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unix.Kill(-pgid, 0) == unix.ESRCH {
			return nil
		}
		time.Sleep(processGroupPollInterval)
	}
	if logger != nil {
		logger.Printf("image-apply process group %d did not exit within the grace period, sending SIGKILL", pgid)
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return errExternalCommand(fmt.Sprintf("could not SIGKILL process group %d", pgid), err)
	}
	return nil
}

// raucProcessGroup resolves the image-apply service's current process
// group via its MainPID.
func (s *Session) raucProcessGroup() (int, error) {
	if s.lookupRaucPid == nil {
		return 0, errExternalCommand("no image-apply pid lookup is configured", nil)
	}
	pid, err := s.lookupRaucPid()
	if err != nil {
		return 0, err
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0, err
	}
	return pgid, nil
}

// overlayProxyEnv appends https_proxy/http_proxy entries to base when
// proxy is configured, matching §4.4's "Environment for spawns".
func overlayProxyEnv(base []string, proxy *ProxyConfig) []string {
	if proxy == nil || proxy.Address == "" {
		return base
	}
	value := fmt.Sprintf("http://%s:%d", proxy.Address, proxy.Port)
	return append(append([]string{}, base...),
		"https_proxy="+value,
		"http_proxy="+value,
	)
}
