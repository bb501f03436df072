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

// Package atomupd implements the update-session state machine and the
// configuration-resolution layer that sits underneath it: build ID and
// stream parsing, the layered client configuration, preferences,
// candidate resolution against the query helper, the install-session
// supervisor, and the netrc/desync credential materialisation.
package atomupd

import "errors"

// Kind classifies an error for the bus-surface boundary, which maps
// each Kind to a D-Bus error name. Obtain an error's Kind with KindOf,
// or use errors.Is against the sentinel values below.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindPrecondition
	KindAccessDenied
	KindConfiguration
	KindExternalCommand
	KindFilesystem
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid-argument"
	case KindPrecondition:
		return "precondition-failed"
	case KindAccessDenied:
		return "access-denied"
	case KindConfiguration:
		return "configuration"
	case KindExternalCommand:
		return "external-command"
	case KindFilesystem:
		return "filesystem"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// KindError pairs a Kind with a message, so callers can both print a
// good diagnostic and errors.Is-match on the class of failure.
type KindError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *KindError) Unwrap() error { return e.Err }

// Is reports whether target is a *KindError with the same Kind, so
// callers can write errors.Is(err, atomupd.ErrPrecondition) style
// checks against the sentinels below.
func (e *KindError) Is(target error) bool {
	other, ok := target.(*KindError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newKindError(k Kind, msg string, err error) *KindError {
	return &KindError{Kind: k, Msg: msg, Err: err}
}

// Sentinels usable with errors.Is(err, atomupd.ErrXxx); only the Kind
// field is compared.
var (
	ErrInvalidArgument = &KindError{Kind: KindInvalidArgument}
	ErrPrecondition    = &KindError{Kind: KindPrecondition}
	ErrAccessDenied    = &KindError{Kind: KindAccessDenied}
	ErrConfiguration   = &KindError{Kind: KindConfiguration}
	ErrExternalCommand = &KindError{Kind: KindExternalCommand}
	ErrFilesystem      = &KindError{Kind: KindFilesystem}
	ErrTransient       = &KindError{Kind: KindTransient}
)

func errInvalidArgument(msg string, err error) error { return newKindError(KindInvalidArgument, msg, err) }
func errPrecondition(msg string, err error) error    { return newKindError(KindPrecondition, msg, err) }
func errAccessDenied(msg string, err error) error    { return newKindError(KindAccessDenied, msg, err) }
func errConfiguration(msg string, err error) error   { return newKindError(KindConfiguration, msg, err) }
func errExternalCommand(msg string, err error) error { return newKindError(KindExternalCommand, msg, err) }
func errFilesystem(msg string, err error) error      { return newKindError(KindFilesystem, msg, err) }
func errTransient(msg string, err error) error       { return newKindError(KindTransient, msg, err) }

// KindOf extracts the Kind of err if it is (or wraps) a *KindError,
// defaulting to KindExternalCommand for unclassified errors reaching
// the bus boundary.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindExternalCommand
}
