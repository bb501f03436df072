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
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

// PolkitChecker consults polkitd over the system bus, the way
// polkit_authority_check_authorization() does: it builds a
// "system-bus-name" subject from the caller's unique name and asks
// org.freedesktop.PolicyKit1.Authority to rule on it. It holds no
// local cache of past decisions.
type PolkitChecker struct {
	conn   *dbus.Conn
	logger *log.Logger
}

// NewPolkitChecker opens its own connection to the system bus; the
// Authority object is stateless from our side so no further setup is
// required.
func NewPolkitChecker(logger *log.Logger) *PolkitChecker {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Printf("could not open a polkit connection, authorization checks will fail closed: %v", err)
		return &PolkitChecker{logger: logger}
	}
	return &PolkitChecker{conn: conn, logger: logger}
}

const (
	polkitBusName    = "org.freedesktop.PolicyKit1"
	polkitObjectPath = "/org/freedesktop/PolicyKit1/Authority"
	polkitIface      = "org.freedesktop.PolicyKit1.Authority"

	checkAuthorizationFlagsNone               uint32 = 0
	checkAuthorizationFlagsAllowUserInteraction uint32 = 1
)

// subject is the (kind, details) pair polkit calls a PolkitSubject;
// "system-bus-name" is the only kind the daemon needs.
type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// CheckAuthorization implements PolicyChecker by calling
// Authority.CheckAuthorization, mirroring _check_authorization in the
// original daemon.
func (p *PolkitChecker) CheckAuthorization(sender dbus.Sender, action string, allowInteractive bool) error {
	if p.conn == nil {
		return fmt.Errorf("no connection to polkitd")
	}

	subject := polkitSubject{
		Kind: "system-bus-name",
		Details: map[string]dbus.Variant{
			"name": dbus.MakeVariant(string(sender)),
		},
	}

	flags := checkAuthorizationFlagsNone
	if allowInteractive {
		flags = checkAuthorizationFlagsAllowUserInteraction
	}

	obj := p.conn.Object(polkitBusName, polkitObjectPath)
	call := obj.Call(polkitIface+".CheckAuthorization", 0,
		subject, action, map[string]string{}, flags, "")
	if call.Err != nil {
		return fmt.Errorf("calling polkitd: %w", call.Err)
	}

	var isAuthorized, isChallenge bool
	var details map[string]string
	if err := call.Store(&isAuthorized, &isChallenge, &details); err != nil {
		return fmt.Errorf("parsing polkitd reply: %w", err)
	}
	if !isAuthorized {
		return fmt.Errorf("%s is not authorized to perform %s", sender, action)
	}
	return nil
}
