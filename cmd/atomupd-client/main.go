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

// Command atomupd-client is a thin CLI over the atomupd-daemon D-Bus
// interface: every subcommand is a single method call or property
// read against com.steampowered.Atomupd1.
package main

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

const (
	busName    = "com.steampowered.Atomupd1"
	objectPath = "/com/steampowered/Atomupd1"
	ifaceName  = "com.steampowered.Atomupd1"
)

func main() {
	root := &cobra.Command{
		Use:           "atomupd-client",
		Short:         "Talk to atomupd-daemon over D-Bus",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newCheckCmd(),
		newUpdateCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newSwitchVariantCmd(),
		newSwitchBranchCmd(),
		newListVariantsCmd(),
		newListBranchesCmd(),
		newStatusCmd(),
		newReloadCmd(),
		newEnableProxyCmd(),
		newDisableProxyCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// busObject connects to the system bus and returns the daemon's
// object; callers are responsible for closing the returned conn.
func busObject() (*dbus.Conn, dbus.BusObject, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to the system bus: %w", err)
	}
	return conn, conn.Object(busName, dbus.ObjectPath(objectPath)), nil
}

// dbusErr unwraps a *dbus.Error into something readable, stripping the
// interface-name noise godbus otherwise prints.
func dbusErr(err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(dbus.Error); ok {
		if len(de.Body) > 0 {
			if msg, ok := de.Body[0].(string); ok {
				return fmt.Errorf("%s: %s", de.Name, msg)
			}
		}
		return fmt.Errorf("%s", de.Name)
	}
	return err
}
