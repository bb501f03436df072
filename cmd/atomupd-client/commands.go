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

package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/godbus/dbus/v5"
	"github.com/hugomd/ascii-live/frames"
	"github.com/spf13/cobra"

	"github.com/steampowered/atomupd-daemon/pkg/cmdutil"
)

// withSpinner runs work while animating frames on stderr, the way
// `yeet skirt` drives ascii-live; used for calls that can block on the
// network or an external helper (CheckForUpdates, ReloadConfiguration).
func withSpinner(label string, work func() error) error {
	done := make(chan error, 1)
	go func() { done <- work() }()

	p := frames.Parrot
	ticker := time.NewTicker(p.GetSleep())
	defer ticker.Stop()

	i := 0
	for {
		select {
		case err := <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return err
		case <-ticker.C:
			i++
			fmt.Fprintf(os.Stderr, "\r\033[K%s %s", label, p.GetFrame(i%p.GetLength()))
		}
	}
}

func getProperty(obj dbus.BusObject, name string, dest interface{}) error {
	v, err := obj.GetProperty(ifaceName + "." + name)
	if err != nil {
		return dbusErr(err)
	}
	return dbus.Store([]interface{}{v.Value()}, dest)
}

func newCheckCmd() *cobra.Command {
	var penultimate, debug, allowInteractive bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Query for available updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()

			options := map[string]dbus.Variant{
				"penultimate":       dbus.MakeVariant(penultimate),
				"debug":             dbus.MakeVariant(debug),
				"allow-interactive": dbus.MakeVariant(allowInteractive),
			}

			var available, availableLater map[string]map[string]dbus.Variant
			err = withSpinner("checking for updates", func() error {
				call := obj.Call(ifaceName+".CheckForUpdates", 0, options)
				if call.Err != nil {
					return dbusErr(call.Err)
				}
				return call.Store(&available, &availableLater)
			})
			if err != nil {
				return err
			}

			printCandidates("Available now", available)
			printCandidates("Available later", availableLater)
			return nil
		},
	}
	cmd.Flags().BoolVar(&penultimate, "penultimate", false, "also resolve the penultimate update")
	cmd.Flags().BoolVar(&debug, "debug", false, "pass --debug to the query helper")
	cmd.Flags().BoolVar(&allowInteractive, "allow-interactive", false, "allow an interactive policy prompt")
	return cmd
}

func printCandidates(title string, set map[string]map[string]dbus.Variant) {
	if len(set) == 0 {
		fmt.Printf("%s: none\n", title)
		return
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println(title + ":")
	for _, id := range ids {
		c := set[id]
		version, _ := c["version"].Value().(string)
		variant, _ := c["variant"].Value().(string)
		size, _ := c["estimated_size"].Value().(uint64)
		fmt.Printf("  %s\tversion=%s variant=%s size=%d\n", id, version, variant, size)
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <buildid>",
		Short: "Start installing a candidate build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()

			var current string
			_ = getProperty(obj, "CurrentBuildID", &current)
			if current != "" && args[0] < current {
				ok, cerr := cmdutil.Confirm(os.Stdin, os.Stdout,
					fmt.Sprintf("%s looks older than the running build %s, downgrade anyway?", args[0], current))
				if cerr != nil {
					return cerr
				}
				if !ok {
					fmt.Fprintln(os.Stderr, "aborted")
					return nil
				}
			}

			call := obj.Call(ifaceName+".StartUpdate", 0, args[0])
			return dbusErr(call.Err)
		},
	}
}

func simpleCallCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			call := obj.Call(ifaceName+"."+method, 0)
			return dbusErr(call.Err)
		},
	}
}

func newPauseCmd() *cobra.Command  { return simpleCallCmd("pause", "Pause the in-progress update", "PauseUpdate") }
func newResumeCmd() *cobra.Command { return simpleCallCmd("resume", "Resume a paused update", "ResumeUpdate") }
func newCancelCmd() *cobra.Command { return simpleCallCmd("cancel", "Cancel the in-progress update", "CancelUpdate") }

func newSwitchVariantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-variant <variant>",
		Short: "Switch the tracked variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			return dbusErr(obj.Call(ifaceName+".SwitchToVariant", 0, args[0]).Err)
		},
	}
}

func newSwitchBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-branch <branch>",
		Short: "Switch the tracked branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			return dbusErr(obj.Call(ifaceName+".SwitchToBranch", 0, args[0]).Err)
		},
	}
}

func newListVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-variants",
		Short: "List the variants the current configuration knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			var variants []string
			if err := getProperty(obj, "KnownVariants", &variants); err != nil {
				return err
			}
			for _, v := range variants {
				fmt.Println(v)
			}
			return nil
		},
	}
}

func newListBranchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-branches",
		Short: "List the branches the current configuration knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			var branches []string
			if err := getProperty(obj, "KnownBranches", &branches); err != nil {
				return err
			}
			for _, b := range branches {
				fmt.Println(b)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current update session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()

			var status, buildID, version, failCode, failMsg string
			var progress float64
			_ = getProperty(obj, "UpdateStatus", &status)
			_ = getProperty(obj, "UpdateBuildID", &buildID)
			_ = getProperty(obj, "UpdateVersion", &version)
			_ = getProperty(obj, "ProgressPercentage", &progress)
			_ = getProperty(obj, "FailureCode", &failCode)
			_ = getProperty(obj, "FailureMessage", &failMsg)

			fmt.Printf("status:   %s\n", colorStatus(status))
			if buildID != "" {
				fmt.Printf("buildid:  %s\n", buildID)
				fmt.Printf("version:  %s\n", version)
				fmt.Printf("progress: %.1f%%\n", progress)
			}
			if failCode != "" {
				fmt.Printf("failure:  %s: %s\n", failCode, failMsg)
			}
			return nil
		},
	}
}

func colorStatus(status string) string {
	switch status {
	case "successful":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "cancelled":
		return color.YellowString(status)
	case "in-progress", "paused":
		return color.CyanString(status)
	default:
		return status
	}
}

func newReloadCmd() *cobra.Command {
	var allowInteractive bool
	cmd := &cobra.Command{
		Use:   "reload-configuration",
		Short: "Re-resolve the layered server configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()

			options := map[string]dbus.Variant{"allow-interactive": dbus.MakeVariant(allowInteractive)}
			var diagnostics map[string]dbus.Variant
			err = withSpinner("reloading configuration", func() error {
				call := obj.Call(ifaceName+".ReloadConfiguration", 0, options)
				if call.Err != nil {
					return dbusErr(call.Err)
				}
				return call.Store(&diagnostics)
			})
			if err != nil {
				return err
			}
			for _, k := range []string{"ImagesUrl", "MetaUrl", "UsedDevConfig"} {
				if v, ok := diagnostics[k]; ok {
					fmt.Printf("%s: %v\n", k, v.Value())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowInteractive, "allow-interactive", false, "allow an interactive policy prompt")
	return cmd
}

func newEnableProxyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable-http-proxy <address> <port>",
		Short: "Route the install helper and query helper through an HTTP proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := busObject()
			if err != nil {
				return err
			}
			defer conn.Close()
			var port uint16
			if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			options := map[string]dbus.Variant{}
			call := obj.Call(ifaceName+".EnableHttpProxy", 0, args[0], port, options)
			return dbusErr(call.Err)
		},
	}
}

func newDisableProxyCmd() *cobra.Command {
	return simpleCallCmd("disable-http-proxy", "Stop routing through an HTTP proxy", "DisableHttpProxy")
}
