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

// Command atomupd-daemon is the privileged host service that mediates
// atomic OS image updates: it resolves layered configuration, queries
// for candidate updates, and supervises the install helper and the
// image-apply service across pause/resume/cancel.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/steampowered/atomupd-daemon/internal/daemonconfig"
	"github.com/steampowered/atomupd-daemon/pkg/atomupdbus"
)

func main() {
	configPath := flag.String("config", "/etc/atomupd-daemon/daemon.yaml", "path to the daemon's own operational configuration")
	flag.Parse()

	logger := log.New(os.Stderr, "atomupd-daemon: ", log.LstdFlags)

	if err := run(*configPath, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := daemonconfig.Load(configPath)
	if err != nil {
		return err
	}
	cfg = daemonconfig.ApplyEnvOverrides(cfg)

	policy := atomupdbus.NewPolkitChecker(logger)

	srv, err := atomupdbus.NewServer(cfg, policy, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}
