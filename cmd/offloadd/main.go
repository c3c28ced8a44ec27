// Offload Core
// Copyright (c) 2026 The Offload Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Offload Core.
//
// Offload Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Offload Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Offload Core.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/helpers"
	"github.com/OffloadProject/offload-core/pkg/service"
	"github.com/OffloadProject/offload-core/pkg/service/state"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const appVersion = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", config.AppName, appVersion)
		return 0
	}

	cfg, err := config.NewConfig(config.ConfigDir(), config.BaseDefaults)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(config.DataDir(), 0o750); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error creating data directory: %v\n", err)
		return 1
	}
	logWriters := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if err := helpers.InitLogging(config.DataDir(), cfg.DebugLogging(), logWriters); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error initializing logging: %v\n", err)
		return 1
	}

	pidPath := filepath.Join(config.DataDir(), config.PidFile)
	if err := writePidFile(pidPath); err != nil {
		log.Error().Err(err).Msg("refusing to start")
		return 1
	}
	defer func() { _ = os.Remove(pidPath) }()

	log.Info().
		Str("version", appVersion).
		Str("config", cfg.Path()).
		Msg("starting service")

	st, ns := state.NewState()
	svc, err := service.Start(cfg, st, ns)
	if err != nil {
		log.Error().Err(err).Msg("failed to start service")
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		st.Stop()
	case <-st.GetContext().Done():
		// Stopped via a control surface.
	}

	if err := svc.Stop(); err != nil {
		log.Warn().Err(err).Msg("shutdown finished with errors")
	}

	if svc.Core().RestartRequested() {
		log.Info().Msg("exiting for restart by supervisor")
	}
	return 0
}

// writePidFile claims the single-instance lock. A stale file left by a
// crashed process is overwritten; a live owner aborts startup.
func writePidFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pidAlive(pid) {
			return fmt.Errorf("another instance is running with pid %d", pid)
		}
		log.Warn().Str("path", path).Msg("removing stale pid file")
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
