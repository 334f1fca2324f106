// CASA Relay
// Copyright (c) 2025 The CASA Relay Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CASA Relay.
//
// CASA Relay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CASA Relay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CASA Relay.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/service"
	"github.com/rs/zerolog/log"
)

const probeTimeout = 500 * time.Millisecond

// RelayRunning reports whether something already answers on addr.
func RelayRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// RunApp runs the service until a signal arrives or the service stops on
// its own.
func RunApp(ctx context.Context, cfg *config.Instance, deps service.Deps) (returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %v\n", r)
			log.Error().Msgf("panic recovered: %v", r)
			returnErr = fmt.Errorf("panic: %v", r)
		}
	}()

	if RelayRunning(cfg.RelayAddress()) {
		log.Info().Str("address", cfg.RelayAddress()).Msg("relay already running, exiting")
		return nil
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	log.Info().Msg("starting service")
	stopSvc, done, err := service.Start(ctx, cfg, deps)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	<-done
	log.Info().Msg("service stopped")
	if err := stopSvc(); err != nil {
		log.Error().Err(err).Msg("error stopping service")
		return fmt.Errorf("error stopping service: %w", err)
	}
	return nil
}
