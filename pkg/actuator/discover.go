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

package actuator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Discover finds the actuator. The configured path is tried first, then
// every serial port on the system. Each candidate is opened, given time to
// settle (the board resets when the port opens) and probed with a single
// health check. The first one that answers is returned.
func Discover(ctx context.Context, opts Options) (*Port, error) {
	opts = opts.withDefaults()

	candidates := make([]string, 0, 8)
	seen := make(map[string]struct{})
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	add(opts.Path)
	ports, err := opts.ListPorts()
	if err != nil {
		log.Warn().Err(err).Msg("failed to list serial ports")
	}
	for _, path := range ports {
		add(path)
	}

	for _, path := range candidates {
		p, err := probe(ctx, path, opts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("discovery cancelled: %w", ctxErr)
		}
		if err != nil {
			log.Info().Err(err).Str("path", path).Msg("no actuator on serial port")
			continue
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w (tried %d ports)", ErrDeviceNotFound, len(candidates))
}

func probe(ctx context.Context, path string, opts Options) (*Port, error) {
	opts.Path = path
	p, err := Open(opts)
	if err != nil {
		return nil, err
	}

	if opts.SettleDelay > 0 {
		timer := opts.Clock.NewTimer(opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = p.Close()
			return nil, fmt.Errorf("discovery cancelled: %w", ctx.Err())
		case <-timer.Chan():
		}
	}

	on, err := p.CheckSwitch(ctx)
	if err != nil {
		if closeErr := p.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", path).Msg("failed to close rejected port")
		}
		return nil, err
	}

	log.Info().Str("path", path).Bool("switch", on).Msg("found actuator")
	return p, nil
}
