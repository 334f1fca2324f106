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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dptucunduva/casa/internal/telemetry"
	"github.com/dptucunduva/casa/pkg/cli"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	err := run()
	telemetry.Close()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)

	err := flags.Pre(os.Args[1:], os.Stdout)
	if !errors.Is(err, cli.ErrNoAction) {
		return err //nolint:wrapcheck // already user facing
	}

	var logWriters []io.Writer
	if *flags.Daemon {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := cli.Setup(config.BaseDefaults, logWriters)
	if err != nil {
		return err //nolint:wrapcheck // already user facing
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.Flush()
			log.Fatal().Msgf("panic: %v", r)
		}
	}()

	ctx := context.Background()
	err = flags.Post(ctx, cfg, os.Stdout)
	if !errors.Is(err, cli.ErrNoAction) {
		return err //nolint:wrapcheck // already user facing
	}

	return cli.RunApp(ctx, cfg, service.Deps{}) //nolint:wrapcheck // already user facing
}
