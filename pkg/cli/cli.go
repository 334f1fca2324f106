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

// Package cli holds the command line front end shared by every build of
// the relay.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/dptucunduva/casa/internal/telemetry"
	"github.com/dptucunduva/casa/pkg/api/client"
	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/helpers"
	"github.com/dptucunduva/casa/pkg/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrNoAction means no one-shot flag was given and the service should run.
var ErrNoAction = errors.New("no action flag given")

type Flags struct {
	Send      *string
	Watch     *string
	Version   *bool
	ListPorts *bool
	Daemon    *bool
	set       *flag.FlagSet
}

// SetupFlags defines the flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		set: fs,
		Send: fs.String(
			"send",
			"",
			"send DATA[;VOICE] through the running relay and exit",
		),
		Watch: fs.String(
			"watch",
			"",
			"print relay events from the API, optionally only the comma separated methods given",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		ListPorts: fs.Bool(
			"list-ports",
			false,
			"list serial ports and exit",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"also log to stderr",
		),
	}
}

func (f *Flags) isPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles the flags that need no config or logging.
// It returns ErrNoAction when the caller should carry on.
func (f *Flags) Pre(args []string, out io.Writer) error {
	if err := f.set.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	switch {
	case *f.Version:
		_, _ = fmt.Fprintf(out, "%s v%s\n", config.AppName, config.AppVersion)
		return nil
	case *f.ListPorts:
		return listPorts(out, helpers.GetSerialDeviceList)
	}
	return ErrNoAction
}

// Post handles the flags that talk to a running relay. It returns
// ErrNoAction when none of them was given.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, out io.Writer) error {
	switch {
	case f.isPassed("send"):
		if *f.Send == "" {
			return errors.New("send flag requires a value")
		}
		return send(ctx, relay.NewSender(cfg.RelayAddress(), cfg.SenderActivation()), *f.Send)
	case f.isPassed("watch"):
		return watch(ctx, apiAddress(cfg), splitMethods(*f.Watch), out)
	}
	return ErrNoAction
}

func listPorts(out io.Writer, list func() ([]string, error)) error {
	ports, err := list()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(out, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		_, _ = fmt.Fprintln(out, p)
	}
	return nil
}

func send(ctx context.Context, sender *relay.Sender, value string) error {
	if err := sender.SubmitText(ctx, value); err != nil {
		log.Error().Err(err).Msg("error sending command")
		return fmt.Errorf("error sending command: %w", err)
	}
	return nil
}

func watch(ctx context.Context, addr string, methods []string, out io.Writer) error {
	enc := json.NewEncoder(out)
	err := client.Watch(ctx, addr, methods, func(ev models.Event) error {
		return enc.Encode(ev) //nolint:wrapcheck // surfaced by Watch
	})
	if err != nil {
		return fmt.Errorf("error watching events: %w", err)
	}
	return nil
}

func splitMethods(s string) []string {
	var methods []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// apiAddress is where a local client reaches the API, given the address it
// listens on.
func apiAddress(cfg *config.Instance) string {
	host, port, err := net.SplitHostPort(cfg.APIListen())
	if err != nil {
		return net.JoinHostPort("localhost", strconv.Itoa(cfg.APIPort()))
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// Setup creates the app directories, starts logging and loads the config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(defaultConfig config.Values, writers []io.Writer) (*config.Instance, error) {
	for _, dir := range []string{helpers.ConfigDir(), helpers.DataDir(), helpers.MacrosDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("error creating directories: %w", err)
		}
	}

	if err := helpers.InitLogging(helpers.StateDir(), writers); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), helpers.ConfigDir(), defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := telemetry.Init(cfg); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
