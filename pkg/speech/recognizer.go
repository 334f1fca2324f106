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

package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/dptucunduva/casa/pkg/helpers/command"
	"github.com/rs/zerolog/log"
)

// ErrNoRecognizer is returned when no recognizer command is configured.
var ErrNoRecognizer = errors.New("no voice recognizer configured")

// StartRecognizer launches the external voice recognizer, which talks to
// the relay as a regular TCP client. The process is killed when ctx is
// cancelled. The returned channel receives its exit error once it ends.
func StartRecognizer(
	ctx context.Context,
	exec command.Executor,
	cmdline []string,
	dir string,
) (<-chan error, error) {
	if len(cmdline) == 0 || cmdline[0] == "" {
		return nil, ErrNoRecognizer
	}

	proc, err := exec.Start(ctx, command.Options{Dir: dir}, cmdline[0], cmdline[1:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to start voice recognizer: %w", err)
	}
	log.Info().Strs("command", cmdline).Int("pid", proc.Pid()).Msg("started voice recognizer")

	exited := make(chan error, 1)
	go func() {
		err := proc.Wait()
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("voice recognizer exited")
		} else {
			log.Info().Msg("voice recognizer stopped")
		}
		exited <- err
	}()

	return exited, nil
}
