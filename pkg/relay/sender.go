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

package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// DefaultDialTimeout bounds connecting and writing to the relay.
const DefaultDialTimeout = 5 * time.Second

// Submitter hands a command to the relay as if a client had sent it.
type Submitter interface {
	Submit(ctx context.Context, cmd protocol.Command) error
}

// Sender submits commands by connecting to the relay socket like any other
// client. Each command is preceded by an Enable so string commands pass the
// activation gate of the short-lived session.
type Sender struct {
	addr       string
	activation time.Duration
	timeout    time.Duration
}

func NewSender(addr string, activation time.Duration) *Sender {
	return &Sender{
		addr:       addr,
		activation: activation,
		timeout:    DefaultDialTimeout,
	}
}

// Submit dials the relay, writes an Enable followed by cmd and half-closes
// the connection. It then waits for the relay to hang up, so by the time it
// returns the session has finished with the command.
func (s *Sender) Submit(ctx context.Context, cmd protocol.Command) error {
	enable, err := protocol.EnableCommand(s.activation).Frame(false)
	if err != nil {
		return fmt.Errorf("failed to encode enable: %w", err)
	}
	frame, err := cmd.Frame(true)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", cmd, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to relay at %s: %w", s.addr, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing relay connection")
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	if _, err := conn.Write(append(enable, frame...)); err != nil {
		return fmt.Errorf("failed to send %s to relay: %w", cmd, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return fmt.Errorf("failed to finish sending %s: %w", cmd, err)
		}
		// The relay never replies, it only closes once the session is done.
		if _, err := io.Copy(io.Discard, conn); err != nil {
			log.Debug().Err(err).Str("command", cmd.String()).Msg("relay did not hang up in time")
		}
	}

	log.Debug().Str("command", cmd.String()).Str("address", s.addr).Msg("submitted command to relay")
	return nil
}

// SubmitText parses raw the way a relay client's text is parsed (data, then
// an optional ';' and voice) and submits it as a string command.
func (s *Sender) SubmitText(ctx context.Context, raw string) error {
	return s.Submit(ctx, protocol.NewCommand(protocol.KindString, raw, nil))
}
