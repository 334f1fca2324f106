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

// Package relay accepts relay clients over TCP and forwards their commands
// to the actuator.
//
// Every connection is served by its own Session. A session reads one
// command at a time, expands macros, opens its activation window on Enable,
// then lets the command through only when the device's global switch is on
// and, for string commands, while the window is open. Sessions share the
// serial channel through the Device they are given.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/api/notifications"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// beepVoice asks for the audible alert instead of speech.
const beepVoice = "beep"

// Device is the serial channel as seen by a session.
type Device interface {
	CheckSwitch(ctx context.Context) (bool, error)
	Transmit(ctx context.Context, cmds []protocol.Command) error
}

// MacroTable expands a client's command data.
type MacroTable interface {
	LookupMacro(key string) (string, bool)
}

// Speaker speaks text without waiting for it to finish.
type Speaker interface {
	Say(text string)
}

// Alerter plays the audible alert without waiting for it to finish.
type Alerter interface {
	Beep()
}

// Session is one relay client connection.
type Session struct {
	dec            *protocol.Decoder
	device         Device
	macros         MacroTable
	speaker        Speaker
	alerter        Alerter
	clock          clockwork.Clock
	ns             chan<- models.Notification
	onSwitch       func(on bool)
	pick           protocol.Picker
	activatedUntil time.Time
	id             string
	remote         string
}

// ID identifies the session in logs and notifications.
func (s *Session) ID() string {
	return s.id
}

// ActivatedUntil returns the end of the session's activation window. It is
// the zero time until an Enable command is received.
func (s *Session) ActivatedUntil() time.Time {
	return s.activatedUntil
}

// Run handles commands until the client sends Shutdown or goes away. A nil
// return means the session ended normally.
func (s *Session) Run(ctx context.Context) error {
	for {
		cmd, err := s.dec.Decode()
		if err != nil {
			var fe *protocol.FrameError
			switch {
			case errors.As(err, &fe):
				log.Warn().Err(err).Str("session", s.id).Msg("malformed frame, ignoring")
				s.dropped(cmd, models.DropInvalidFrame, err)
			case errors.Is(err, io.ErrUnexpectedEOF):
				log.Debug().Str("session", s.id).Msg("connection closed mid-frame")
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return nil
			default:
				return fmt.Errorf("failed to read command: %w", err)
			}
		}

		if s.handle(ctx, cmd) {
			return nil
		}
	}
}

// handle runs a single command through the gates. It returns true when the
// session should end.
func (s *Session) handle(ctx context.Context, cmd protocol.Command) bool {
	switch cmd.Kind {
	case protocol.KindStatus:
		return false
	case protocol.KindShutdown:
		log.Debug().Str("session", s.id).Msg("client requested shutdown")
		return true
	}

	if data, ok := s.macros.LookupMacro(cmd.Data); ok {
		log.Debug().Str("session", s.id).Str("macro", cmd.Data).Str("data", data).Msg("expanded macro")
		cmd.SetData(data, s.pick)
	}

	if cmd.Kind == protocol.KindEnable {
		s.activatedUntil = s.clock.Now().Add(cmd.ActivationWindow)
		log.Debug().Str("session", s.id).Time("until", s.activatedUntil).Msg("activation window opened")
	}

	on, err := s.device.CheckSwitch(ctx)
	if err != nil {
		log.Error().Err(err).Str("session", s.id).Str("command", cmd.String()).
			Msg("health check failed, dropping command")
		s.dropped(cmd, models.DropHandshake, err)
		return false
	}
	if s.onSwitch != nil {
		s.onSwitch(on)
	}
	if !on {
		log.Info().Str("session", s.id).Str("command", cmd.String()).Msg("global switch is off, dropping command")
		s.dropped(cmd, models.DropSwitchOff, nil)
		return false
	}

	if cmd.Kind == protocol.KindString && s.clock.Now().After(s.activatedUntil) {
		log.Info().Str("session", s.id).Str("command", cmd.String()).Msg("not activated, dropping command")
		s.dropped(cmd, models.DropNotActivated, nil)
		return false
	}

	s.announce(cmd.Voice)

	if err := s.device.Transmit(ctx, cmd.Split()); err != nil {
		reason := models.DropTransmit
		var ee *protocol.EncodingError
		if errors.As(err, &ee) {
			reason = models.DropEncoding
		}
		log.Error().Err(err).Str("session", s.id).Str("command", cmd.String()).Msg("failed to transmit command")
		s.dropped(cmd, reason, err)
		return false
	}

	log.Info().Str("session", s.id).Str("command", cmd.String()).Msg("forwarded command")
	notifications.CommandForwarded(s.ns, s.params(cmd))
	return false
}

func (s *Session) announce(voice string) {
	switch {
	case voice == "":
	case strings.EqualFold(voice, beepVoice):
		s.alerter.Beep()
	default:
		s.speaker.Say(voice)
	}
}

func (s *Session) params(cmd protocol.Command) models.CommandParams {
	return models.CommandParams{
		Session: s.id,
		Kind:    cmd.Kind.String(),
		Data:    cmd.Data,
		Voice:   cmd.Voice,
	}
}

func (s *Session) dropped(cmd protocol.Command, reason string, err error) {
	p := s.params(cmd)
	p.Reason = reason
	if err != nil {
		p.Error = err.Error()
	}
	notifications.CommandDropped(s.ns, p)
}
