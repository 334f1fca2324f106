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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/api/notifications"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Options configures a Server. Device and Macros are required.
type Options struct {
	Device        Device
	Macros        MacroTable
	Speaker       Speaker
	Alerter       Alerter
	Clock         clockwork.Clock
	Notifications chan<- models.Notification
	Picker        protocol.Picker
}

type nopSpeaker struct{}

func (nopSpeaker) Say(string) {}

type nopAlerter struct{}

func (nopAlerter) Beep() {}

// Server accepts relay clients and runs a Session for each of them.
type Server struct {
	listener    net.Listener
	ctx         context.Context
	opts        Options
	conns       map[string]net.Conn
	cancel      context.CancelFunc
	switchAt    time.Time
	sessions    sync.WaitGroup
	acceptDone  chan struct{}
	mu          syncutil.Mutex
	switchOn    bool
	switchKnown bool
	stopped     bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Device == nil {
		return nil, errors.New("relay server needs a device")
	}
	if opts.Macros == nil {
		return nil, errors.New("relay server needs a macro table")
	}
	if opts.Speaker == nil {
		opts.Speaker = nopSpeaker{}
	}
	if opts.Alerter == nil {
		opts.Alerter = nopAlerter{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Picker == nil {
		opts.Picker = protocol.DefaultPicker
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[string]net.Conn),
		acceptDone: make(chan struct{}),
	}, nil
}

// ErrServerStopped is returned when listening on a stopped Server.
var ErrServerStopped = errors.New("relay server stopped")

// Listen opens the relay socket on addr and starts accepting clients in the
// background.
func (s *Server) Listen(addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := s.setListener(l); err != nil {
		return err
	}
	log.Info().Str("address", l.Addr().String()).Msg("relay listening")

	go func() {
		if err := s.serve(l); err != nil {
			log.Error().Err(err).Msg("relay accept loop stopped")
		}
	}()
	return nil
}

// Serve accepts clients on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	if err := s.setListener(l); err != nil {
		return err
	}
	return s.serve(l)
}

func (s *Server) setListener(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		_ = l.Close()
		return ErrServerStopped
	case s.listener != nil:
		_ = l.Close()
		return errors.New("relay server is already listening")
	}
	s.listener = l
	return nil
}

func (s *Server) serve(l net.Listener) error {
	defer close(s.acceptDone)

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Err(err).Msg("temporary error accepting relay client")
				continue
			}
			return fmt.Errorf("failed to accept relay client: %w", err)
		}

		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	id := uuid.New().String()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[id] = conn
	s.sessions.Add(1)
	s.mu.Unlock()

	sess := s.newSession(id, conn)

	go func() {
		defer s.sessions.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, id)
			s.mu.Unlock()
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("session", id).Msg("error closing relay client")
			}
		}()

		params := models.SessionParams{Session: id, Remote: sess.remote}
		log.Info().Str("session", id).Str("remote", sess.remote).Msg("relay client connected")
		notifications.SessionStarted(s.opts.Notifications, params)

		if err := sess.Run(s.ctx); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("relay session ended with error")
		}

		log.Info().Str("session", id).Msg("relay client disconnected")
		notifications.SessionEnded(s.opts.Notifications, params)
	}()
}

func (s *Server) newSession(id string, conn net.Conn) *Session {
	return &Session{
		id:       id,
		remote:   conn.RemoteAddr().String(),
		dec:      protocol.NewDecoder(conn, s.opts.Picker),
		device:   s.opts.Device,
		macros:   s.opts.Macros,
		speaker:  s.opts.Speaker,
		alerter:  s.opts.Alerter,
		clock:    s.opts.Clock,
		ns:       s.opts.Notifications,
		onSwitch: s.observeSwitch,
		pick:     s.opts.Picker,
	}
}

// observeSwitch records the switch position seen by a session and
// notifies when it changes.
func (s *Server) observeSwitch(on bool) {
	s.mu.Lock()
	changed := !s.switchKnown || s.switchOn != on
	s.switchOn = on
	s.switchKnown = true
	s.switchAt = s.opts.Clock.Now()
	at := s.switchAt
	s.mu.Unlock()

	if changed {
		log.Info().Bool("on", on).Msg("global switch changed")
		notifications.Switch(s.opts.Notifications, models.SwitchParams{On: on, CheckedAt: at})
	}
}

// Switch returns the switch position last seen by any session.
func (s *Server) Switch() (on bool, at time.Time, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchOn, s.switchAt, s.switchKnown
}

// Addr is the listening address, or nil until the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every client connection, then waits for
// all sessions to finish. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.cancel()

	var err error
	listening := s.listener != nil
	if listening {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("failed to close relay listener: %w", cerr)
		}
	}
	for id, conn := range s.conns {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			log.Debug().Err(cerr).Str("session", id).Msg("error closing relay client")
		}
	}
	s.mu.Unlock()

	if listening {
		<-s.acceptDone
	}
	s.sessions.Wait()
	log.Info().Msg("relay server stopped")
	return err
}
