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

// Package actuator owns the serial connection to the CASA actuator board.
//
// All traffic to the device goes through a Port. Transactions (a send, a
// health check, or a send followed by its confirming health check) are
// serialized by the channel lock. Inbound bytes are collected by a read
// loop that only ever takes the buffer lock, so device events can still be
// dispatched while a session holds the channel.
package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSettleDelay  = 2 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
	DefaultPollAttempts = 200
	DefaultReadTimeout  = 50 * time.Millisecond

	// responses to a Check command
	switchOn  = "E;"
	switchOff = "D;"

	maxBuffer = 4096
)

var terminator = []byte{';'}

// Options configures opening and discovering a Port. Zero values pick the
// defaults.
type Options struct {
	Handler      EventHandler
	Clock        clockwork.Clock
	Factory      SerialPortFactory
	ListPorts    func() ([]string, error)
	Path         string
	BaudRate     int
	SettleDelay  time.Duration
	PollInterval time.Duration
	PollAttempts int
	ReadTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Handler == nil {
		o.Handler = discardHandler{}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Factory == nil {
		o.Factory = DefaultSerialPortFactory
	}
	if o.ListPorts == nil {
		o.ListPorts = helpers.GetSerialDeviceList
	}
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = DefaultPollAttempts
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Port is an open connection to the actuator.
type Port struct {
	port      SerialPort
	clock     clockwork.Clock
	handler   EventHandler
	closeErr  error
	done      chan struct{}
	path      string
	buf       []byte
	interval  time.Duration
	attempts  int
	closeOnce sync.Once
	mu        syncutil.Mutex // serializes transactions on the wire
	bufMu     syncutil.Mutex // protects buf, local, closing, handler, switch state
	local     bool
	closing   bool
	switchOn  bool
	switchSet bool
}

// Open opens the serial port at opts.Path and starts reading from it. No
// health check is made; see Discover for that.
func Open(opts Options) (*Port, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, errors.New("serial port path is empty")
	}

	sp, err := opts.Factory(opts.Path, LineMode(opts.BaudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Path, err)
	}

	if err := sp.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", opts.Path, err)
	}
	if err := sp.ResetInputBuffer(); err != nil {
		log.Warn().Err(err).Str("path", opts.Path).Msg("failed to reset serial input buffer")
	}

	p := &Port{
		port:     sp,
		clock:    opts.Clock,
		handler:  opts.Handler,
		done:     make(chan struct{}),
		path:     opts.Path,
		interval: opts.PollInterval,
		attempts: opts.PollAttempts,
		local:    true,
	}

	go p.readLoop()

	p.setLocal(false)
	log.Info().Str("path", p.path).Int("baud", opts.BaudRate).Msg("opened serial port")
	return p, nil
}

// Path returns the serial device path.
func (p *Port) Path() string {
	return p.path
}

// SetHandler replaces the handler receiving device events.
func (p *Port) SetHandler(h EventHandler) {
	if h == nil {
		h = discardHandler{}
	}
	p.bufMu.Lock()
	p.handler = h
	p.bufMu.Unlock()
}

// SwitchState returns the global switch position seen by the last
// successful health check. known is false until one has completed.
func (p *Port) SwitchState() (on, known bool) {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return p.switchOn, p.switchSet
}

// Send writes a single command, without its voice text.
func (p *Port) Send(cmd protocol.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(cmd)
}

// CheckSwitch asks the device whether its global switch is on.
func (p *Port) CheckSwitch(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkSwitchLocked(ctx)
}

// Transmit sends each command in order. Every command is confirmed with a
// health check before the next one is written, and the channel is held for
// the whole sequence so no other session can interleave. The first failure
// stops the sequence.
func (p *Port) Transmit(ctx context.Context, cmds []protocol.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transmit cancelled: %w", err)
		}
		if err := p.sendLocked(cmd); err != nil {
			return err
		}
		on, err := p.checkSwitchLocked(ctx)
		if err != nil {
			return fmt.Errorf("failed to confirm %s: %w", cmd, err)
		}
		log.Debug().Str("command", cmd.String()).Bool("switch", on).Msg("command confirmed")
	}
	return nil
}

// Close stops the read loop and closes the serial port. It waits for any
// transaction in progress to finish.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.bufMu.Lock()
		p.closing = true
		p.bufMu.Unlock()

		if err := p.port.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close %s: %w", p.path, err)
		}
		<-p.done
		log.Info().Str("path", p.path).Msg("closed serial port")
	})
	return p.closeErr
}

func (p *Port) sendLocked(cmd protocol.Command) error {
	frame, err := cmd.DeviceFrame()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", cmd, err)
	}

	if p.isClosing() {
		return &TransmitError{Err: ErrPortClosed, Path: p.path, Command: cmd}
	}

	n, err := p.port.Write(frame)
	if err != nil {
		return &TransmitError{Err: err, Path: p.path, Command: cmd}
	}
	if n < len(frame) {
		return &TransmitError{Err: io.ErrShortWrite, Path: p.path, Command: cmd}
	}

	log.Trace().Str("path", p.path).Hex("frame", frame).Msg("wrote frame")
	return nil
}

func (p *Port) checkSwitchLocked(ctx context.Context) (bool, error) {
	p.setLocal(true)
	defer p.setLocal(false)

	if err := p.sendLocked(protocol.CheckCommand()); err != nil {
		return false, err
	}

	for attempt := 0; ; attempt++ {
		if resp, ok := p.response(); ok {
			on, err := p.parseSwitch(resp)
			if err != nil {
				return false, err
			}
			p.bufMu.Lock()
			p.switchOn, p.switchSet = on, true
			p.bufMu.Unlock()
			return on, nil
		}
		if attempt == p.attempts {
			return false, &HandshakeError{Err: ErrHandshakeTimeout, Path: p.path}
		}
		if err := p.wait(ctx); err != nil {
			return false, err
		}
	}
}

func (p *Port) parseSwitch(resp string) (bool, error) {
	switch strings.TrimSpace(resp) {
	case switchOn:
		return true, nil
	case switchOff:
		return false, nil
	default:
		return false, &HandshakeError{Err: ErrInvalidResponse, Path: p.path, Response: resp}
	}
}

func (p *Port) wait(ctx context.Context) error {
	timer := p.clock.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("health check cancelled: %w", ctx.Err())
	case <-timer.Chan():
		return nil
	}
}

// setLocal switches between waiting for a response to our own request and
// dispatching device events. The buffer is cleared either way.
func (p *Port) setLocal(local bool) {
	p.bufMu.Lock()
	p.local = local
	p.buf = p.buf[:0]
	p.bufMu.Unlock()
}

// response returns the buffered text once it ends in a terminator.
func (p *Port) response() (string, bool) {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	if !bytes.HasSuffix(p.buf, terminator) {
		return "", false
	}
	return protocol.DecodeText(p.buf), true
}

func (p *Port) isClosing() bool {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return p.closing
}

func (p *Port) readLoop() {
	defer close(p.done)

	buf := make([]byte, 256)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			if !p.isClosing() {
				log.Error().Err(err).Str("path", p.path).Msg("failed to read from serial port")
			}
			return
		}
		if n == 0 {
			if p.isClosing() {
				return
			}
			continue
		}
		p.receive(buf[:n])
	}
}

// receive buffers inbound bytes. While no request of ours is waiting, a
// terminated buffer is a device event and is handed to the handler.
func (p *Port) receive(b []byte) {
	p.bufMu.Lock()
	p.buf = append(p.buf, b...)
	if len(p.buf) > maxBuffer {
		log.Warn().Str("path", p.path).Int("size", len(p.buf)).Msg("discarding unterminated serial input")
		p.buf = p.buf[:0]
	}
	if p.local || !bytes.HasSuffix(p.buf, terminator) {
		p.bufMu.Unlock()
		return
	}
	text := protocol.DecodeText(p.buf)
	p.buf = p.buf[:0]
	handler := p.handler
	p.bufMu.Unlock()

	for _, data := range strings.Split(text, string(terminator)) {
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		cmd := protocol.Command{Kind: protocol.KindString, Data: data}
		log.Debug().Str("path", p.path).Str("data", data).Msg("device event")
		go handler.HandleDeviceCommand(cmd)
	}
}
