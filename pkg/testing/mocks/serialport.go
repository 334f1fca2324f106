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

package mocks

import (
	"bytes"
	"errors"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/dptucunduva/casa/pkg/protocol"
)

var ErrMockPortClosed = errors.New("port closed")

// MockSerialPort is an in-memory serial port. Every Write is recorded as
// one frame and may produce a reply through Respond; Inject queues bytes as
// if the device had sent them on its own.
type MockSerialPort struct {
	WriteError   error
	CloseError   error
	TimeoutError error
	// Respond, when set, is called for every written frame and its result
	// is queued for reading.
	Respond  func(frame []byte) []byte
	incoming chan []byte
	closed   chan struct{}
	pending  []byte
	written  [][]byte
	mu       syncutil.Mutex // protects written, pending, isClosed
	isClosed bool
}

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.isClosed {
		m.mu.Unlock()
		return 0, ErrMockPortClosed
	}
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	select {
	case <-m.closed:
		return 0, ErrMockPortClosed
	case b := <-m.incoming:
		n := copy(p, b)
		if n < len(b) {
			m.mu.Lock()
			m.pending = append(m.pending, b[n:]...)
			m.mu.Unlock()
		}
		return n, nil
	case <-time.After(10 * time.Millisecond):
		// read timeout
		return 0, nil
	}
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	if m.WriteError != nil {
		return 0, m.WriteError
	}

	m.mu.Lock()
	if m.isClosed {
		m.mu.Unlock()
		return 0, ErrMockPortClosed
	}
	m.written = append(m.written, bytes.Clone(p))
	m.mu.Unlock()

	if m.Respond != nil {
		if reply := m.Respond(p); len(reply) > 0 {
			m.Inject(reply)
		}
	}
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	if !m.isClosed {
		m.isClosed = true
		close(m.closed)
	}
	m.mu.Unlock()
	return m.CloseError
}

func (m *MockSerialPort) SetReadTimeout(_ time.Duration) error {
	return m.TimeoutError
}

func (*MockSerialPort) ResetInputBuffer() error {
	return nil
}

// Inject queues data as device output.
func (m *MockSerialPort) Inject(data []byte) {
	m.incoming <- bytes.Clone(data)
}

// Drained reports whether every injected byte has been read.
func (m *MockSerialPort) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incoming) == 0 && len(m.pending) == 0
}

// Written returns every frame written so far.
func (m *MockSerialPort) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	for i, w := range m.written {
		out[i] = bytes.Clone(w)
	}
	return out
}

// WrittenFrames decodes every written frame. Writes that are not a valid
// envelope are skipped.
func (m *MockSerialPort) WrittenFrames() []protocol.Frame {
	var frames []protocol.Frame
	for _, w := range m.Written() {
		f, err := protocol.ReadFrame(bytes.NewReader(w))
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

// IsClosed reports whether Close was called.
func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

const checkData = "C"

// MockActuator is a MockSerialPort that answers health checks like the
// actuator firmware, with "E;" or "D;" depending on its switch.
type MockActuator struct {
	*MockSerialPort
	mu     syncutil.Mutex
	on     bool
	silent bool
}

func NewMockActuator(on bool) *MockActuator {
	a := &MockActuator{MockSerialPort: NewMockSerialPort(), on: on}
	a.Respond = a.reply
	return a
}

// SetSwitch moves the global switch.
func (a *MockActuator) SetSwitch(on bool) {
	a.mu.Lock()
	a.on = on
	a.mu.Unlock()
}

// SetSilent stops the device from answering health checks.
func (a *MockActuator) SetSilent(silent bool) {
	a.mu.Lock()
	a.silent = silent
	a.mu.Unlock()
}

// Sent returns the data of every frame written other than health checks,
// in order.
func (a *MockActuator) Sent() []string {
	var out []string
	for _, f := range a.WrittenFrames() {
		if IsCheck(f) {
			continue
		}
		out = append(out, string(f.Payload))
	}
	return out
}

// IsCheck reports whether f is a health check as the firmware sees it: a
// string frame carrying "C".
func IsCheck(f protocol.Frame) bool {
	return f.Kind == protocol.KindString && string(f.Payload) == checkData
}

func (a *MockActuator) reply(frame []byte) []byte {
	f, err := protocol.ReadFrame(bytes.NewReader(frame))
	if err != nil || !IsCheck(f) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.silent {
		return nil
	}
	if a.on {
		return []byte("E;")
	}
	return []byte("D;")
}
