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
	"errors"
	"fmt"

	"github.com/dptucunduva/casa/pkg/protocol"
)

var (
	ErrHandshakeTimeout = errors.New("no response to health check")
	ErrInvalidResponse  = errors.New("unexpected health check response")
	ErrDeviceNotFound   = errors.New("no actuator found on any serial port")
	ErrPortClosed       = errors.New("serial port closed")
)

// HandshakeError is a failed health check: either the device never
// completed a response, or it answered something other than "E;" or "D;".
type HandshakeError struct {
	Err      error
	Path     string
	Response string
}

func (e *HandshakeError) Error() string {
	if e.Response != "" {
		return fmt.Sprintf("health check on %s: %v: %q", e.Path, e.Err, e.Response)
	}
	return fmt.Sprintf("health check on %s: %v", e.Path, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// TransmitError is a failed write to the serial port.
type TransmitError struct {
	Err     error
	Path    string
	Command protocol.Command
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit %s to %s: %v", e.Command, e.Path, e.Err)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}
