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
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the actuator firmware's line speed.
const DefaultBaudRate = 9600

// SerialPort defines the subset of a serial port the actuator needs. It is
// satisfied by go.bug.st/serial ports and by mocks in tests.
type SerialPort interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialPortFactory creates a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory opens a real serial port.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// LineMode returns the fixed 8N1 line configuration at the given speed.
func LineMode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
