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

import "github.com/dptucunduva/casa/pkg/protocol"

// EventHandler receives commands the device sends on its own, such as a
// button press or an IR code report. Each call runs on its own goroutine
// and the port never waits for it.
type EventHandler interface {
	HandleDeviceCommand(cmd protocol.Command)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(cmd protocol.Command)

func (f EventHandlerFunc) HandleDeviceCommand(cmd protocol.Command) {
	f(cmd)
}

type discardHandler struct{}

func (discardHandler) HandleDeviceCommand(protocol.Command) {}
