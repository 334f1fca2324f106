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

// Package protocol implements the envelope shared by the relay's TCP clients
// and the actuator on the serial line, and the Command value carried in it.
package protocol

import "fmt"

// Kind is the tag byte carried by every envelope.
type Kind byte

const (
	// KindString carries device commands, like switching the TV source.
	KindString Kind = 0x04
	// KindShutdown tells the relay the connection is about to close.
	KindShutdown Kind = 0xAA
	// KindEnable opens an activation window for string commands.
	KindEnable Kind = 0xBB
	// KindCheck queries the actuator's global switch.
	KindCheck Kind = 0xCC
	// KindStatus is sent when a connection starts or ends. It is a no-op.
	KindStatus Kind = 0xFF
)

// Known reports whether k is one of the defined kinds.
func (k Kind) Known() bool {
	switch k {
	case KindString, KindShutdown, KindEnable, KindCheck, KindStatus:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindShutdown:
		return "shutdown"
	case KindEnable:
		return "enable"
	case KindCheck:
		return "check"
	case KindStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}
