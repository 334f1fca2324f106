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

package models

import (
	"encoding/json"
)

const (
	NotificationSessionStarted   = "relay.session.started"
	NotificationSessionEnded     = "relay.session.ended"
	NotificationCommandForwarded = "relay.forwarded"
	NotificationCommandDropped   = "relay.dropped"
	NotificationDeviceEvent      = "device.event"
	NotificationIRCode           = "device.ir"
	NotificationSwitch           = "device.switch"
	NotificationCyclerStarted    = "cycler.started"
	NotificationCyclerHighlight  = "cycler.highlight"
	NotificationCyclerSelected   = "cycler.selected"
	NotificationCyclerFinished   = "cycler.finished"
)

// Reasons a relayed command did not reach the device.
const (
	DropSwitchOff    = "switch_off"
	DropHandshake    = "handshake_failed"
	DropNotActivated = "not_activated"
	DropTransmit     = "transmit_failed"
	DropEncoding     = "encoding_failed"
	DropInvalidFrame = "invalid_frame"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

// Event is the envelope written to WebSocket clients and MQTT topics.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}
