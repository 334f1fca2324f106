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

import "time"

type SessionParams struct {
	Session string `json:"session"`
	Remote  string `json:"remote"`
}

type CommandParams struct {
	Session string `json:"session"`
	Kind    string `json:"kind"`
	Data    string `json:"data"`
	Voice   string `json:"voice,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type DeviceEventParams struct {
	Data string `json:"data"`
}

type IRCodeParams struct {
	Code string `json:"code"`
}

type SwitchParams struct {
	CheckedAt time.Time `json:"checkedAt"`
	On        bool      `json:"on"`
}

type CyclerHighlightParams struct {
	Group   string `json:"group"`
	Command string `json:"command,omitempty"`
}

type CyclerSelectedParams struct {
	Group   string `json:"group"`
	Command string `json:"command"`
	Data    string `json:"data"`
}
