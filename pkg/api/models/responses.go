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

type StatusResponse struct {
	SwitchCheckedAt *time.Time `json:"switchCheckedAt,omitempty"`
	SwitchOn        *bool      `json:"switchOn,omitempty"`
	Version         string     `json:"version"`
	RelayAddress    string     `json:"relayAddress"`
	DevicePort      string     `json:"devicePort"`
	Sessions        int        `json:"sessions"`
	CyclerRunning   bool       `json:"cyclerRunning"`
}

type GroupCommandResponse struct {
	Label string `json:"label"`
	Data  string `json:"data"`
	TTS   string `json:"tts,omitempty"`
}

type GroupResponse struct {
	Label    string                 `json:"label"`
	Commands []GroupCommandResponse `json:"commands"`
}

type GroupsResponse struct {
	Groups []GroupResponse `json:"groups"`
}

type MacroResponse struct {
	Key  string `json:"key"`
	Data string `json:"data"`
}

type MacrosResponse struct {
	Macros []MacroResponse `json:"macros"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
