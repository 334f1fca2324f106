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

package service

import (
	"strings"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/api/notifications"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/rs/zerolog/log"
)

const (
	eventButton = "B"
	eventRing   = "R"
	eventIRCode = "I"

	// RingPhraseSetting is the settings key of the phrase spoken when the
	// doorbell rings.
	RingPhraseSetting = "ring_phrase"
	DefaultRingPhrase = "Por favor"
)

// Selector is the part of the cycler driven by the device button.
type Selector interface {
	Start() bool
	Select() bool
	Running() bool
}

type speaker interface {
	Say(text string)
}

type settings interface {
	Setting(key, def string) string
}

// DeviceEvents reacts to commands the device sends on its own.
type DeviceEvents struct {
	selector Selector
	speaker  speaker
	settings settings
	ns       chan<- models.Notification
}

func NewDeviceEvents(
	selector Selector,
	sp speaker,
	cfg settings,
	ns chan<- models.Notification,
) *DeviceEvents {
	return &DeviceEvents{selector: selector, speaker: sp, settings: cfg, ns: ns}
}

func (e *DeviceEvents) HandleDeviceCommand(cmd protocol.Command) {
	data := strings.TrimSpace(cmd.Data)
	notifications.DeviceEvent(e.ns, data)

	switch {
	case data == eventButton:
		e.button()
	case data == eventRing:
		phrase := DefaultRingPhrase
		if e.settings != nil {
			phrase = e.settings.Setting(RingPhraseSetting, DefaultRingPhrase)
		}
		log.Info().Msg("doorbell ring")
		if phrase != "" {
			e.speaker.Say(phrase)
		}
	case strings.HasPrefix(data, eventIRCode) && len(data) > len(eventIRCode):
		code := data[len(eventIRCode):]
		log.Info().Str("code", code).Msg("IR code received")
		notifications.IRCode(e.ns, code)
	default:
		log.Debug().Str("data", data).Msg("unhandled device event")
	}
}

func (e *DeviceEvents) button() {
	if e.selector == nil {
		log.Debug().Msg("button pressed, no selector configured")
		return
	}
	if e.selector.Running() && e.selector.Select() {
		log.Debug().Msg("button pressed, selection requested")
		return
	}
	if e.selector.Start() {
		log.Info().Msg("button pressed, selector started")
		return
	}
	// the cycle was starting or finishing when we looked
	e.selector.Select()
}
