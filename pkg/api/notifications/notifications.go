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

package notifications

import (
	"encoding/json"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/rs/zerolog/log"
)

// criticalNotifications are logged at warn level when dropped. Anything
// else is high-volume and only logged at debug level.
var criticalNotifications = map[string]bool{
	models.NotificationCommandForwarded: true,
	models.NotificationCommandDropped:   true,
	models.NotificationSwitch:           true,
	models.NotificationCyclerSelected:   true,
}

// sendNotification never blocks. A full channel drops the notification so
// relay sessions and the serial read loop can't stall on slow consumers.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	if ns == nil {
		return
	}

	var params json.RawMessage
	if payload != nil {
		var err error
		params, err = json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("error marshalling notification params")
			return
		}
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		if criticalNotifications[method] {
			log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
		} else {
			log.Debug().Str("method", method).Msg("notification channel full, dropping notification")
		}
	}
}

func SessionStarted(ns chan<- models.Notification, payload models.SessionParams) {
	sendNotification(ns, models.NotificationSessionStarted, payload)
}

func SessionEnded(ns chan<- models.Notification, payload models.SessionParams) {
	sendNotification(ns, models.NotificationSessionEnded, payload)
}

func CommandForwarded(ns chan<- models.Notification, payload models.CommandParams) {
	sendNotification(ns, models.NotificationCommandForwarded, payload)
}

func CommandDropped(ns chan<- models.Notification, payload models.CommandParams) {
	sendNotification(ns, models.NotificationCommandDropped, payload)
}

func DeviceEvent(ns chan<- models.Notification, data string) {
	sendNotification(ns, models.NotificationDeviceEvent, models.DeviceEventParams{Data: data})
}

func IRCode(ns chan<- models.Notification, code string) {
	sendNotification(ns, models.NotificationIRCode, models.IRCodeParams{Code: code})
}

func Switch(ns chan<- models.Notification, payload models.SwitchParams) {
	sendNotification(ns, models.NotificationSwitch, payload)
}

func CyclerStarted(ns chan<- models.Notification) {
	sendNotification(ns, models.NotificationCyclerStarted, nil)
}

func CyclerHighlight(ns chan<- models.Notification, payload models.CyclerHighlightParams) {
	sendNotification(ns, models.NotificationCyclerHighlight, payload)
}

func CyclerSelected(ns chan<- models.Notification, payload models.CyclerSelectedParams) {
	sendNotification(ns, models.NotificationCyclerSelected, payload)
}

func CyclerFinished(ns chan<- models.Notification) {
	sendNotification(ns, models.NotificationCyclerFinished, nil)
}
