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

package helpers

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB vendors of the boards the actuator firmware runs on. Ports from these
// vendors are probed before anything else.
var actuatorVendors = []string{
	"2341", // Arduino
	"2a03", // Arduino (dog hunter)
	"1a86", // WCH CH340 clones
	"0403", // FTDI
	"10c4", // Silicon Labs CP210x
}

// these are overridden in tests
var (
	detailedPortsList = enumerator.GetDetailedPortsList
	portsList         = serial.GetPortsList
)

func serialPrefixes(goos string) []string {
	switch goos {
	case "linux":
		return []string{"/dev/ttyUSB", "/dev/ttyACM"}
	case "darwin":
		return []string{"/dev/tty.usbserial", "/dev/tty.usbmodem", "/dev/cu.usbserial", "/dev/cu.usbmodem"}
	case "windows":
		return []string{"COM"}
	default:
		return nil
	}
}

func isSerialCandidate(goos, name string) bool {
	prefixes := serialPrefixes(goos)
	if prefixes == nil {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func portRank(d *enumerator.PortDetails) int {
	switch {
	case d.IsUSB && slices.Contains(actuatorVendors, strings.ToLower(d.VID)):
		return 0
	case d.IsUSB:
		return 1
	default:
		return 2
	}
}

// GetSerialDeviceList returns serial ports that could host the actuator,
// most likely first. USB ports from known board vendors come first, then
// other USB serial ports, then anything else matching the platform's
// naming for USB serial adapters.
func GetSerialDeviceList() ([]string, error) {
	return serialDeviceList(runtime.GOOS)
}

func serialDeviceList(goos string) ([]string, error) {
	details, err := detailedPortsList()
	if err != nil {
		log.Debug().Err(err).Msg("detailed serial enumeration failed, falling back to port names")
		return plainSerialDeviceList(goos)
	}

	candidates := make([]*enumerator.PortDetails, 0, len(details))
	for _, d := range details {
		if d.IsUSB || isSerialCandidate(goos, d.Name) {
			candidates = append(candidates, d)
		}
	}

	slices.SortStableFunc(candidates, func(a, b *enumerator.PortDetails) int {
		return portRank(a) - portRank(b)
	})

	devices := make([]string, 0, len(candidates))
	for _, d := range candidates {
		log.Debug().
			Str("port", d.Name).
			Str("vid", d.VID).
			Str("pid", d.PID).
			Str("product", d.Product).
			Msg("found serial port")
		devices = append(devices, d.Name)
	}
	return devices, nil
}

func plainSerialDeviceList(goos string) ([]string, error) {
	ports, err := portsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list on %s: %w", goos, err)
	}

	devices := make([]string, 0, len(ports))
	for _, v := range ports {
		if !isSerialCandidate(goos, v) {
			continue
		}
		devices = append(devices, v)
	}
	return devices, nil
}
