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

package config

import (
	"net"
	"strconv"
	"time"
)

const (
	DefaultBindHost           = "localhost"
	DefaultBindPort           = 11000
	DefaultSenderActivationMs = 10000
	DefaultBaudRate           = 9600
	DefaultSettleDelayMs      = 2000
	DefaultCyclerStart        = "TVIOS;Olá"
	DefaultCyclerFinish       = "TVIOD"
	DefaultSourceDelayMs      = 8000
	DefaultIntervalMs         = 2500
)

type Relay struct {
	BindHost           string `toml:"bind_host"`
	BindPort           int    `toml:"bind_port"`
	SenderActivationMs int    `toml:"sender_activation_ms"`
}

type Serial struct {
	Port          string `toml:"port,omitempty"`
	BaudRate      int    `toml:"baud_rate"`
	SettleDelayMs int    `toml:"settle_delay_ms"`
}

type Cycler struct {
	StartCommand  string `toml:"start_command"`
	FinishCommand string `toml:"finish_command"`
	SourceDelayMs int    `toml:"source_delay_ms"`
	IntervalMs    int    `toml:"interval_ms"`
}

type Speech struct {
	AlertSound string `toml:"alert_sound,omitempty"`
	// Command replaces the platform speech synthesizer. "{text}" in any
	// argument is replaced by the text to speak.
	Command []string `toml:"command,omitempty"`
	Disabled bool    `toml:"disabled,omitempty"`
}

type Recognizer struct {
	Dir     string   `toml:"dir,omitempty"`
	Command []string `toml:"command,omitempty"`
}

func msOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// RelayAddress is the host:port the relay listens on and the sender dials.
func (c *Instance) RelayAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	host := c.vals.Relay.BindHost
	if host == "" {
		host = DefaultBindHost
	}
	port := c.vals.Relay.BindPort
	if port <= 0 {
		port = DefaultBindPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c *Instance) RelayPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Relay.BindPort <= 0 {
		return DefaultBindPort
	}
	return c.vals.Relay.BindPort
}

func (c *Instance) SetRelayAddress(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Relay.BindHost = host
	c.vals.Relay.BindPort = port
}

// SenderActivation is the window opened ahead of every internally sent
// command.
func (c *Instance) SenderActivation() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Relay.SenderActivationMs, DefaultSenderActivationMs)
}

func (c *Instance) SerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Port
}

func (c *Instance) SetSerialPort(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Port = path
}

func (c *Instance) SerialBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.vals.Serial.BaudRate
}

func (c *Instance) SerialSettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Serial.SettleDelayMs, DefaultSettleDelayMs)
}

func (c *Instance) CyclerStartCommand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Cycler.StartCommand
}

func (c *Instance) CyclerFinishCommand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Cycler.FinishCommand
}

// CyclerSourceDelay is how long the TV takes to switch to the selector's
// input before highlighting starts.
func (c *Instance) CyclerSourceDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Cycler.SourceDelayMs, DefaultSourceDelayMs)
}

func (c *Instance) CyclerInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Cycler.IntervalMs, DefaultIntervalMs)
}

func (c *Instance) SpeechEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.vals.Speech.Disabled
}

func (c *Instance) SpeechCommand() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.Speech.Command...)
}

func (c *Instance) AlertSound() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Speech.AlertSound
}

func (c *Instance) RecognizerCommand() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.Recognizer.Command...)
}

func (c *Instance) RecognizerDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Recognizer.Dir
}
