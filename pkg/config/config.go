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

// Package config loads and saves the relay's config.toml, the macro table
// and the command groups.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "CASA_CFG"
	AppEnv        = "CASA_APP"
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Settings     map[string]string `toml:"settings,omitempty"`
	Relay        Relay             `toml:"relay"`
	Serial       Serial            `toml:"serial"`
	Speech       Speech            `toml:"speech,omitempty"`
	Recognizer   Recognizer        `toml:"recognizer,omitempty"`
	Cycler       Cycler            `toml:"cycler"`
	Telemetry    Telemetry         `toml:"telemetry,omitempty"`
	Service      Service           `toml:"service,omitempty"`
	Macros       []Macro           `toml:"macros,omitempty"`
	Groups       []Group           `toml:"groups,omitempty"`
	ConfigSchema int               `toml:"config_schema"`
	DebugLogging bool              `toml:"debug_logging"`
}

type Telemetry struct {
	DSN         string `toml:"dsn,omitempty"`
	Environment string `toml:"environment,omitempty"`
	Enabled     bool   `toml:"enabled"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Relay: Relay{
		BindHost:           DefaultBindHost,
		BindPort:           DefaultBindPort,
		SenderActivationMs: DefaultSenderActivationMs,
	},
	Serial: Serial{
		BaudRate:      DefaultBaudRate,
		SettleDelayMs: DefaultSettleDelayMs,
	},
	Cycler: Cycler{
		StartCommand:  DefaultCyclerStart,
		FinishCommand: DefaultCyclerFinish,
		SourceDelayMs: DefaultSourceDelayMs,
		IntervalMs:    DefaultIntervalMs,
	},
}

type Instance struct {
	fs         afero.Fs
	macroIndex map[string]string
	cfgPath    string
	fileMacros []Macro
	vals       Values
	defaults   Values
	mu         syncutil.RWMutex
}

// NewConfig loads config.toml from configDir, or from the path in CASA_CFG.
// A missing file is created with the defaults first.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Str("path", cfgPath).Msg("saving new default config to disk")

		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Path is the config file location.
func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// file values are unmarshalled over the defaults, so anything missing
	// from the file keeps its default
	newVals := c.defaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	c.vals = newVals
	c.rebuildMacroIndexLocked()

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	if c.vals.Service.DeviceID == "" {
		newID := uuid.New().String()
		c.vals.Service.DeviceID = newID
		log.Info().Msgf("generated new device id: %s", newID)
	}

	// macros from the macros directory stay in their own files
	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Setting returns a free-form setting from the [settings] table, or def
// when it is not set.
func (c *Instance) Setting(key, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.vals.Settings[key]; ok {
		return v
	}
	return def
}

func (c *Instance) SetSetting(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vals.Settings == nil {
		c.vals.Settings = make(map[string]string)
	}
	c.vals.Settings[key] = value
}

func (c *Instance) TelemetryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry.Enabled && c.vals.Telemetry.DSN != ""
}

func (c *Instance) TelemetryDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry.DSN
}

func (c *Instance) TelemetryEnvironment() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Telemetry.Environment == "" {
		return "production"
	}
	return c.vals.Telemetry.Environment
}
