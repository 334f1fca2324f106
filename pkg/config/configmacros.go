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
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Macro translates a short key sent by a client into device commands.
type Macro struct {
	Key  string `toml:"key"`
	Data string `toml:"data"`
}

// Group is a set of commands offered together by the cycling selector.
type Group struct {
	Label    string         `toml:"label"`
	Commands []GroupCommand `toml:"commands"`
}

// GroupCommand is one selectable command. Data is used when Macro is empty
// or names an unknown macro.
type GroupCommand struct {
	Label string `toml:"label"`
	Macro string `toml:"macro,omitempty"`
	Data  string `toml:"data,omitempty"`
	TTS   string `toml:"tts,omitempty"`
}

type macroFile struct {
	Macros []Macro `toml:"macros"`
}

func (c *Instance) rebuildMacroIndexLocked() {
	c.macroIndex = make(map[string]string, len(c.vals.Macros)+len(c.fileMacros))
	for _, m := range c.vals.Macros {
		c.macroIndex[m.Key] = m.Data
	}
	for _, m := range c.fileMacros {
		c.macroIndex[m.Key] = m.Data
	}
}

// LoadMacros reads every *.toml file under macrosDir and adds its
// [[macros]] entries. Macros from files win over config.toml on a key
// clash. Files that fail to parse are logged and skipped.
func (c *Instance) LoadMacros(macrosDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.fs.Stat(macrosDir); err != nil {
		return fmt.Errorf("failed to stat macros directory: %w", err)
	}

	var macroFiles []string
	err := afero.Walk(c.fs, macrosDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.ToLower(filepath.Ext(info.Name())) != ".toml" {
			return nil
		}
		macroFiles = append(macroFiles, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk macros directory: %w", err)
	}
	log.Info().Msgf("found %d macro files", len(macroFiles))

	filesCount := 0
	var loaded []Macro

	for _, path := range macroFiles {
		log.Debug().Msgf("loading macro file: %s", path)

		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			log.Error().Err(err).Msgf("error reading macro file: %s", path)
			continue
		}

		var mf macroFile
		if err := toml.Unmarshal(data, &mf); err != nil {
			log.Error().Err(err).Msgf("error parsing macro file: %s", path)
			continue
		}

		loaded = append(loaded, mf.Macros...)
		filesCount++
	}

	c.fileMacros = append(c.fileMacros, loaded...)
	c.rebuildMacroIndexLocked()

	log.Info().Msgf("loaded %d macro files, %d macros", filesCount, len(loaded))

	return nil
}

// LookupMacro returns the expansion for key.
func (c *Instance) LookupMacro(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.macroIndex[key]
	return data, ok
}

// Macros returns every macro, sorted by key.
func (c *Instance) Macros() []Macro {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ms := make([]Macro, 0, len(c.macroIndex))
	for k, v := range c.macroIndex {
		ms = append(ms, Macro{Key: k, Data: v})
	}
	slices.SortFunc(ms, func(a, b Macro) int {
		return strings.Compare(a.Key, b.Key)
	})
	return ms
}

// Groups returns the command groups with macro references already
// replaced by their data.
func (c *Instance) Groups() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]Group, len(c.vals.Groups))
	for i, g := range c.vals.Groups {
		groups[i] = Group{Label: g.Label, Commands: make([]GroupCommand, len(g.Commands))}
		for j, gc := range g.Commands {
			if gc.Macro != "" {
				if data, ok := c.macroIndex[gc.Macro]; ok {
					gc.Data = data
				} else {
					log.Warn().Str("macro", gc.Macro).Str("command", gc.Label).Msg("unknown macro in group command")
				}
			}
			groups[i].Commands[j] = gc
		}
	}
	return groups
}

// FindGroupCommand looks up a command by group and command label, ignoring
// case.
func (c *Instance) FindGroupCommand(group, command string) (GroupCommand, bool) {
	for _, g := range c.Groups() {
		if !strings.EqualFold(g.Label, group) {
			continue
		}
		for _, gc := range g.Commands {
			if strings.EqualFold(gc.Label, command) {
				return gc, true
			}
		}
	}
	return GroupCommand{}, false
}
