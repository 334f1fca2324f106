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
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/dptucunduva/casa/pkg/config"
)

var (
	userDirOnce        sync.Once
	userDirCache       string
	userDirCacheExists bool
)

// HasUserDir checks if a "user" directory exists next to the executable
// and returns true and the absolute path to it. When it exists it replaces
// every XDG directory, for a portable install. The result is cached after
// the first call.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		exe := os.Getenv(config.AppEnv)
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return
			}
		}

		userDir := filepath.Join(filepath.Dir(exe), config.UserDir)
		info, err := os.Stat(userDir)
		if err != nil || !info.IsDir() {
			return
		}

		userDirCache = userDir
		userDirCacheExists = true
	})

	return userDirCache, userDirCacheExists
}

// ConfigDir holds config.toml.
func ConfigDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.ConfigHome, config.AppName)
}

// DataDir holds the macros directory and alert sounds.
func DataDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.DataHome, config.AppName)
}

// StateDir holds the log file.
func StateDir() string {
	if v, ok := HasUserDir(); ok {
		return filepath.Join(v, "logs")
	}
	return filepath.Join(xdg.StateHome, config.AppName)
}

// MacrosDir is where extra macro files are loaded from.
func MacrosDir() string {
	return filepath.Join(DataDir(), config.MacrosDir)
}
