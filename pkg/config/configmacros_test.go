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
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMacrosDir = "/home/casa/.local/share/casarelay/macros"

func macroInstance(fs afero.Fs, macros ...Macro) *Instance {
	inst := &Instance{fs: fs, vals: Values{Macros: macros}}
	inst.rebuildMacroIndexLocked()
	return inst
}

func TestLoadMacros(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(testMacrosDir, "tv"), 0o750))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testMacrosDir, "tv", "tv.toml"), []byte(`
[[macros]]
key = "TVON"
data = "IR7"

[[macros]]
key = "TVOFF"
data = "IR8"
`), 0o600))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testMacrosDir, "lights.TOML"), []byte(`
[[macros]]
key = "LUZ"
data = "R1#R2"
`), 0o600))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testMacrosDir, "broken.toml"), []byte("[[macros"), 0o600))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testMacrosDir, "notes.txt"), []byte("key = x"), 0o600))

	inst := macroInstance(fs, Macro{Key: "TVON", Data: "OLD"}, Macro{Key: "RADIO", Data: "FM1"})
	require.NoError(t, inst.LoadMacros(testMacrosDir))

	data, ok := inst.LookupMacro("TVON")
	require.True(t, ok)
	assert.Equal(t, "IR7", data, "macro files override config.toml")

	data, ok = inst.LookupMacro("LUZ")
	require.True(t, ok)
	assert.Equal(t, "R1#R2", data)

	_, ok = inst.LookupMacro("tvon")
	assert.False(t, ok, "keys match verbatim")

	keys := make([]string, 0)
	for _, m := range inst.Macros() {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"LUZ", "RADIO", "TVOFF", "TVON"}, keys)
}

func TestLoadMacros_MissingDir(t *testing.T) {
	t.Parallel()

	inst := macroInstance(afero.NewMemMapFs())
	require.Error(t, inst.LoadMacros("/nope"))
}

func TestLoadMacros_NotSaved(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testMacrosDir, 0o750))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testMacrosDir, "m.toml"), []byte(`
[[macros]]
key = "FILE"
data = "F1"
`), 0o600))

	inst := macroInstance(fs)
	inst.cfgPath = "/cfg/config.toml"
	require.NoError(t, inst.LoadMacros(testMacrosDir))
	require.NoError(t, inst.Save())

	saved, err := afero.ReadFile(fs, inst.cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, string(saved), "FILE")

	// reload keeps file macros
	require.NoError(t, inst.Load())
	_, ok := inst.LookupMacro("FILE")
	assert.True(t, ok)
}

func TestFindGroupCommand(t *testing.T) {
	t.Parallel()

	inst := macroInstance(afero.NewMemMapFs(), Macro{Key: "LIGHT", Data: "L1"})
	inst.vals.Groups = []Group{
		{Label: "Luzes", Commands: []GroupCommand{
			{Label: "Sala", Macro: "LIGHT", TTS: "Luz da sala"},
			{Label: "Quarto", Macro: "UNKNOWN", Data: "L2"},
		}},
	}

	gc, ok := inst.FindGroupCommand("luzes", "SALA")
	require.True(t, ok)
	assert.Equal(t, "L1", gc.Data)
	assert.Equal(t, "Luz da sala", gc.TTS)

	gc, ok = inst.FindGroupCommand("Luzes", "Quarto")
	require.True(t, ok)
	assert.Equal(t, "L2", gc.Data, "unknown macro falls back to data")

	_, ok = inst.FindGroupCommand("Luzes", "Cozinha")
	assert.False(t, ok)

	// the stored groups are not modified by resolution
	assert.Empty(t, inst.vals.Groups[0].Commands[0].Data)
}
