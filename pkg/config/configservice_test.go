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
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestDiscoveryEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		enabled *bool
		name    string
		want    bool
	}{
		{name: "nil returns true (default enabled)", enabled: nil, want: true},
		{name: "true returns true", enabled: boolPtr(true), want: true},
		{name: "false returns false", enabled: boolPtr(false), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inst := &Instance{
				vals: Values{
					Service: Service{
						Discovery: Discovery{Enabled: tt.enabled},
					},
				},
			}

			assert.Equal(t, tt.want, inst.DiscoveryEnabled())
		})
	}
}

func TestAPIListen(t *testing.T) {
	t.Parallel()

	inst := &Instance{}
	assert.Equal(t, ":11080", inst.APIListen())
	assert.True(t, inst.APIEnabled())

	inst.vals.Service.APIListen = "127.0.0.1:8080"
	assert.Equal(t, "127.0.0.1:8080", inst.APIListen())
}

func TestAllowedIPs(t *testing.T) {
	t.Parallel()

	inst := &Instance{}
	assert.Empty(t, inst.AllowedIPs())

	inst.vals.Service.AllowedIPs = []string{"192.168.1.0/24"}
	assert.Equal(t, []string{"192.168.1.0/24"}, inst.AllowedIPs())
}
