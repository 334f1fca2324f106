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

package middleware

import (
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ParseRemoteIP parses the IP of an "ip:port" remote address. A bare IP is
// accepted too.
func ParseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// AllowList restricts API clients to a set of addresses and networks.
type AllowList struct {
	nets  []*net.IPNet
	addrs []net.IP
	open  bool
}

// NewAllowList parses IPs and CIDRs. Entries with a port have it stripped
// and invalid entries are skipped. No entries at all means every client is
// allowed.
func NewAllowList(entries []string) *AllowList {
	al := &AllowList{open: len(entries) == 0}
	for _, entry := range entries {
		if host, _, err := net.SplitHostPort(entry); err == nil {
			entry = host
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			al.nets = append(al.nets, network)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			al.addrs = append(al.addrs, ip)
			continue
		}
		log.Warn().Str("entry", entry).Msg("invalid IP or CIDR in allowed_ips, skipping")
	}
	return al
}

// Allows reports whether the client at remoteAddr may use the API.
// Loopback clients are always allowed so the local CLI keeps working.
func (al *AllowList) Allows(remoteAddr string) bool {
	if al.open {
		return true
	}
	ip := ParseRemoteIP(remoteAddr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, addr := range al.addrs {
		if ip.Equal(addr) {
			return true
		}
	}
	for _, network := range al.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func AllowListMiddleware(al *AllowList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !al.Allows(r.RemoteAddr) {
				log.Debug().
					Str("addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("request from address not in allow list")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
