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

// Package discovery advertises the relay socket over mDNS so voice
// controllers on the LAN can find it without a configured address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type of the relay.
const ServiceType = "_casa-relay._tcp"

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
	fallbackName     = "casarelay"
)

// virtualInterfacePrefixes are container and VPN interfaces nobody on the
// LAN can reach the relay through.
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

type shutdowner interface {
	Shutdown()
}

type registerFunc func(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (shutdowner, error)

func zeroconfRegister(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (shutdowner, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, fmt.Errorf("zeroconf register: %w", err)
	}
	return server, nil
}

// Options describes what is advertised.
type Options struct {
	Clock        clockwork.Clock
	InstanceName string
	DeviceID     string
	DevicePort   string
	RelayPort    int
	// APIPort is advertised when non-zero.
	APIPort int
}

func getPreferredInterfaces() ([]net.Interface, error) {
	allIfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return filterInterfaces(allIfaces), nil
}

// filterInterfaces keeps interfaces that are up, multicast capable, not
// loopback and not virtual.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		switch {
		case iface.Flags&net.FlagUp == 0,
			iface.Flags&net.FlagLoopback != 0,
			iface.Flags&net.FlagMulticast == 0,
			isVirtualInterface(iface.Name):
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lowerName := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lowerName, prefix) {
			return true
		}
	}
	return false
}

// Service advertises the relay until stopped.
type Service struct {
	server       shutdowner
	register     registerFunc
	interfaces   func() ([]net.Interface, error)
	cancelFunc   context.CancelFunc
	retryDone    chan struct{}
	opts         Options
	instanceName string
	mu           syncutil.Mutex
	stopped      bool
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Service{
		opts:       opts,
		register:   zeroconfRegister,
		interfaces: getPreferredInterfaces,
	}
}

// Start registers the service. If the network isn't ready yet it keeps
// retrying in the background for a while and returns nil.
func (s *Service) Start() error {
	if s.opts.RelayPort <= 0 {
		return fmt.Errorf("invalid relay port %d", s.opts.RelayPort)
	}
	s.instanceName = ResolveInstanceName(s.opts.InstanceName, s.opts.DeviceID, os.Hostname)

	if s.tryRegister() {
		return nil
	}

	log.Info().
		Dur("retryInterval", retryInterval).
		Dur("maxDuration", maxRetryDuration).
		Msg("mDNS registration failed, retrying in background")

	ctx, cancel := context.WithTimeout(context.Background(), maxRetryDuration)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancelFunc = cancel
	s.retryDone = make(chan struct{})
	done := s.retryDone
	s.mu.Unlock()

	go s.retryLoop(ctx, done)
	return nil
}

// TXTRecords are the key=value pairs advertised with the service.
func (s *Service) TXTRecords() []string {
	txt := []string{
		"id=" + s.opts.DeviceID,
		"version=" + config.AppVersion,
	}
	if s.opts.DevicePort != "" {
		txt = append(txt, "device="+s.opts.DevicePort)
	}
	if s.opts.APIPort > 0 {
		txt = append(txt, "api="+strconv.Itoa(s.opts.APIPort))
	}
	return txt
}

func (s *Service) tryRegister() bool {
	ifaces, err := s.interfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to get network interfaces")
		return false
	}
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces found for mDNS")
		return false
	}

	ifaceNames := make([]string, len(ifaces))
	for i, iface := range ifaces {
		ifaceNames[i] = iface.Name
	}

	server, err := s.register(s.instanceName, ServiceType, "local.", s.opts.RelayPort, s.TXTRecords(), ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS registration attempt failed")
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		server.Shutdown()
		return false
	}
	s.server = server
	s.mu.Unlock()

	log.Info().
		Str("instance", s.instanceName).
		Int("port", s.opts.RelayPort).
		Str("type", ServiceType).
		Strs("interfaces", ifaceNames).
		Msg("mDNS service advertising started")
	return true
}

func (s *Service) retryLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.opts.Clock.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if s.tryRegister() {
				log.Info().Msg("mDNS registration succeeded after retry")
				return
			}
		case <-ctx.Done():
			if s.Advertising() {
				return
			}
			log.Warn().Msg("mDNS registration retry ended, discovery will not be available")
			return
		}
	}
}

// Advertising reports whether the service is currently registered.
func (s *Service) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancelFunc, s.retryDone
	s.cancelFunc = nil
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if server != nil {
		log.Debug().Msg("stopping mDNS service advertising")
		server.Shutdown()
	}
}

// InstanceName is the advertised name, empty before Start.
func (s *Service) InstanceName() string {
	return s.instanceName
}

// ResolveInstanceName picks the configured name, then the host name, then
// a name derived from the device ID.
func ResolveInstanceName(configured, deviceID string, hostname func() (string, error)) string {
	if configured != "" {
		return configured
	}
	name, err := hostname()
	if err == nil && name != "" {
		return name
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to get hostname, using fallback")
	}
	if len(deviceID) >= 8 {
		return fallbackName + "-" + deviceID[:8]
	}
	return fallbackName
}
