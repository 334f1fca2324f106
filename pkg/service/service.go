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

// Package service wires the relay together: the serial device, the relay
// socket, the selector, speech, notifications and the optional network
// surfaces around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"

	"github.com/dptucunduva/casa/pkg/actuator"
	"github.com/dptucunduva/casa/pkg/api"
	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/audio"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/cycler"
	"github.com/dptucunduva/casa/pkg/helpers"
	"github.com/dptucunduva/casa/pkg/helpers/command"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/dptucunduva/casa/pkg/relay"
	"github.com/dptucunduva/casa/pkg/service/broker"
	"github.com/dptucunduva/casa/pkg/service/discovery"
	"github.com/dptucunduva/casa/pkg/service/publishers"
	"github.com/dptucunduva/casa/pkg/speech"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const notificationBuffer = 100

// Alerter plays the audible alert.
type Alerter interface {
	Beep()
	Stop()
}

// Deps are the parts of the service that talk to hardware or the OS.
// Zero values pick the real implementations.
type Deps struct {
	Clock     clockwork.Clock
	Executor  command.Executor
	Picker    protocol.Picker
	Alerter   Alerter
	Speaker   speech.Speaker
	SerialOpt actuator.Options
	// Discover finds and opens the device.
	Discover func(ctx context.Context, opts actuator.Options) (*actuator.Port, error)
	// MacrosDir overrides the default macros directory.
	MacrosDir string
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Executor == nil {
		d.Executor = &command.RealExecutor{}
	}
	if d.Picker == nil {
		d.Picker = protocol.DefaultPicker
	}
	if d.Discover == nil {
		d.Discover = actuator.Discover
	}
	if d.MacrosDir == "" {
		d.MacrosDir = helpers.MacrosDir()
	}
	return d
}

type runtime struct {
	cancel     context.CancelFunc
	stopBroker context.CancelFunc
	port       *actuator.Port
	relay      *relay.Server
	cycler     *cycler.Cycler
	broker     *broker.Broker
	api        *api.Server
	discovery  *discovery.Service
	speaker    speech.Speaker
	alerter    Alerter
	publishers []*publishers.MQTTPublisher
}

func loadMacros(cfg *config.Instance, dir string) {
	log.Info().Str("dir", dir).Msg("loading macro files")
	err := cfg.LoadMacros(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("dir", dir).Msg("no macros directory")
	case err != nil:
		log.Error().Err(err).Msg("error loading macro files")
	}
}

func makeSpeaker(cfg *config.Instance, exec command.Executor) speech.Speaker {
	if !cfg.SpeechEnabled() {
		log.Info().Msg("speech disabled")
		return speech.NopSpeaker{}
	}
	sp, err := speech.NewCommandSpeaker(exec, cfg.SpeechCommand())
	if err != nil {
		log.Error().Err(err).Msg("error starting speech synthesizer, speech disabled")
		return speech.NopSpeaker{}
	}
	return sp
}

func alertSoundPath(cfg *config.Instance) string {
	p := cfg.AlertSound()
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(helpers.DataDir(), p)
}

// Start brings the relay up. The returned stop function shuts everything
// down in order and may be called once; done is closed when shutdown has
// finished, whether through stop or because ctx was cancelled.
func Start(
	ctx context.Context,
	cfg *config.Instance,
	deps Deps,
) (stop func() error, done <-chan struct{}, err error) {
	deps = deps.withDefaults()
	log.Info().Msgf("version: %s", config.AppVersion)

	loadMacros(cfg, deps.MacrosDir)

	ctx, cancel := context.WithCancel(ctx)
	rt := &runtime{cancel: cancel}
	defer func() {
		if err != nil {
			rt.shutdown()
		}
	}()

	// the broker outlives ctx so shutdown notifications still go out
	ns := make(chan models.Notification, notificationBuffer)
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	rt.stopBroker = stopBroker
	rt.broker = broker.NewBroker(brokerCtx, ns)
	rt.broker.Start()

	log.Info().Msg("looking for the device")
	serialOpts := deps.SerialOpt
	serialOpts.Clock = deps.Clock
	if serialOpts.Path == "" {
		serialOpts.Path = cfg.SerialPort()
	}
	if serialOpts.BaudRate == 0 {
		serialOpts.BaudRate = cfg.SerialBaudRate()
	}
	if serialOpts.SettleDelay == 0 {
		serialOpts.SettleDelay = cfg.SerialSettleDelay()
	}
	rt.port, err = deps.Discover(ctx, serialOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("device not found: %w", err)
	}
	log.Info().Str("path", rt.port.Path()).Msg("device found")

	rt.speaker = deps.Speaker
	if rt.speaker == nil {
		rt.speaker = makeSpeaker(cfg, deps.Executor)
	}
	rt.alerter = deps.Alerter
	if rt.alerter == nil {
		rt.alerter = audio.NewMalgoPlayer(alertSoundPath(cfg))
	}

	rt.relay, err = relay.NewServer(relay.Options{
		Device:        rt.port,
		Macros:        cfg,
		Speaker:       rt.speaker,
		Alerter:       rt.alerter,
		Clock:         deps.Clock,
		Notifications: ns,
		Picker:        deps.Picker,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error creating relay: %w", err)
	}
	log.Info().Str("addr", cfg.RelayAddress()).Msg("starting relay")
	if err = rt.relay.Listen(cfg.RelayAddress()); err != nil {
		return nil, nil, fmt.Errorf("error starting relay: %w", err)
	}

	relayAddr := rt.relay.Addr().String()
	sender := relay.NewSender(relayAddr, cfg.SenderActivation())

	rt.cycler = cycler.New(cycler.Options{
		Submitter:     sender,
		Speaker:       rt.speaker,
		Clock:         deps.Clock,
		Notifications: ns,
		Groups:        cfg.Groups,
		Picker:        deps.Picker,
		StartCommand:  cfg.CyclerStartCommand(),
		FinishCommand: cfg.CyclerFinishCommand(),
		SourceDelay:   cfg.CyclerSourceDelay(),
		Interval:      cfg.CyclerInterval(),
	})
	rt.port.SetHandler(NewDeviceEvents(rt.cycler, rt.speaker, cfg, ns))

	startRecognizer(ctx, cfg, deps.Executor)

	log.Info().Msg("starting publishers")
	rt.publishers = startPublishers(cfg, rt.broker)

	if cfg.DiscoveryEnabled() {
		log.Info().Msg("starting mDNS discovery service")
		rt.discovery = discovery.New(discovery.Options{
			Clock:        deps.Clock,
			InstanceName: cfg.DiscoveryInstanceName(),
			DeviceID:     cfg.DeviceID(),
			DevicePort:   rt.port.Path(),
			RelayPort:    relayPort(rt.relay.Addr(), cfg.RelayPort()),
			APIPort:      apiPort(cfg),
		})
		if discoveryErr := rt.discovery.Start(); discoveryErr != nil {
			log.Error().Err(discoveryErr).Msg("mDNS discovery failed to start (continuing without discovery)")
		}
	}

	if cfg.APIEnabled() {
		log.Info().Msg("starting API service")
		apiNotifications, _ := rt.broker.Subscribe(notificationBuffer)
		rt.api, err = api.NewServer(api.Options{
			Submitter:      sender,
			Relay:          rt.relay,
			Cycler:         rt.cycler,
			Catalog:        cfg,
			Notifications:  apiNotifications,
			Clock:          deps.Clock,
			Picker:         deps.Picker,
			Listen:         cfg.APIListen(),
			RelayAddress:   relayAddr,
			DevicePort:     rt.port.Path(),
			AllowedOrigins: cfg.AllowedOrigins(),
			AllowedIPs:     cfg.AllowedIPs(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("error creating API server: %w", err)
		}
		if err = rt.api.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("error starting API server: %w", err)
		}
	}

	log.Info().Msg("service fully initialized")

	doneCh := make(chan struct{})
	var stopErr error
	go func() {
		<-ctx.Done()
		log.Info().Msg("service context cancelled, running cleanup")
		stopErr = rt.shutdown()
		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return stopErr
	}
	return stop, doneCh, nil
}

func relayPort(addr net.Addr, def int) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return def
}

func apiPort(cfg *config.Instance) int {
	if !cfg.APIEnabled() {
		return 0
	}
	return cfg.APIPort()
}

func startRecognizer(ctx context.Context, cfg *config.Instance, exec command.Executor) {
	exited, err := speech.StartRecognizer(ctx, exec, cfg.RecognizerCommand(), cfg.RecognizerDir())
	switch {
	case errors.Is(err, speech.ErrNoRecognizer):
		log.Debug().Msg("no voice recognizer configured")
	case err != nil:
		log.Error().Err(err).Msg("error starting voice recognizer")
	default:
		go func() { <-exited }()
	}
}

// shutdown stops the network surfaces first, then the selector so its
// finish command still reaches the device, then the relay, and the device
// last. Device events are detached up front so a button press cannot
// restart the selector once it has stopped.
func (rt *runtime) shutdown() error {
	var errs []error

	if rt.port != nil {
		rt.port.SetHandler(nil)
	}

	if rt.api != nil {
		if err := rt.api.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.discovery != nil {
		rt.discovery.Stop()
	}
	if rt.cycler != nil {
		rt.cycler.Stop()
	}
	if rt.relay != nil {
		if err := rt.relay.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("error stopping relay: %w", err))
		}
	}

	var g errgroup.Group
	for _, p := range rt.publishers {
		g.Go(func() error {
			p.Stop()
			return nil
		})
	}
	if closer, ok := rt.speaker.(interface{ Close() }); ok {
		g.Go(func() error {
			closer.Close()
			return nil
		})
	}
	if rt.alerter != nil {
		g.Go(func() error {
			rt.alerter.Stop()
			return nil
		})
	}
	_ = g.Wait()

	rt.cancel()
	if rt.broker != nil {
		rt.stopBroker()
		<-rt.broker.Done()
	}

	if rt.port != nil {
		if err := rt.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing device: %w", err))
		}
	}
	return errors.Join(errs...)
}

// startPublishers starts every enabled MQTT publisher on its own broker
// subscription.
func startPublishers(cfg *config.Instance, b *broker.Broker) []*publishers.MQTTPublisher {
	var active []*publishers.MQTTPublisher
	for _, mqttCfg := range cfg.GetMQTTPublishers() {
		if mqttCfg.Enabled != nil && !*mqttCfg.Enabled {
			continue
		}
		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, mqttCfg.Topic)

		sub, id := b.Subscribe(notificationBuffer)
		publisher := publishers.NewMQTTPublisher(mqttCfg.Broker, mqttCfg.Topic, mqttCfg.Filter)
		if err := publisher.Start(sub); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
			b.Unsubscribe(id)
			continue
		}
		active = append(active, publisher)
	}
	if len(active) > 0 {
		log.Info().Msgf("started %d MQTT publisher(s)", len(active))
	}
	return active
}
