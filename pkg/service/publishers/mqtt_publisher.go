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

// Package publishers forwards relay notifications to external systems.
package publishers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250
)

// retained methods describe state, so late subscribers get the last value.
var retained = map[string]bool{
	models.NotificationSwitch: true,
}

// MQTTPublisher publishes notifications to an MQTT broker. Each method goes
// to its own subtopic: "relay.dropped" on topic "casa" is published to
// "casa/relay/dropped".
type MQTTPublisher struct {
	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
	stopCh    chan struct{}
	done      chan struct{}
	broker    string
	topic     string
	filter    []string
	stopOnce  sync.Once
}

// NewMQTTPublisher creates a publisher. An empty filter publishes every
// notification; entries are method names or prefixes ending in ".*".
func NewMQTTPublisher(broker, topic string, filter []string) *MQTTPublisher {
	return &MQTTPublisher{
		newClient: mqtt.NewClient,
		broker:    broker,
		topic:     strings.TrimSuffix(topic, "/"),
		filter:    filter,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// brokerURL adds the tcp scheme to a bare host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Start connects to the broker and publishes notifications until Stop is
// called or the channel closes.
func (p *MQTTPublisher) Start(notifications <-chan models.Notification) error {
	if p.broker == "" || p.topic == "" {
		return errors.New("mqtt publisher needs a broker and a topic")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.broker))
	opts.SetClientID("casarelay-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", p.broker).Msg("mqtt publisher: connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", p.broker).Msg("mqtt publisher: connection lost")
	}

	client := p.newClient(opts)
	token := client.Connect()
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.broker, token.Error())
	}
	p.client = client

	log.Info().Str("broker", p.broker).Str("topic", p.topic).Msg("mqtt publisher: started")

	go p.publishNotifications(notifications)

	return nil
}

// Stop ends publishing and disconnects. It waits for the publish loop.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.client == nil {
			return
		}
		<-p.done
		if p.client.IsConnected() {
			log.Debug().Msg("mqtt publisher: disconnecting")
			p.client.Disconnect(disconnectQuiet)
		}
	})
}

// Topic returns the MQTT topic a notification method is published on.
func (p *MQTTPublisher) Topic(method string) string {
	return p.topic + "/" + strings.ReplaceAll(method, ".", "/")
}

func (p *MQTTPublisher) publishNotifications(notifications <-chan models.Notification) {
	defer close(p.done)

	for {
		select {
		case <-p.stopCh:
			log.Debug().Msg("mqtt publisher: stopping")
			return
		case n, ok := <-notifications:
			if !ok {
				log.Debug().Msg("mqtt publisher: notification channel closed")
				return
			}
			if !matchesFilter(p.filter, n.Method) {
				continue
			}
			if err := p.publish(n); err != nil {
				log.Error().Err(err).Str("method", n.Method).Msg("mqtt publisher: failed to publish")
			}
		}
	}
}

func (p *MQTTPublisher) publish(n models.Notification) error {
	payload, err := json.Marshal(models.Event{Method: n.Method, Params: n.Params})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := p.Topic(n.Method)
	token := p.client.Publish(topic, 0, retained[n.Method], payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log.Debug().Str("topic", topic).Msg("mqtt publisher: published notification")
	return nil
}

// matchesFilter reports whether method passes filter. An empty filter
// passes everything.
func matchesFilter(filter []string, method string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if prefix, ok := strings.CutSuffix(f, "*"); ok {
			if strings.HasPrefix(method, prefix) {
				return true
			}
			continue
		}
		if f == method {
			return true
		}
	}
	return false
}
