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

// Package telemetry provides opt-in error reporting via Sentry.
// File paths are stripped of user names before transmission.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/helpers"
	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

var (
	mu           sync.Mutex
	enabled      bool
	sentryWriter *sentryzerolog.Writer

	homePathRe    = regexp.MustCompile(`(?i)/home/[^/]+/`)
	usersPathRe   = regexp.MustCompile(`(?i)/Users/[^/]+/`)
	windowsUserRe = regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`)
)

// Settings is the part of the config telemetry reads.
type Settings interface {
	TelemetryEnabled() bool
	TelemetryDSN() string
	TelemetryEnvironment() string
	DeviceID() string
}

// Init starts Sentry and tees error level log events to it. It does
// nothing unless reporting is enabled and a DSN is configured.
func Init(cfg Settings) error {
	if !cfg.TelemetryEnabled() {
		log.Debug().Msg("error reporting disabled")
		return nil
	}
	dsn := cfg.TelemetryDSN()
	if dsn == "" {
		return errors.New("error reporting enabled without a dsn")
	}

	mu.Lock()
	defer mu.Unlock()
	if enabled {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          config.AppName + "@" + config.AppVersion,
		Environment:      cfg.TelemetryEnvironment(),
		AttachStacktrace: true,
		SendDefaultPII:   false,
		MaxBreadcrumbs:   0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: cfg.DeviceID()})
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	sentryWriter, err = sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		helpers.LogWriter(),
		sentryWriter,
	)).With().Timestamp().Caller().Logger()

	enabled = true
	log.Info().Str("environment", cfg.TelemetryEnvironment()).Msg("error reporting enabled")
	return nil
}

// Close flushes pending events and shuts down Sentry. Safe to call more
// than once.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return
	}
	_ = sentryWriter.Close()
	sentry.Flush(flushTimeout)
	enabled = false
}

// Flush sends pending events. Call it before os.Exit.
func Flush() {
	if !Enabled() {
		return
	}
	sentry.Flush(flushTimeout)
}

func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	// the SDK fills in the hostname on its own
	event.ServerName = ""

	for i := range event.Exception {
		if event.Exception[i].Stacktrace == nil {
			continue
		}
		for j := range event.Exception[i].Stacktrace.Frames {
			frame := &event.Exception[i].Stacktrace.Frames[j]
			frame.AbsPath = sanitizePath(frame.AbsPath)
			frame.Filename = sanitizePath(frame.Filename)
		}
	}

	event.Message = sanitizePath(event.Message)

	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitizePath(s)
		}
	}

	return event
}

// sanitizePath removes user names from file paths.
func sanitizePath(path string) string {
	if path == "" {
		return path
	}

	result := homePathRe.ReplaceAllString(path, "/home/<user>/")
	result = usersPathRe.ReplaceAllString(result, "/Users/<user>/")
	result = windowsUserRe.ReplaceAllString(result, "C:\\Users\\<user>\\")

	return result
}
