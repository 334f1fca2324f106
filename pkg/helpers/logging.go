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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	logWriterMu syncutil.RWMutex
	logWriter   io.Writer = os.Stderr
)

// LogWriter returns the writer the global logger was set up with, so other
// outputs can be layered on top of it.
func LogWriter() io.Writer {
	logWriterMu.RLock()
	defer logWriterMu.RUnlock()
	return logWriter
}

// LogFilePath is the location of the rotating log file inside logDir.
func LogFilePath(logDir string) string {
	return filepath.Join(logDir, config.LogFile)
}

// InitLogging points the global logger at a rotating file in logDir, plus
// any extra writers given.
func InitLogging(logDir string, writers []io.Writer) error {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logWriters := []io.Writer{&lumberjack.Logger{
		Filename:   LogFilePath(logDir),
		MaxSize:    1,
		MaxBackups: 2,
	}}

	if len(writers) > 0 {
		logWriters = append(logWriters, writers...)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	w := io.MultiWriter(logWriters...)
	logWriterMu.Lock()
	logWriter = w
	logWriterMu.Unlock()

	log.Logger = log.Output(w).With().Timestamp().Caller().Logger()

	return nil
}
