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

// Package audio plays the relay's audible alert through malgo.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/gen2brain/malgo"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"
)

const (
	OutputSampleRate = beep.SampleRate(48000)

	DefaultToneFrequency = 880.0
	DefaultToneDuration  = 300 * time.Millisecond

	toneVolume = 0.5
)

// Output plays s until it is drained or ctx is cancelled.
type Output func(ctx context.Context, s beep.Streamer) error

// Player plays the alert. Every call returns as soon as playback has
// started; starting a new sound cancels the one playing.
type Player struct {
	output        Output
	currentCancel context.CancelFunc
	fileCache     map[string][]byte
	alertSound    string
	playing       sync.WaitGroup
	playbackGen   uint64
	fileCacheMu   syncutil.RWMutex
	playbackMu    syncutil.Mutex
}

// NewMalgoPlayer returns a Player for the default audio device. An empty
// alertSound makes Beep play a generated tone.
func NewMalgoPlayer(alertSound string) *Player {
	return NewPlayer(alertSound, playWithMalgo)
}

func NewPlayer(alertSound string, out Output) *Player {
	return &Player{
		output:     out,
		alertSound: alertSound,
		fileCache:  make(map[string][]byte),
	}
}

// Beep plays the configured alert sound. A sound file that can't be played
// falls back to the tone. Errors are logged.
func (p *Player) Beep() {
	if p.alertSound != "" {
		err := p.PlayFile(p.alertSound)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("path", p.alertSound).Msg("failed to play alert sound, using tone")
	}
	if err := p.PlayTone(DefaultToneFrequency, DefaultToneDuration); err != nil {
		log.Warn().Err(err).Msg("failed to play alert tone")
	}
}

// PlayTone plays a sine wave of freq Hz for d.
func (p *Player) PlayTone(freq float64, d time.Duration) error {
	tone, err := Tone(OutputSampleRate, freq, d)
	if err != nil {
		return err
	}
	p.play(tone, nil, "tone")
	return nil
}

// PlayWAVBytes plays WAV audio from a byte slice.
func (p *Player) PlayWAVBytes(data []byte) error {
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode WAV stream: %w", err)
	}
	p.play(beep.Resample(4, format.SampleRate, OutputSampleRate, streamer), streamer, "wav")
	return nil
}

// PlayFile plays an audio file, detecting the format by extension. WAV,
// MP3, OGG (Vorbis) and FLAC are supported.
func (p *Player) PlayFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return fmt.Errorf("unsupported audio format: %s (supported: .wav, .mp3, .ogg, .flac)", ext)
	}

	data, err := p.readFileWithCache(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	streamer, format, err := decode(ext, data)
	if err != nil {
		return fmt.Errorf("failed to decode audio file: %w", err)
	}

	p.play(beep.Resample(4, format.SampleRate, OutputSampleRate, streamer), streamer, path)
	return nil
}

// Wait blocks until nothing is playing.
func (p *Player) Wait() {
	p.playing.Wait()
}

// Stop cancels the sound playing, if any.
func (p *Player) Stop() {
	p.playbackMu.Lock()
	defer p.playbackMu.Unlock()
	if p.currentCancel != nil {
		p.currentCancel()
		p.currentCancel = nil
	}
}

// ClearFileCache forces the next PlayFile calls to read from disk again.
func (p *Player) ClearFileCache() {
	p.fileCacheMu.Lock()
	defer p.fileCacheMu.Unlock()
	p.fileCache = make(map[string][]byte)
}

// Supported reports whether ext (with its dot) is a playable file type.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".wav", ".mp3", ".ogg", ".flac":
		return true
	default:
		return false
	}
}

func decode(ext string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch ext {
	case ".wav":
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	case ".mp3":
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case ".ogg":
		streamer, format, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	case ".flac":
		streamer, format, err = flac.Decode(bytes.NewReader(data))
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format: %s", ext)
	}
	if err != nil {
		return nil, beep.Format{}, err //nolint:wrapcheck // wrapped by caller
	}
	return streamer, format, nil
}

// Tone returns a sine wave of freq Hz lasting d at sample rate sr.
func Tone(sr beep.SampleRate, freq float64, d time.Duration) (beep.Streamer, error) {
	if freq <= 0 || freq >= float64(sr)/2 {
		return nil, fmt.Errorf("tone frequency %.1f Hz out of range for %d Hz", freq, int(sr))
	}
	if d <= 0 {
		return nil, errors.New("tone duration must be positive")
	}

	step := freq / float64(sr)
	var phase float64
	sine := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := math.Sin(2*math.Pi*phase) * toneVolume
			samples[i][0], samples[i][1] = v, v
			_, phase = math.Modf(phase + step)
		}
		return len(samples), true
	})
	return beep.Take(sr.N(d), sine), nil
}

func (p *Player) play(s beep.Streamer, closer beep.StreamCloser, name string) {
	p.playbackMu.Lock()
	if p.currentCancel != nil {
		p.currentCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.currentCancel = cancel
	p.playbackGen++
	thisGen := p.playbackGen
	p.playing.Add(1)
	p.playbackMu.Unlock()

	go func() {
		defer p.playing.Done()
		defer func() {
			if closer != nil {
				if err := closer.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close audio streamer")
				}
			}
			p.playbackMu.Lock()
			if p.playbackGen == thisGen {
				p.currentCancel = nil
			}
			p.playbackMu.Unlock()
			cancel()
		}()

		if err := p.output(ctx, s); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("sound", name).Msg("failed to play audio")
			}
			return
		}

		log.Debug().Str("sound", name).Msg("completed audio playback")
	}()
}

// readFileWithCache keeps alert files in memory after the first read.
func (p *Player) readFileWithCache(path string) ([]byte, error) {
	p.fileCacheMu.RLock()
	if cached, ok := p.fileCache[path]; ok {
		p.fileCacheMu.RUnlock()
		return cached, nil
	}
	p.fileCacheMu.RUnlock()

	//nolint:gosec // G304: path comes from the user's own config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	p.fileCacheMu.Lock()
	p.fileCache[path] = data
	p.fileCacheMu.Unlock()

	return data, nil
}

// playWithMalgo plays samples on the default output device, blocking until
// they run out or ctx is cancelled.
func playWithMalgo(ctx context.Context, streamer beep.Streamer) error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	if malgoCtx == nil {
		return errors.New("malgo context is nil after initialization")
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	// F32 avoids the S16->S32 conversion bug in miniaudio on PulseAudio
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 2
	deviceConfig.SampleRate = uint32(OutputSampleRate)
	deviceConfig.Alsa.NoMMap = 1

	done := make(chan struct{})

	var (
		mu       syncutil.Mutex
		finished bool
		samples  [][2]float64
	)

	onSamples := func(pOutputSample, _ []byte, frameCount uint32) {
		mu.Lock()
		defer mu.Unlock()

		if finished {
			return
		}

		select {
		case <-ctx.Done():
			finished = true
			close(done)
			return
		default:
		}

		if len(samples) < int(frameCount) {
			samples = make([][2]float64, frameCount)
		}

		n, ok := streamer.Stream(samples[:frameCount])
		if !ok || n == 0 {
			finished = true
			close(done)
			return
		}

		offset := 0
		for i := range n {
			binary.LittleEndian.PutUint32(pOutputSample[offset:], math.Float32bits(float32(samples[i][0])))
			offset += 4
			binary.LittleEndian.PutUint32(pOutputSample[offset:], math.Float32bits(float32(samples[i][1])))
			offset += 4
		}

		for i := offset; i < len(pOutputSample); i++ {
			pOutputSample[i] = 0
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		finished = true
		mu.Unlock()
	}

	if err := device.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop audio device")
	}

	return ctx.Err() //nolint:wrapcheck // context.Canceled is matched by the caller
}
