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

// Package middleware holds the HTTP middleware of the control API.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RequestsPerMinute = 60
	BurstSize         = 10

	limiterMaxAge   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP. Every command posted
// to the API ends up on the serial line, so the limit is kept low.
type IPRateLimiter struct {
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	limit    rate.Limit
	burst    int
	mu       syncutil.Mutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(clock clockwork.Clock) *IPRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IPRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
		limit:    rate.Limit(float64(RequestsPerMinute) / 60.0),
		burst:    BurstSize,
	}
}

// Allow takes a token from the bucket of ip.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len is the number of tracked clients.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Cleanup forgets clients idle for longer than ten minutes.
func (rl *IPRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterMaxAge {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
}

// StartCleanup runs Cleanup periodically until ctx is cancelled.
func (rl *IPRateLimiter) StartCleanup(ctx context.Context) {
	ticker := rl.clock.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := ParseRemoteIP(r.RemoteAddr).String()
			if !limiter.Allow(host) {
				log.Warn().
					Str("ip", host).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("HTTP rate limit exceeded")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
