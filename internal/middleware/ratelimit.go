// Intervene is an interactive feedback relay for AI coding agents.
// Copyright (C) 2026 The Intervene Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"intervene/internal/metrics"
)

// Class identifies an endpoint's rate-limiting tier (spec §4.5: read
// endpoints get a generous rate, submit endpoints a stricter one, the
// test-notification endpoint the strictest).
type Class string

const (
	ClassGenerous  Class = "generous"
	ClassStrict    Class = "strict"
	ClassStrictest Class = "strictest"
)

// ClassLimits maps a Class to its sustained rate and burst size.
var ClassLimits = map[Class]struct {
	RatePerSecond rate.Limit
	Burst         int
}{
	ClassGenerous:  {RatePerSecond: 5, Burst: 20},
	ClassStrict:    {RatePerSecond: 1, Burst: 5},
	ClassStrictest: {RatePerSecond: 0.2, Burst: 1},
}

type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// RateLimiter enforces a per-client-IP, per-endpoint-class request budget
// using golang.org/x/time/rate (the token-bucket library already in the
// pack's go.mod), replacing the teacher's hand-rolled clientBucket.
type RateLimiter struct {
	clients *clientLimiters
	logger  *slog.Logger
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter constructs a RateLimiter and starts its stale-entry
// cleanup loop.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		clients: &clientLimiters{
			limiters: make(map[string]*rate.Limiter),
			lastSeen: make(map[string]time.Time),
		},
		logger: logger,
		stop:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Middleware returns an HTTP middleware enforcing the rate limit for the
// given endpoint class.
func (rl *RateLimiter) Middleware(class Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			if !rl.allow(clientIP, class) {
				rl.logger.Warn("rate limit exceeded", "client_ip", clientIP, "class", class, "path", r.URL.Path)
				metrics.IncRateLimitReject(string(class))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "5")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"status":  "error",
					"message": "too many requests, please slow down",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(clientIP string, class Class) bool {
	key := string(class) + "|" + clientIP

	rl.clients.mu.Lock()
	limiter, ok := rl.clients.limiters[key]
	if !ok {
		limits := ClassLimits[class]
		limiter = rate.NewLimiter(limits.RatePerSecond, limits.Burst)
		rl.clients.limiters[key] = limiter
	}
	rl.clients.lastSeen[key] = time.Now()
	rl.clients.mu.Unlock()

	return limiter.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	threshold := time.Now().Add(-10 * time.Minute)
	rl.clients.mu.Lock()
	defer rl.clients.mu.Unlock()
	for key, seen := range rl.clients.lastSeen {
		if seen.Before(threshold) {
			delete(rl.clients.limiters, key)
			delete(rl.clients.lastSeen, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// getClientIP extracts the client IP from r.RemoteAddr with its port
// stripped. It deliberately ignores X-Forwarded-For/X-Real-IP: this
// service has no documented trusted-proxy deployment, and keying the
// rate-limit bucket on a client-supplied header would let any direct
// caller pick a fresh bucket on every request just by varying it.
// AccessControl.parseRequestIP uses the same RemoteAddr-only derivation,
// so both middlewares agree on who "the client" is.
func getClientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
