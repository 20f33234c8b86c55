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

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	queueDepth        *prometheus.GaugeVec
	taskResolution    *prometheus.HistogramVec
	notificationSends *prometheus.CounterVec
	rateLimitRejects  *prometheus.CounterVec
)

// Task resolution outcomes, used as the "outcome" label on taskResolution.
const (
	OutcomeHuman   = "human"
	OutcomeAuto    = "auto_resubmit"
	OutcomeTimeout = "timeout"
	OutcomeCancel  = "cancelled"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors. Primarily used by
// tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetQueueDepth records the current number of tasks in each status
// (pending/active/completed), per spec §4.2's Stats.
func SetQueueDepth(status string, n int) {
	label := sanitizeLabel(status, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if queueDepth != nil {
		queueDepth.WithLabelValues(label).Set(float64(n))
	}
}

// ObserveTaskResolution records how long a task spent from creation to
// completion, and by which outcome (human submit, auto-resubmit, overall
// timeout, or shutdown cancellation).
func ObserveTaskResolution(outcome string, d time.Duration) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if taskResolution != nil {
		taskResolution.WithLabelValues(label).Observe(durationSeconds(d))
	}
}

// IncNotificationSend records one notification fan-out attempt for the
// given transport (web/sound/system/bark) and outcome (sent/skipped/error).
func IncNotificationSend(transport, outcome string) {
	labelTransport := sanitizeLabel(transport, "unknown")
	labelOutcome := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if notificationSends != nil {
		notificationSends.WithLabelValues(labelTransport, labelOutcome).Inc()
	}
}

// IncRateLimitReject records one 429 rejection for the given endpoint class
// (generous/strict/strictest, per spec §4.5).
func IncRateLimitReject(class string) {
	label := sanitizeLabel(class, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if rateLimitRejects != nil {
		rateLimitRejects.WithLabelValues(label).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "intervene",
		Subsystem: "queue",
		Name:      "tasks",
		Help:      "Current number of tasks by status (pending, active, completed).",
	}, []string{"status"})

	resolution := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intervene",
		Subsystem: "queue",
		Name:      "task_resolution_seconds",
		Help:      "Time from task creation to completion, labeled by outcome.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"outcome"})

	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intervene",
		Subsystem: "notify",
		Name:      "sends_total",
		Help:      "Total notification fan-out attempts by transport and outcome.",
	}, []string{"transport", "outcome"})

	rejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intervene",
		Subsystem: "httpapi",
		Name:      "rate_limit_rejections_total",
		Help:      "Total requests rejected by the rate limiter, by endpoint class.",
	}, []string{"class"})

	registry.MustRegister(depth, resolution, sends, rejects)

	reg = registry
	queueDepth = depth
	taskResolution = resolution
	notificationSends = sends
	rateLimitRejects = rejects
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
