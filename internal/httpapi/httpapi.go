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

// Package httpapi is the REST surface of spec §4.5: the queue, config
// store, and notification dispatcher as seen by the bundled web UI (and
// by curl). Routing is on github.com/go-chi/chi/v5, adopted from the rest
// of the example pack's go.mod, because spec.md needs path parameters
// (/api/tasks/{id}/activate, /api/tasks/{id}/submit) that chi expresses
// directly where the teacher's own internal/provisioner/api/http.go only
// expresses them with manual prefix-trimming on a raw http.ServeMux.
// Handler shape (one method per route, a small JSON envelope helper, a
// not-found/server-error mapping helper) otherwise follows that file.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"intervene/internal/config"
	intmw "intervene/internal/middleware"
	"intervene/internal/metrics"
	"intervene/internal/notify"
	"intervene/internal/queue"
	"intervene/internal/rendezvous"
	"intervene/internal/scheduler"
	"intervene/pkg/feedback"
)

// SubmitFunc completes a task: it is the same submit-then-deliver closure
// handed to scheduler.New, reused here so a human's HTTP submission and
// an auto-resubmit firing go through identical completion logic (queue
// submit, scheduler disarm, rendezvous deliver).
type SubmitFunc func(taskID string, result feedback.Result) error

// API holds every collaborator the REST surface calls into. Construct
// with New and mount with Router.
type API struct {
	Queue      *queue.Queue
	Rendezvous *rendezvous.Registry
	Scheduler  *scheduler.Scheduler
	Config     *config.Store
	Notify     *notify.Dispatcher
	Submit     SubmitFunc
	Logger     *slog.Logger

	startedAt   time.Time
	now         func() time.Time
	rateLimiter *intmw.RateLimiter
}

// Close stops background resources started by Router (currently the rate
// limiter's stale-entry sweep). Safe to call even if Router was never
// called.
func (a *API) Close() {
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
}

// New constructs an API. All fields are required except Logger, which
// defaults to slog.Default().
func New(q *queue.Queue, r *rendezvous.Registry, sched *scheduler.Scheduler, store *config.Store, dispatcher *notify.Dispatcher, submit SubmitFunc, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		Queue:      q,
		Rendezvous: r,
		Scheduler:  sched,
		Config:     store,
		Notify:     dispatcher,
		Submit:     submit,
		Logger:     logger,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// Router builds the chi.Mux for the whole surface: this project's own
// uuid-backed RequestID middleware, chi's panic recovery, then the
// SecurityHeaders/AccessControl/RateLimiter chain, then the route table
// of spec §4.5 with a rate-limit class per endpoint. /metrics is mounted
// unthrottled alongside /api/health, exposing the same Prometheus registry
// internal/metrics instruments throughout the queue, scheduler, and entry
// packages.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(intmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(intmw.SecurityHeaders(intmw.DefaultSecurityHeadersConfig()))

	ac := intmw.NewAccessControl(func() feedback.NetworkSecurityConfig {
		return a.Config.Snapshot().NetworkSecurity
	}, a.Logger)
	r.Use(ac.Middleware)

	rl := intmw.NewRateLimiter(a.Logger)
	a.rateLimiter = rl

	r.Get("/api/health", a.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.With(rl.Middleware(intmw.ClassGenerous)).Get("/api/config", a.handleGetConfig)
	r.With(rl.Middleware(intmw.ClassGenerous)).Get("/api/tasks", a.handleListTasks)
	r.With(rl.Middleware(intmw.ClassGenerous)).Get("/api/tasks/{id}", a.handleGetTask)
	r.With(rl.Middleware(intmw.ClassGenerous)).Get("/api/get-notification-config", a.handleGetNotificationConfig)
	r.With(rl.Middleware(intmw.ClassGenerous)).Get("/api/get-feedback-prompts", a.handleGetFeedbackPrompts)

	r.With(rl.Middleware(intmw.ClassStrict)).Post("/api/tasks/{id}/activate", a.handleActivateTask)
	r.With(rl.Middleware(intmw.ClassStrict)).Post("/api/submit", a.handleSubmitActive)
	r.With(rl.Middleware(intmw.ClassStrict)).Post("/api/tasks/{id}/submit", a.handleSubmitByID)
	r.With(rl.Middleware(intmw.ClassStrict)).Post("/api/close", a.handleClose)
	r.With(rl.Middleware(intmw.ClassStrict)).Post("/api/update-notification-config", a.handleUpdateNotificationConfig)

	r.With(rl.Middleware(intmw.ClassStrictest)).Post("/api/test-bark", a.handleTestBark)

	return r
}
