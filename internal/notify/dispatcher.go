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

// Package notify fans an emerging task out to every enabled transport
// (spec §4.6). One failing transport must never block or suppress the
// others, and send() must never block the queue or the RPC path.
//
// The worker shape — one buffered channel and one goroutine per transport,
// a bounded enqueue wait, and a WaitGroup that drains in-flight sends on
// shutdown — is grounded on other_examples's DarkKaiser-notify-server
// notifier-base.go Base type, adapted from a multi-notifier Telegram/Slack
// bot to this service's four built-in transports.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"intervene/pkg/feedback"
)

// Event is one fan-out request: a task became visible and should raise a
// human alert through every enabled transport.
type Event struct {
	ID      string
	TaskID  string
	Project string
	Prompt  string
}

// ConfigSource returns the current configuration snapshot. The dispatcher
// consults it fresh on every send, never caching it at construction or
// enqueue time, so a config change takes effect on the very next event
// (spec §4.6 — the "stale snapshot" defect this generalizes away from).
type ConfigSource func() *feedback.Config

const defaultEnqueueTimeout = 2 * time.Second
const defaultBufferSize = 32

// transportWorker is the common shape shared by every transport: a
// buffered request channel, a stop signal, and a WaitGroup tracking
// in-flight Send() calls so Close can drain them before returning.
type transportWorker struct {
	name           string
	requests       chan Event
	enqueueTimeout time.Duration
	pending        sync.WaitGroup
	done           chan struct{}
	closeOnce      sync.Once
}

func newTransportWorker(name string) *transportWorker {
	return &transportWorker{
		name:           name,
		requests:       make(chan Event, defaultBufferSize),
		enqueueTimeout: defaultEnqueueTimeout,
		done:           make(chan struct{}),
	}
}

func (w *transportWorker) enqueue(ev Event) bool {
	timer := time.NewTimer(w.enqueueTimeout)
	defer timer.Stop()
	select {
	case w.requests <- ev:
		return true
	case <-w.done:
		return false
	case <-timer.C:
		return false
	}
}

func (w *transportWorker) close() {
	w.closeOnce.Do(func() { close(w.done) })
}

// Dispatcher owns one transportWorker per built-in transport and the
// goroutines that drain them.
type Dispatcher struct {
	cfg    ConfigSource
	logger *slog.Logger

	web    *transportWorker
	sound  *transportWorker
	system *transportWorker
	bark   *transportWorker

	notifier Notifier
	barkHTTP *barkClient

	wg sync.WaitGroup
}

// New constructs a Dispatcher and starts its transport workers. notifier
// handles the platform system-notification transport; pass nil to use the
// logging-only default. The Bark HTTPS push always uses the package's own
// net/http client.
func New(cfg ConfigSource, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = loggingNotifier{logger: logger}
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		web:      newTransportWorker("web"),
		sound:    newTransportWorker("sound"),
		system:   newTransportWorker("system"),
		bark:     newTransportWorker("bark"),
		notifier: notifier,
		barkHTTP: newBarkClient(),
	}

	d.startWorker(d.web, d.sendWeb)
	d.startWorker(d.sound, d.sendSound)
	d.startWorker(d.system, d.sendSystem)
	d.startWorker(d.bark, d.sendBark)

	return d
}

func (d *Dispatcher) startWorker(w *transportWorker, send func(context.Context, Event)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case ev := <-w.requests:
				w.pending.Add(1)
				func() {
					defer w.pending.Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					send(ctx, ev)
				}()
			case <-w.done:
				// Drain whatever is already queued before exiting, mirroring
				// the teacher pattern's WaitForPendingSends drain-before-stop
				// discipline, bounded so shutdown cannot hang indefinitely.
				for {
					select {
					case ev := <-w.requests:
						w.pending.Add(1)
						func() {
							defer w.pending.Done()
							ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
							defer cancel()
							send(ctx, ev)
						}()
					default:
						return
					}
				}
			}
		}
	}()
}

// Send enqueues ev on every transport's worker. It returns immediately;
// delivery to each transport happens asynchronously and independently
// (spec §4.6: "send(event) returns immediately").
func (d *Dispatcher) Send(taskID, project, prompt string) {
	ev := Event{ID: uuid.NewString(), TaskID: taskID, Project: project, Prompt: prompt}

	for _, w := range []*transportWorker{d.web, d.sound, d.system, d.bark} {
		if !w.enqueue(ev) {
			d.logger.Warn("notification dropped: transport queue full or closed", "transport", w.name, "task_id", taskID)
		}
	}
}

// sendWeb is a no-op: the web toast transport is satisfied entirely by the
// polling UI observing the task via GET /api/config. The dispatcher's only
// obligation for this transport is that the task already be visible by the
// time it polls, which queue.Add guarantees synchronously before Send is
// ever called.
func (d *Dispatcher) sendWeb(ctx context.Context, ev Event) {
	cfg := d.cfg()
	if !cfg.Notification.Enabled || !cfg.Notification.WebEnabled {
		return
	}
}

// sendSound is likewise satisfied by the UI playing a bundled asset; the
// dispatcher only checks whether it's enabled and records nothing.
func (d *Dispatcher) sendSound(ctx context.Context, ev Event) {
	cfg := d.cfg()
	if !cfg.Notification.Enabled || !cfg.Notification.SoundEnabled || cfg.Notification.SoundMute {
		return
	}
}

func (d *Dispatcher) sendSystem(ctx context.Context, ev Event) {
	cfg := d.cfg()
	if !cfg.Notification.Enabled {
		return
	}
	title := "Feedback requested: " + ev.Project
	if err := d.notifier.Notify(ctx, title, ev.Prompt); err != nil {
		d.logger.Debug("system notification failed", "task_id", ev.TaskID, "error", err)
	}
}

func (d *Dispatcher) sendBark(ctx context.Context, ev Event) {
	cfg := d.cfg()
	if !cfg.Notification.Enabled || !cfg.Notification.BarkEnabled || cfg.Notification.BarkURL == "" {
		return
	}
	title := "Feedback requested: " + ev.Project
	if err := d.barkHTTP.push(ctx, cfg.Notification, title, ev.Prompt); err != nil {
		d.logger.Debug("bark push failed", "task_id", ev.TaskID, "error", err)
	}
}

// TestBark sends one ad hoc Bark push using caller-supplied parameters
// rather than the stored config, for POST /api/test-bark (spec §4.5): the
// server mediates the probe so the browser never needs third-party CORS
// access to the user's Bark endpoint.
func (d *Dispatcher) TestBark(ctx context.Context, cfg feedback.NotificationConfig, title, body string) error {
	return d.barkHTTP.push(ctx, cfg, title, body)
}

// Close signals every worker to stop accepting new drains after flushing
// queued events, and waits for all worker goroutines to exit.
func (d *Dispatcher) Close() {
	for _, w := range []*transportWorker{d.web, d.sound, d.system, d.bark} {
		w.close()
	}
	d.wg.Wait()
}
