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

// Package scheduler guarantees that every task with a positive
// auto-resubmit timeout transitions to completed no later than its
// deadline, even if no human ever responds (spec §4.4).
//
// One logical timer per armed task, held in a map guarded by a mutex —
// the same map-of-timers shape the teacher uses for lease-extension
// bookkeeping in its job worker, adapted from lease renewal to one-shot
// deadline firing.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"intervene/pkg/feedback"
)

// SubmitFunc performs the queue submission for an auto-resubmit firing.
// It returns an error iff the submit was rejected (e.g. a concurrent
// human submission already completed the task), in which case the
// firing is a no-op. On success it is responsible for waking the
// rendezvous registry itself, keeping this package ignorant of both
// the queue's and the registry's concrete types.
type SubmitFunc func(taskID string, result feedback.Result) error

// ResubmitText returns the current feedback.resubmit_prompt. It is
// called at fire time, not at arm time, so a config reload between
// arming and firing is honored — mirroring how internal/config expects
// every consumer to re-read the snapshot on demand rather than cache it.
type ResubmitText func() string

// Scheduler manages one time.Timer per armed task.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	submit SubmitFunc
	text   ResubmitText
	logger *slog.Logger
}

// New constructs a Scheduler. submit performs the auto-resubmit's queue
// call and rendezvous wake-up on success; text supplies the current
// resubmit-prompt string at fire time.
func New(submit SubmitFunc, text ResubmitText, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		submit: submit,
		text:   text,
		logger: logger,
	}
}

// Arm schedules taskID to auto-resubmit when deadline elapses. Arming a
// task that is already armed replaces the previous timer (idempotent per
// spec §4.4).
func (s *Scheduler) Arm(taskID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}

	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	s.timers[taskID] = time.AfterFunc(delay, func() { s.fire(taskID) })
}

// Disarm cancels the timer for taskID, if any. Called on successful
// human submission, on eviction, and on process shutdown.
func (s *Scheduler) Disarm(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[taskID]; ok {
		t.Stop()
		delete(s.timers, taskID)
	}
}

// Stop disarms every outstanding timer. Called on process shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(taskID string) {
	s.mu.Lock()
	delete(s.timers, taskID)
	s.mu.Unlock()

	result := feedback.Result{
		Text:            s.text(),
		AutoResubmitted: true,
	}

	if err := s.submit(taskID, result); err != nil {
		// The queue rejected the submit: a concurrent human submission
		// won the race. The timer firing is a no-op, per spec §4.4.
		s.logger.Debug("auto-resubmit lost race with human submission", "task_id", taskID, "error", err)
	}
}
