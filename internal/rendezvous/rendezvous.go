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

// Package rendezvous gives a blocking RPC caller for task T a one-shot
// synchronous hand-off of T's submitted result. It knows nothing about
// config, notifications, or HTTP — it is a pure synchronization
// primitive (spec §4.3).
package rendezvous

import (
	"context"
	"sync"

	"intervene/pkg/feedback"
)

// Outcome is what Wait returns: exactly one of a delivered result, a
// timeout, or a cancellation.
type Outcome struct {
	Result    feedback.Result
	TimedOut  bool
	Cancelled bool
}

// Slot is the one-shot wake-up handle returned by Register.
type Slot struct {
	taskID string
	ch     chan feedback.Result
}

// Registry holds one Slot per in-flight task.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{slots: make(map[string]*Slot)}
}

// Register creates a fresh, empty slot for taskID. Calling it again for
// the same taskID before the first slot is consumed returns the existing
// slot (idempotent per spec §4.3).
func (r *Registry) Register(taskID string) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[taskID]; ok {
		return s
	}
	s := &Slot{taskID: taskID, ch: make(chan feedback.Result, 1)}
	r.slots[taskID] = s
	return s
}

// Wait blocks until the slot is filled, ctx is done, or overall deadline
// handling performed by the caller via ctx elapses.
func (r *Registry) Wait(ctx context.Context, s *Slot) Outcome {
	select {
	case res := <-s.ch:
		r.forget(s.taskID)
		if res.Cancelled {
			return Outcome{Cancelled: true}
		}
		return Outcome{Result: res}
	case <-ctx.Done():
		r.forget(s.taskID)
		if ctx.Err() == context.DeadlineExceeded {
			return Outcome{TimedOut: true}
		}
		return Outcome{Cancelled: true}
	}
}

// Deliver fills the slot for taskID if it exists and is still empty. Safe
// to call concurrently with Wait, and safe to call twice: the second
// deliverer (typically the auto-resubmit scheduler racing a human
// submission) is a silent no-op, per spec §4.3 and §5.
func (r *Registry) Deliver(taskID string, result feedback.Result) {
	r.mu.Lock()
	s, ok := r.slots[taskID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.ch <- result:
	default:
	}
}

// Cancel wakes the waiter for taskID with a cancellation outcome, used on
// process shutdown. A no-op if there is no registered slot.
func (r *Registry) Cancel(taskID string) {
	r.mu.Lock()
	s, ok := r.slots[taskID]
	if ok {
		delete(r.slots, taskID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.ch <- feedback.Result{Cancelled: true}:
	default:
	}
}

// CancelAll wakes every outstanding waiter with a cancellation outcome.
// Used on process shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Cancel(id)
	}
}

func (r *Registry) forget(taskID string) {
	r.mu.Lock()
	delete(r.slots, taskID)
	r.mu.Unlock()
}
