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

// Package queue owns all in-flight feedback.Task objects: it generates
// identifiers, enforces the at-most-one-active invariant, and provides
// indexed lookup plus stable-order listing. See spec §4.2.
//
// The internal discipline mirrors the teacher's persistence layer: a
// single mutex guards the map, every read returns a copy, and no lock is
// ever held across I/O (there is none here — the queue is pure
// in-memory bookkeeping, per spec's non-goal of no cross-restart
// persistence).
package queue

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"intervene/internal/feedbackerr"
	"intervene/pkg/feedback"
)

// Signal is delivered by Submit to tell the caller which rendezvous slot
// to wake, and with what result.
type Signal struct {
	TaskID string
	Result feedback.Result
}

// Queue holds the task table for one process. Zero value is not usable;
// construct with New.
type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*feedback.Task
	order   []string // creation order, for FIFO listing/activation
	active  string   // task ID currently active, "" if none
	counter map[string]*atomic.Uint64
	counterMu sync.Mutex
	now     func() time.Time
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		tasks:   make(map[string]*feedback.Task),
		counter: make(map[string]*atomic.Uint64),
		now:     time.Now,
	}
}

// NewWithClock is New but lets tests substitute the clock.
func NewWithClock(now func() time.Time) *Queue {
	q := New()
	q.now = now
	return q
}

// nextID returns the next monotonic ID for the given project slug.
func (q *Queue) nextID(project string) string {
	q.counterMu.Lock()
	c, ok := q.counter[project]
	if !ok {
		c = &atomic.Uint64{}
		q.counter[project] = c
	}
	q.counterMu.Unlock()
	n := c.Add(1)
	return project + "-" + pad4(n)
}

func pad4(n uint64) string {
	s := strconv.FormatUint(n, 10)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

// Add creates a task in pending status and, if no task is currently
// active, immediately promotes it to active. Returns the new task ID.
func (q *Queue) Add(project, prompt string, options []string, autoResubmitTimeout int) string {
	if project == "" {
		project = "agent"
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID(project)
	now := q.now()
	t := &feedback.Task{
		ID:                  id,
		Project:             project,
		Prompt:              prompt,
		Options:             append([]string(nil), options...),
		AutoResubmitTimeout: autoResubmitTimeout,
		Status:              feedback.StatusPending,
		CreatedAt:           now,
	}
	if autoResubmitTimeout > 0 {
		d := now.Add(time.Duration(autoResubmitTimeout) * time.Second)
		t.Deadline = &d
	}
	q.tasks[id] = t
	q.order = append(q.order, id)

	if q.active == "" {
		t.Status = feedback.StatusActive
		q.active = id
	}
	return id
}

// List returns all non-evicted tasks in creation order, alongside the
// server's current time (for drift-free client countdowns).
func (q *Queue) List() (tasks []feedback.Task, serverTime time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	serverTime = q.now()
	tasks = make([]feedback.Task, 0, len(q.order))
	for _, id := range q.order {
		t, ok := q.tasks[id]
		if !ok {
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, serverTime
}

// Get returns a copy of the task with the given ID.
func (q *Queue) Get(id string) (feedback.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return feedback.Task{}, false
	}
	return *t, true
}

// ActiveTask returns a copy of the currently active task, if any.
func (q *Queue) ActiveTask() (feedback.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == "" {
		return feedback.Task{}, false
	}
	t, ok := q.tasks[q.active]
	if !ok {
		return feedback.Task{}, false
	}
	return *t, true
}

// Stats reports the count of tasks in each status.
func (q *Queue) Stats() feedback.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s feedback.Stats
	for _, id := range q.order {
		t, ok := q.tasks[id]
		if !ok {
			continue
		}
		switch t.Status {
		case feedback.StatusPending:
			s.Pending++
		case feedback.StatusActive:
			s.Active++
		case feedback.StatusCompleted:
			s.Completed++
		}
	}
	return s
}

// Activate explicitly promotes a pending task to active, demoting the
// current active task (if any) back to pending. A no-op if the task is
// already active. Fails if the task is completed or unknown.
func (q *Queue) Activate(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return feedbackerr.Newf(feedbackerr.InvalidInput, "unknown task %q", id)
	}
	switch t.Status {
	case feedback.StatusActive:
		return nil
	case feedback.StatusCompleted:
		return feedbackerr.Newf(feedbackerr.Conflict, "task %q already completed", id)
	}

	if q.active != "" {
		if cur, ok := q.tasks[q.active]; ok && cur.Status == feedback.StatusActive {
			cur.Status = feedback.StatusPending
		}
	}
	t.Status = feedback.StatusActive
	q.active = id
	return nil
}

// Submit records the result for a task, transitioning it to completed.
// Only valid when the task is pending or active; a double-submit is
// rejected with a Conflict error. On success it returns the Signal the
// caller should hand to the rendezvous registry, and promotes the next
// pending task (FIFO by creation, i.e. by position in q.order) to active
// if the completed task was the active one.
func (q *Queue) Submit(id string, result feedback.Result) (Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Signal{}, feedbackerr.Newf(feedbackerr.InvalidInput, "unknown task %q", id)
	}
	if t.Status == feedback.StatusCompleted {
		return Signal{}, feedbackerr.Newf(feedbackerr.Conflict, "task %q already completed", id)
	}

	wasActive := t.Status == feedback.StatusActive
	t.Status = feedback.StatusCompleted
	t.Result = &result

	if wasActive {
		q.active = ""
		q.promoteNextLocked()
	}

	return Signal{TaskID: id, Result: result}, nil
}

// promoteNextLocked activates the earliest-created pending task, if any.
// Caller must hold q.mu.
func (q *Queue) promoteNextLocked() {
	type candidate struct {
		id  string
		idx int
	}
	var cands []candidate
	for i, id := range q.order {
		if t, ok := q.tasks[id]; ok && t.Status == feedback.StatusPending {
			cands = append(cands, candidate{id, i})
		}
	}
	if len(cands) == 0 {
		return
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].idx < cands[j].idx })
	next := cands[0].id
	q.tasks[next].Status = feedback.StatusActive
	q.active = next
}

// Evict removes a completed task from the table. Called by the feedback
// tool entry once it has consumed the task's result.
func (q *Queue) Evict(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
