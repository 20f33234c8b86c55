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

package feedbackentry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"intervene/internal/config"
	"intervene/internal/feedbackerr"
	"intervene/internal/notify"
	"intervene/internal/queue"
	"intervene/internal/rendezvous"
	"intervene/internal/scheduler"
	"intervene/pkg/feedback"
)

func newTestEntry(t *testing.T) *Entry {
	t.Helper()
	dir := t.TempDir()
	store, err := config.Open(filepath.Join(dir, "config.jsonc"), nil)
	if err != nil {
		t.Fatalf("open config store: %v", err)
	}

	q := queue.New()
	reg := rendezvous.New()
	disp := notify.New(func() *feedback.Config { return store.Snapshot() }, nil, nil)
	t.Cleanup(disp.Close)

	var sched *scheduler.Scheduler
	submit := func(taskID string, result feedback.Result) error {
		sig, err := q.Submit(taskID, result)
		if err != nil {
			return err
		}
		sched.Disarm(taskID)
		reg.Deliver(sig.TaskID, sig.Result)
		return nil
	}
	sched = scheduler.New(submit, func() string { return store.Snapshot().Feedback.ResubmitPrompt }, nil)
	t.Cleanup(sched.Stop)

	return New(q, reg, sched, store, disp, nil)
}

func TestCallRejectsEmptyPrompt(t *testing.T) {
	e := newTestEntry(t)
	_, err := e.Call(context.Background(), Request{Prompt: ""})
	if err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestCallReturnsTextBlockOnHumanSubmission(t *testing.T) {
	e := newTestEntry(t)

	done := make(chan struct{})
	var blocks []feedback.ContentBlock
	var callErr error
	go func() {
		blocks, callErr = e.Call(context.Background(), Request{Project: "agent", Prompt: "pick a color", Options: []string{"red", "blue"}})
		close(done)
	}()

	// Wait until the task is visible, then submit as a human would.
	deadline := time.Now().Add(2 * time.Second)
	var id string
	for time.Now().Before(deadline) {
		tasks, _ := e.Queue.List()
		if len(tasks) == 1 {
			id = tasks[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id == "" {
		t.Fatal("task never became visible")
	}

	sig, err := e.Queue.Submit(id, feedback.Result{Text: "looks good", SelectedOptions: []string{"red"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.Scheduler.Disarm(id)
	e.Rendezvous.Deliver(sig.TaskID, sig.Result)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return in time")
	}
	if callErr != nil {
		t.Fatalf("Call returned error: %v", callErr)
	}
	if len(blocks) != 1 || blocks[0].Type != feedback.BlockText {
		t.Fatalf("expected one text block, got %+v", blocks)
	}
	want := "Selected options: red\n\nUser input: looks good"
	if blocks[0].Text != want {
		t.Errorf("expected %q, got %q", want, blocks[0].Text)
	}
}

func TestCallReturnsImageBlock(t *testing.T) {
	e := newTestEntry(t)

	done := make(chan struct{})
	var blocks []feedback.ContentBlock
	go func() {
		blocks, _ = e.Call(context.Background(), Request{Prompt: "send a screenshot"})
		close(done)
	}()

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks, _ := e.Queue.List()
		if len(tasks) == 1 {
			id = tasks[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id == "" {
		t.Fatal("task never became visible")
	}

	sig, err := e.Queue.Submit(id, feedback.Result{Images: []feedback.Image{{Bytes: []byte("fakepng"), Mime: "image/png"}}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.Rendezvous.Deliver(sig.TaskID, sig.Result)

	<-done
	if len(blocks) != 1 || blocks[0].Type != feedback.BlockImage || blocks[0].MimeType != "image/png" {
		t.Fatalf("expected one image block, got %+v", blocks)
	}
}

func TestCallSynthesizesCannedReplyOnOverallTimeout(t *testing.T) {
	e := newTestEntry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	blocks, err := e.Call(ctx, Request{Prompt: "never answered", AutoResubmitTimeout: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Text == "" {
		t.Fatalf("expected canned reply block, got %+v", blocks)
	}
}

func TestCallReturnsTimeoutErrorOnShutdown(t *testing.T) {
	e := newTestEntry(t)

	done := make(chan struct{})
	var blocks []feedback.ContentBlock
	var callErr error
	go func() {
		blocks, callErr = e.Call(context.Background(), Request{Prompt: "never answered, process exits first"})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks, _ := e.Queue.List()
		if len(tasks) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	e.Rendezvous.CancelAll()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return in time")
	}

	if callErr == nil {
		t.Fatal("expected an error on shutdown cancellation")
	}
	if kind, ok := feedbackerr.KindOf(callErr); !ok || kind != feedbackerr.Timeout {
		t.Errorf("expected feedbackerr.Timeout, got %v (kind=%v, ok=%v)", callErr, kind, ok)
	}
	if blocks != nil {
		t.Errorf("expected no content blocks on cancellation, got %+v", blocks)
	}
}

func TestCallEvictsTaskAfterCompletion(t *testing.T) {
	e := newTestEntry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Call(ctx, Request{Prompt: "evict me"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tasks, _ := e.Queue.List()
	if len(tasks) != 0 {
		t.Errorf("expected task to be evicted, found %d remaining", len(tasks))
	}
}
