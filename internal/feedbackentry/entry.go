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

// Package feedbackentry is the glue an RPC caller actually invokes (spec
// §4.7): it is the one place that sequences queue.Add, rendezvous.Register,
// scheduler.Arm, and notify.Dispatcher.Send, then blocks in
// rendezvous.Wait and assembles the reply. It is named apart from
// pkg/feedback, whose types it consumes, to keep the "domain model" and
// "request orchestration" concerns in separate packages, the way the
// teacher keeps pkg/provisioner's types apart from
// internal/provisioner/jobs' worker orchestration.
package feedbackentry

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"intervene/internal/config"
	"intervene/internal/feedbackerr"
	"intervene/internal/metrics"
	"intervene/internal/notify"
	"intervene/internal/queue"
	"intervene/internal/rendezvous"
	"intervene/internal/scheduler"
	"intervene/pkg/feedback"
)

// maxPromptLen bounds the prompt length (spec §4.7's "length cap"). The
// spec treats the exact number as an implementation detail, not a
// contract; this value is generous enough for any realistic prompt while
// still catching a caller that pastes an entire file by mistake.
const maxPromptLen = 20000

// maxOptionLen bounds each option string's length, and maxOptions bounds
// how many options a single call may offer.
const (
	maxOptionLen = 500
	maxOptions   = 64
)

// Request is the validated input to Call, mirroring the RPC tool surface
// of spec §6's interactive_feedback operation.
type Request struct {
	Project             string
	Prompt              string
	Options             []string
	AutoResubmitTimeout int
}

// Entry wires the queue, rendezvous registry, scheduler, config store, and
// notification dispatcher into the single blocking operation the RPC
// surface exposes.
type Entry struct {
	Queue      *queue.Queue
	Rendezvous *rendezvous.Registry
	Scheduler  *scheduler.Scheduler
	Config     *config.Store
	Notify     *notify.Dispatcher
	Logger     *slog.Logger
}

// New constructs an Entry. All fields are required except Logger, which
// defaults to slog.Default().
func New(q *queue.Queue, r *rendezvous.Registry, sched *scheduler.Scheduler, store *config.Store, dispatcher *notify.Dispatcher, logger *slog.Logger) *Entry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Entry{Queue: q, Rendezvous: r, Scheduler: sched, Config: store, Notify: dispatcher, Logger: logger}
}

func validate(req Request) error {
	if len(req.Prompt) == 0 {
		return feedbackerr.Newf(feedbackerr.InvalidInput, "prompt must not be empty")
	}
	if len(req.Prompt) > maxPromptLen {
		return feedbackerr.Newf(feedbackerr.InvalidInput, "prompt exceeds %d byte cap", maxPromptLen)
	}
	if len(req.Options) > maxOptions {
		return feedbackerr.Newf(feedbackerr.InvalidInput, "options exceeds %d entry cap", maxOptions)
	}
	for _, o := range req.Options {
		if len(o) > maxOptionLen {
			return feedbackerr.Newf(feedbackerr.InvalidInput, "option %q exceeds %d byte cap", o, maxOptionLen)
		}
	}
	if req.AutoResubmitTimeout < 0 {
		return feedbackerr.Newf(feedbackerr.InvalidInput, "auto_resubmit_timeout must not be negative")
	}
	return nil
}

// Call runs the full spec §4.7 sequence: validate, enqueue, register the
// rendezvous slot, arm the auto-resubmit scheduler if requested, fan out
// the notification, then block until a human submits, the timer fires, or
// the process is shutting down.
func (e *Entry) Call(ctx context.Context, req Request) ([]feedback.ContentBlock, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	cfg := e.Config.Snapshot()
	overallTimeout := req.AutoResubmitTimeout
	if overallTimeout <= 0 {
		overallTimeout = cfg.Feedback.Timeout
	}

	taskID := e.Queue.Add(req.Project, req.Prompt, req.Options, req.AutoResubmitTimeout)
	slot := e.Rendezvous.Register(taskID)

	if req.AutoResubmitTimeout > 0 {
		task, ok := e.Queue.Get(taskID)
		if ok && task.Deadline != nil {
			e.Scheduler.Arm(taskID, *task.Deadline)
		}
	}

	e.Notify.Send(taskID, req.Project, req.Prompt)
	e.logQueueDepth()

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(overallTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	outcome := e.Rendezvous.Wait(waitCtx, slot)
	e.Scheduler.Disarm(taskID)
	e.Queue.Evict(taskID)
	e.logQueueDepth()

	switch {
	case outcome.Cancelled:
		metrics.ObserveTaskResolution(metrics.OutcomeCancel, time.Since(start))
		return nil, feedbackerr.Newf(feedbackerr.Timeout, "feedback request for task %q was cancelled", taskID)
	case outcome.TimedOut:
		metrics.ObserveTaskResolution(metrics.OutcomeTimeout, time.Since(start))
		return cannedReply(cfg.Feedback.ResubmitPrompt), nil
	default:
		outcomeLabel := metrics.OutcomeHuman
		if outcome.Result.AutoResubmitted {
			outcomeLabel = metrics.OutcomeAuto
		}
		metrics.ObserveTaskResolution(outcomeLabel, time.Since(start))
		return normalize(outcome.Result), nil
	}
}

func (e *Entry) logQueueDepth() {
	stats := e.Queue.Stats()
	metrics.SetQueueDepth("pending", stats.Pending)
	metrics.SetQueueDepth("active", stats.Active)
	metrics.SetQueueDepth("completed", stats.Completed)
}

// cannedReply wraps the configured resubmit text (the same text the
// scheduler submits when it fires) in the wire format. It is used when
// Call's own overall deadline elapses with no result ever delivered; a
// scheduler firing arrives as a delivered Result and goes through normalize.
func cannedReply(text string) []feedback.ContentBlock {
	return []feedback.ContentBlock{{Type: feedback.BlockText, Text: text}}
}

// normalize converts a feedback.Result into the RPC reply sequence (spec
// §6, §9's "exactly one boundary" design note): selected options and free
// text are folded into a single text block, formatted per spec §8's
// scenario S1, followed by one image block per uploaded image.
func normalize(result feedback.Result) []feedback.ContentBlock {
	var blocks []feedback.ContentBlock

	text := composeText(result)
	if text != "" {
		blocks = append(blocks, feedback.ContentBlock{Type: feedback.BlockText, Text: text})
	}

	for _, img := range result.Images {
		blocks = append(blocks, feedback.ContentBlock{
			Type:     feedback.BlockImage,
			Data:     base64.StdEncoding.EncodeToString(img.Bytes),
			MimeType: img.Mime,
		})
	}

	return blocks
}

func composeText(result feedback.Result) string {
	if len(result.SelectedOptions) == 0 {
		return result.Text
	}
	optionsLine := fmt.Sprintf("Selected options: %s", joinOptions(result.SelectedOptions))
	if result.Text == "" {
		return optionsLine
	}
	return optionsLine + "\n\nUser input: " + result.Text
}

func joinOptions(options []string) string {
	out := options[0]
	for _, o := range options[1:] {
		out += ", " + o
	}
	return out
}
