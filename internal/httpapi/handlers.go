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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intervene/internal/feedbackerr"
	"intervene/internal/metrics"
	"intervene/pkg/feedback"
)

const maxMultipartMemory = 16 << 20 // buffered in memory before spilling to temp files

// --- GET /api/health ---

type healthResponse struct {
	OK    bool           `json:"ok"`
	Stats feedback.Stats `json:"stats"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Stats: a.Queue.Stats()})
}

// --- GET /api/config ---

type configResponse struct {
	Success             bool       `json:"success"`
	TaskID              string     `json:"task_id,omitempty"`
	Prompt              string     `json:"prompt,omitempty"`
	Options             []string   `json:"options,omitempty"`
	Project             string     `json:"project,omitempty"`
	AutoResubmitTimeout int        `json:"auto_resubmit_timeout,omitempty"`
	ServerTime          time.Time  `json:"server_time"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	RemainingTime       float64    `json:"remaining_time,omitempty"`
	HasContent          bool       `json:"has_content"`
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	now := a.now()
	task, ok := a.Queue.ActiveTask()
	if !ok {
		writeJSON(w, http.StatusOK, configResponse{Success: true, ServerTime: now, HasContent: false})
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		Success:             true,
		TaskID:              task.ID,
		Prompt:              task.Prompt,
		Options:             task.Options,
		Project:             task.Project,
		AutoResubmitTimeout: task.AutoResubmitTimeout,
		ServerTime:          now,
		Deadline:            task.Deadline,
		RemainingTime:       task.RemainingTime(now).Seconds(),
		HasContent:          true,
	})
}

// --- GET /api/tasks ---

type tasksResponse struct {
	Success    bool            `json:"success"`
	Tasks      []feedback.Task `json:"tasks"`
	Stats      feedback.Stats  `json:"stats"`
	ServerTime time.Time       `json:"server_time"`
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, serverTime := a.Queue.List()
	writeJSON(w, http.StatusOK, tasksResponse{
		Success:    true,
		Tasks:      tasks,
		Stats:      a.Queue.Stats(),
		ServerTime: serverTime,
	})
}

// --- GET /api/tasks/{id} ---

type taskResponse struct {
	Success bool          `json:"success"`
	Task    feedback.Task `json:"task"`
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := a.Queue.Get(id)
	if !ok {
		writeTaskNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// --- POST /api/tasks/{id}/activate ---

func (a *API) handleActivateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.Queue.Get(id); !ok {
		writeTaskNotFound(w, id)
		return
	}
	if err := a.Queue.Activate(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- POST /api/submit and POST /api/tasks/{id}/submit ---

func (a *API) handleSubmitActive(w http.ResponseWriter, r *http.Request) {
	task, ok := a.Queue.ActiveTask()
	if !ok {
		writeError(w, feedbackerr.Newf(feedbackerr.InvalidInput, "no active task"))
		return
	}
	a.submitTask(w, r, task.ID)
}

func (a *API) handleSubmitByID(w http.ResponseWriter, r *http.Request) {
	a.submitTask(w, r, chi.URLParam(r, "id"))
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, ok := a.Queue.Get(taskID); !ok {
		writeTaskNotFound(w, taskID)
		return
	}
	result, err := parseSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Submit(taskID, result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "submitted"})
}

// parseSubmission reads the multipart/form-data body of a submit request
// per spec §6's wire format: feedback_text, selected_options (a
// JSON-encoded array of strings), and zero or more image_N file parts.
func parseSubmission(r *http.Request) (feedback.Result, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return feedback.Result{}, feedbackerr.New(feedbackerr.InvalidInput, err)
	}

	text := r.FormValue("feedback_text")

	var options []string
	if raw := r.FormValue("selected_options"); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return feedback.Result{}, feedbackerr.New(feedbackerr.InvalidInput, err)
		}
	}

	var images []feedback.Image
	if r.MultipartForm != nil {
		var err error
		images, err = loadImages(r.MultipartForm)
		if err != nil {
			return feedback.Result{}, err
		}
	}

	return feedback.Result{
		Text:            text,
		SelectedOptions: options,
		Images:          images,
	}, nil
}

// --- POST /api/close ---

// handleClose resolves spec §9's open question ("cancel-as-submission with
// the canned text"): closing the active task submits the same canned reply
// the scheduler would use on auto-resubmit, rather than a bare cancellation
// outcome, so the waiting RPC caller always gets a well-formed content-block
// sequence.
func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	task, ok := a.Queue.ActiveTask()
	if !ok {
		writeError(w, feedbackerr.Newf(feedbackerr.InvalidInput, "no active task"))
		return
	}
	result := feedback.Result{Text: a.Config.Snapshot().Feedback.ResubmitPrompt}
	if err := a.Submit(task.ID, result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- GET /api/get-notification-config, POST /api/update-notification-config ---

type statusConfigResponse struct {
	Status string                       `json:"status"`
	Config feedback.NotificationConfig `json:"config"`
}

func (a *API) handleGetNotificationConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Snapshot()
	writeJSON(w, http.StatusOK, statusConfigResponse{Status: "success", Config: cfg.Notification})
}

func (a *API) handleUpdateNotificationConfig(w http.ResponseWriter, r *http.Request) {
	var req updateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, feedbackerr.New(feedbackerr.InvalidInput, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, feedbackerr.New(feedbackerr.InvalidInput, err))
		return
	}

	if _, err := a.Config.UpdateNotification(req.toConfig()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "notification config updated"})
}

// --- POST /api/test-bark ---

func (a *API) handleTestBark(w http.ResponseWriter, r *http.Request) {
	var req testBarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, feedbackerr.New(feedbackerr.InvalidInput, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, feedbackerr.New(feedbackerr.InvalidInput, err))
		return
	}

	cfg := feedback.NotificationConfig{
		BarkURL:       req.BarkURL,
		BarkDeviceKey: req.BarkDeviceKey,
		BarkIcon:      req.BarkIcon,
		BarkAction:    req.BarkAction,
	}
	message := req.Message
	if message == "" {
		message = "This is a test notification from the feedback relay."
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.Notify.TestBark(ctx, cfg, "Feedback relay test", message); err != nil {
		metrics.IncNotificationSend("bark", "error")
		writeError(w, feedbackerr.New(feedbackerr.TransientExternal, err))
		return
	}
	metrics.IncNotificationSend("bark", "sent")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "test notification sent"})
}

// --- GET /api/get-feedback-prompts ---

type feedbackPromptsResponse struct {
	Status string `json:"status"`
	Config struct {
		ResubmitPrompt string `json:"resubmit_prompt"`
		PromptSuffix   string `json:"prompt_suffix"`
	} `json:"config"`
}

func (a *API) handleGetFeedbackPrompts(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Snapshot()
	resp := feedbackPromptsResponse{Status: "success"}
	resp.Config.ResubmitPrompt = cfg.Feedback.ResubmitPrompt
	resp.Config.PromptSuffix = cfg.Feedback.PromptSuffix
	writeJSON(w, http.StatusOK, resp)
}
