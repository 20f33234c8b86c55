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
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"intervene/internal/config"
	"intervene/internal/notify"
	"intervene/internal/queue"
	"intervene/internal/rendezvous"
	"intervene/internal/scheduler"
	"intervene/pkg/feedback"
)

func newTestAPI(t *testing.T) *API {
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

	return New(q, reg, sched, store, disp, submit, nil)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a Content-Type header from the Prometheus handler")
	}
}

func TestGetConfigNoActiveTask(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	var resp configResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.HasContent {
		t.Error("expected has_content=false with no active task")
	}
}

func TestGetConfigReturnsActiveTask(t *testing.T) {
	a := newTestAPI(t)
	id := a.Queue.Add("agent", "pick a color", []string{"red", "blue"}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	var resp configResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.HasContent || resp.TaskID != id {
		t.Errorf("expected active task %s, got %+v", id, resp)
	}
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/nope-0001", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListTasksReflectsQueue(t *testing.T) {
	a := newTestAPI(t)
	a.Queue.Add("agent", "first", nil, 0)
	a.Queue.Add("agent", "second", nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	var resp tasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(resp.Tasks))
	}
	if resp.Stats.Active != 1 || resp.Stats.Pending != 1 {
		t.Errorf("expected 1 active + 1 pending, got %+v", resp.Stats)
	}
}

func TestActivatePromotesPendingTask(t *testing.T) {
	a := newTestAPI(t)
	a.Queue.Add("agent", "first", nil, 0)
	second := a.Queue.Add("agent", "second", nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+second+"/activate", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	task, _ := a.Queue.Get(second)
	if task.Status != feedback.StatusActive {
		t.Errorf("expected %s active, got %s", second, task.Status)
	}
}

func TestSubmitActiveCompletesTaskAndWakesWaiter(t *testing.T) {
	a := newTestAPI(t)
	id := a.Queue.Add("agent", "pick", []string{"a", "b"}, 0)
	slot := a.Rendezvous.Register(id)

	body, contentType := buildSubmitBody(t, "looks good", []string{"a"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/submit", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome := a.Rendezvous.Wait(ctx, slot)
	if outcome.TimedOut || outcome.Cancelled {
		t.Fatalf("expected delivered outcome, got %+v", outcome)
	}
	if outcome.Result.Text != "looks good" {
		t.Errorf("expected delivered text, got %q", outcome.Result.Text)
	}
}

func TestDoubleSubmitConflict(t *testing.T) {
	a := newTestAPI(t)
	id := a.Queue.Add("agent", "pick", nil, 0)

	body1, ct1 := buildSubmitBody(t, "first", nil, nil)
	req1 := httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/submit", body1)
	req1.Header.Set("Content-Type", ct1)
	w1 := httptest.NewRecorder()
	a.Router().ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first submit expected 200, got %d", w1.Code)
	}

	body2, ct2 := buildSubmitBody(t, "second", nil, nil)
	req2 := httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/submit", body2)
	req2.Header.Set("Content-Type", ct2)
	w2 := httptest.NewRecorder()
	a.Router().ServeHTTP(w2, req2)
	if w2.Code != http.StatusConflict {
		t.Errorf("expected 409 on double submit, got %d", w2.Code)
	}
}

func TestCloseSubmitsCannedReplyForActiveTask(t *testing.T) {
	a := newTestAPI(t)
	id := a.Queue.Add("agent", "pick", nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/close", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	task, _ := a.Queue.Get(id)
	want := a.Config.Snapshot().Feedback.ResubmitPrompt
	if task.Result == nil || task.Result.Text != want {
		t.Errorf("expected canned reply %q, got %+v", want, task.Result)
	}
}

func TestUpdateNotificationConfigRoundTrips(t *testing.T) {
	a := newTestAPI(t)
	payload := updateNotificationRequest{
		Enabled:      true,
		WebEnabled:   true,
		SoundEnabled: false,
		SoundVolume:  75,
		BarkAction:   "url",
	}
	buf, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/update-notification-config", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := a.Config.Snapshot().Notification.SoundVolume; got != 75 {
		t.Errorf("expected sound_volume=75 to persist, got %d", got)
	}
}

func TestUpdateNotificationConfigRejectsInvalidVolume(t *testing.T) {
	a := newTestAPI(t)
	payload := updateNotificationRequest{SoundVolume: 500}
	buf, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/update-notification-config", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range sound_volume, got %d", w.Code)
	}
}

func TestGetFeedbackPromptsReturnsConfiguredText(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/get-feedback-prompts", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	var resp feedbackPromptsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Config.ResubmitPrompt == "" {
		t.Error("expected non-empty resubmit_prompt")
	}
}

func TestAccessControlAllowsByDefault(t *testing.T) {
	a := newTestAPI(t)

	// Default config has enable_access_control=false (pkg/feedback.Default),
	// so the AccessControl middleware wired into Router must bypass
	// entirely regardless of remote address. CIDR enforcement itself is
	// covered by internal/middleware's own tests; this only asserts the
	// router wires AccessControl against the live config snapshot.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with access control disabled by default, got %d", w.Code)
	}
}

func buildSubmitBody(t *testing.T, text string, options []string, imagePaths []string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if err := mw.WriteField("feedback_text", text); err != nil {
		t.Fatalf("write feedback_text: %v", err)
	}
	if options != nil {
		raw, _ := json.Marshal(options)
		if err := mw.WriteField("selected_options", string(raw)); err != nil {
			t.Fatalf("write selected_options: %v", err)
		}
	}
	for i, p := range imagePaths {
		fw, err := mw.CreateFormFile("image_"+itoa(i), filepath.Base(p))
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read fixture %s: %v", p, err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write fixture %s: %v", p, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
