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
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	Reset()
	SetQueueDepth("active", 1)
	ObserveTaskResolution(OutcomeHuman, 2*time.Second)
	IncNotificationSend("bark", "sent")
	IncRateLimitReject("strict")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"intervene_queue_tasks",
		"intervene_queue_task_resolution_seconds",
		"intervene_notify_sends_total",
		"intervene_httpapi_rate_limit_rejections_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestSanitizeLabelReplacesInvalidCharacters(t *testing.T) {
	got := sanitizeLabel("some weird label!", "fallback")
	if strings.ContainsAny(got, " !") {
		t.Errorf("expected sanitized label, got %q", got)
	}
}

func TestSanitizeLabelFallsBackOnEmpty(t *testing.T) {
	if got := sanitizeLabel("   ", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}
