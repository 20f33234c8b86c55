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

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intervene/internal/feedbackerr"
	"intervene/pkg/feedback"
)

func TestOpenCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config written: %v", err)
	}
	if s.Snapshot().WebUI.Port != 8765 {
		t.Errorf("got port %d", s.Snapshot().WebUI.Port)
	}
}

func TestOpenParsesJSONCComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	doc := `{
  // master toggle
  "notification": { "enabled": false, "web_enabled": true, "sound_enabled": true,
    "sound_volume": 75, "sound_mute": false, "bark_enabled": false, "bark_action": "none" },
  /* bind settings */
  "web_ui": { "host": "127.0.0.1", "port": 9000, "max_retries": 3, "retry_delay": 2000000000 },
  "network_security": { "bind_interface": "loopback", "allowed_networks": ["127.0.0.0/8"], "blocked_ips": [], "enable_access_control": false },
  "feedback": { "timeout": 120, "resubmit_prompt": "x // not a comment", "prompt_suffix": "" }
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	cfg := s.Snapshot()
	if cfg.Notification.Enabled {
		t.Errorf("expected enabled=false")
	}
	if cfg.WebUI.Port != 9000 {
		t.Errorf("got port %d", cfg.WebUI.Port)
	}
	if cfg.Feedback.ResubmitPrompt != "x // not a comment" {
		t.Errorf("comment stripper corrupted string literal: %q", cfg.Feedback.ResubmitPrompt)
	}
}

func TestValidateClampsOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	doc := `{"notification":{"sound_volume":500},"web_ui":{"port":0},"feedback":{"timeout":-5}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	cfg := s.Snapshot()
	if cfg.Notification.SoundVolume != 100 {
		t.Errorf("expected clamp to 100, got %d", cfg.Notification.SoundVolume)
	}
	if cfg.WebUI.Port != 8765 {
		t.Errorf("expected fallback to default port, got %d", cfg.WebUI.Port)
	}
	if cfg.Feedback.Timeout != 600 {
		t.Errorf("expected fallback to default timeout, got %d", cfg.Feedback.Timeout)
	}
}

func TestUnknownKeysSurviveWriteBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	doc := `{"future_section": {"mystery": true}, "feedback": {"timeout": 60}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	updated, err := s.UpdateNotification(s.Snapshot().Notification)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := updated.Unknown["future_section"]; !ok {
		t.Errorf("expected unknown section preserved, got %+v", updated.Unknown)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(raw, "future_section") {
		t.Errorf("write-back dropped unknown section: %s", raw)
	}
}

func TestWriteBackPreservesComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	doc := `{
  // master toggle, do not remove
  "notification": { "enabled": true, "web_enabled": true, "sound_enabled": true,
    "sound_volume": 50, "sound_mute": false, "bark_enabled": false, "bark_action": "none" },
  /* bind settings */
  "web_ui": { "host": "127.0.0.1", "port": 9000, "max_retries": 3, "retry_delay": 2000000000 },
  "network_security": { "bind_interface": "loopback", "allowed_networks": ["127.0.0.0/8"], "blocked_ips": [], "enable_access_control": false },
  "feedback": { "timeout": 120, "resubmit_prompt": "please continue", "prompt_suffix": "" }
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	next := s.Snapshot().Notification
	next.Enabled = false
	if _, err := s.UpdateNotification(next); err != nil {
		t.Fatalf("update: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(raw, "master toggle, do not remove") {
		t.Errorf("write-back dropped the line comment: %s", raw)
	}
	if !contains(raw, "/* bind settings */") {
		t.Errorf("write-back dropped the block comment: %s", raw)
	}
	if !contains(raw, `"port": 9000`) {
		t.Errorf("write-back disturbed an untouched section: %s", raw)
	}
}

func TestValidateRejectsMalformedCIDRAndKeepsPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	goodPort := s.Snapshot().WebUI.Port

	doc := `{"network_security": {"allowed_networks": ["not-a-cidr"]}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.load(); err == nil {
		t.Fatal("expected load to reject a malformed CIDR")
	} else if kind, ok := feedbackerr.KindOf(err); !ok || kind != feedbackerr.InvalidInput {
		t.Errorf("expected feedbackerr.InvalidInput, got %v", err)
	}

	// the store's published snapshot must be untouched by the failed reload
	if s.Snapshot().WebUI.Port != goodPort {
		t.Errorf("snapshot changed despite rejected reload")
	}
}

func TestValidateRejectsMalformedBlockedIP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	doc := `{"network_security": {"blocked_ips": ["999.999.999.999"]}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Store{path: path}
	if _, err := s.load(); err == nil {
		t.Fatal("expected load to reject a malformed blocked IP")
	}
}

func TestWatchPicksUpExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	var notifiedBark bool
	s.Subscribe(func(cfg *feedback.Config) { notifiedBark = cfg.Notification.BarkEnabled })

	next := *s.Snapshot()
	next.Notification.BarkEnabled = true
	buf, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().Notification.BarkEnabled {
			if !notifiedBark {
				t.Error("snapshot updated but subscriber never called")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never observed external edit")
}

func contains(haystack []byte, needle string) bool {
	return indexOf(string(haystack), needle) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
