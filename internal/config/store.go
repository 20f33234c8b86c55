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

// Package config locates, parses, validates, watches, and writes back the
// commented-JSON configuration document (spec §4.1). Grounded on
// internal/provisioner/config.go's Default()/Validate() shape, generalized
// from environment-variable loading to file loading, and on
// internal/provisioner/dispatcher.go's writeAtomic for the write-back path.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"intervene/internal/feedbackerr"
	"intervene/pkg/feedback"
)

const appDirName = "ai-intervention-agent"
const fileName = "config.jsonc"

// watchDebounce coalesces a burst of fsnotify Write/Create events for the
// config file (some editors and save pipelines emit several in quick
// succession for a single logical save) into one reload, so a single save
// doesn't trigger a read+validate+publish cycle per underlying write.
const watchDebounce = 200 * time.Millisecond

// Store owns the configuration document for one process: it locates the
// file, loads and validates it, exposes an always-current immutable
// snapshot, watches the file for external edits, and serializes write-back
// requests from the HTTP surface.
type Store struct {
	path    string
	current atomic.Pointer[feedback.Config]
	logger  *slog.Logger

	writeMu sync.Mutex // serializes write-back so concurrent POSTs don't interleave
	rawMu   sync.Mutex // guards raw, the last-loaded document bytes
	raw     []byte

	subMu sync.Mutex
	subs  []func(*feedback.Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Locate returns the config document path, preferring a working-directory
// config.jsonc over the platform-conventional per-user config directory
// (spec §4.1 discovery order). It does not create the file.
func Locate() (string, error) {
	if _, err := os.Stat(fileName); err == nil {
		abs, err := filepath.Abs(fileName)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", feedbackerr.New(feedbackerr.Fatal, fmt.Errorf("resolve user config dir: %w", err))
	}
	return filepath.Join(dir, appDirName, fileName), nil
}

// Open loads the config at path, creating it with documented defaults if it
// does not exist, and returns a Store holding the validated snapshot. It
// does not start the file watcher; call Watch for that.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger, done: make(chan struct{})}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeDefault(); err != nil {
			return nil, feedbackerr.New(feedbackerr.Fatal, fmt.Errorf("create default config at %s: %w", path, err))
		}
	}

	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return s, nil
}

func (s *Store) writeDefault() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(feedback.Default(), "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.path, buf, 0o644)
}

func (s *Store) setRaw(raw []byte) {
	s.rawMu.Lock()
	s.raw = raw
	s.rawMu.Unlock()
}

func (s *Store) getRaw() []byte {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	return s.raw
}

func (s *Store) load() (*feedback.Config, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, feedbackerr.New(feedbackerr.TransientExternal, fmt.Errorf("read config %s: %w", s.path, err))
	}

	clean := stripJSONC(raw)

	var unknown map[string]json.RawMessage
	if err := json.Unmarshal(clean, &unknown); err != nil {
		return nil, feedbackerr.New(feedbackerr.InvalidInput, fmt.Errorf("parse config %s: %w", s.path, err))
	}

	cfg := feedback.Default()
	if err := json.Unmarshal(clean, cfg); err != nil {
		return nil, feedbackerr.New(feedbackerr.InvalidInput, fmt.Errorf("decode config %s: %w", s.path, err))
	}

	for _, known := range []string{"notification", "web_ui", "network_security", "feedback"} {
		delete(unknown, known)
	}
	if len(unknown) > 0 {
		cfg.Unknown = make(map[string]interface{}, len(unknown))
		for k, v := range unknown {
			var val interface{}
			if err := json.Unmarshal(v, &val); err == nil {
				cfg.Unknown[k] = val
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	s.setRaw(raw)
	return cfg, nil
}

// validate clamps and range-checks fields in place, per spec §3's typed
// defaults (sound_volume in [0,100], port in [1,65535], timeout > 0), and
// rejects the document outright if network_security's CIDR/IP strings
// don't parse — unlike the clamped fields, a malformed access-control
// policy has no safe default to fall back to, so the caller must keep
// serving its previous snapshot instead of silently loosening or widening
// access.
func validate(cfg *feedback.Config) error {
	if cfg.Notification.SoundVolume < 0 {
		cfg.Notification.SoundVolume = 0
	}
	if cfg.Notification.SoundVolume > 100 {
		cfg.Notification.SoundVolume = 100
	}
	if cfg.WebUI.Port < 1 || cfg.WebUI.Port > 65535 {
		cfg.WebUI.Port = feedback.Default().WebUI.Port
	}
	if cfg.Feedback.Timeout <= 0 {
		cfg.Feedback.Timeout = feedback.Default().Feedback.Timeout
	}
	switch cfg.Notification.BarkAction {
	case "", "none", "url", "copy":
	default:
		cfg.Notification.BarkAction = "none"
	}

	for _, cidr := range cfg.NetworkSecurity.AllowedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return feedbackerr.Newf(feedbackerr.InvalidInput, "network_security.allowed_networks: %q is not a valid CIDR: %v", cidr, err)
		}
	}
	for _, ip := range cfg.NetworkSecurity.BlockedIPs {
		if net.ParseIP(ip) == nil {
			return feedbackerr.Newf(feedbackerr.InvalidInput, "network_security.blocked_ips: %q is not a valid IP address", ip)
		}
	}
	return nil
}

// Snapshot returns the currently published configuration. Callers must not
// mutate the returned value; it is shared.
func (s *Store) Snapshot() *feedback.Config {
	return s.current.Load()
}

// Subscribe registers fn to be called, with the new snapshot, every time
// the store publishes a reload or write-back. Subscriptions are for
// notification purposes only — every consumer is still expected to read
// Snapshot() fresh on each use rather than cache the value fn receives.
func (s *Store) Subscribe(fn func(*feedback.Config)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) publish(cfg *feedback.Config) {
	s.current.Store(cfg)
	s.subMu.Lock()
	subs := append([]func(*feedback.Config){}, s.subs...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}

// ApplyOverride publishes cfg as the current snapshot without writing it
// back to disk, for CLI flags (spec §6: --host, --port, --timeout) that
// take effect for the life of the process but must never get persisted
// over the user's on-disk document. It returns an error and leaves the
// previous snapshot in effect if cfg fails validation.
func (s *Store) ApplyOverride(cfg *feedback.Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	s.publish(cfg)
	return nil
}

// Watch starts a background goroutine that reloads the config on external
// file changes and republishes the snapshot atomically. Stop with Close.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return feedbackerr.New(feedbackerr.TransientExternal, fmt.Errorf("start config watcher: %w", err))
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return feedbackerr.New(feedbackerr.TransientExternal, fmt.Errorf("watch config dir: %w", err))
	}
	s.watcher = w

	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(watchDebounce)
				} else {
					debounce.Reset(watchDebounce)
				}
			case <-timerC(debounce):
				cfg, err := s.load()
				if err != nil {
					s.logger.Warn("config reload failed, keeping last good snapshot", "error", err)
					continue
				}
				s.publish(cfg)
				s.logger.Info("config reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// timerC returns t's channel, or nil if t hasn't been started yet. A nil
// channel blocks forever in a select, which is exactly "no pending
// debounce" for the watch loop above.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// Close stops the file watcher, if running.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// UpdateNotification replaces the current notification section with next
// as a whole (fields left zero in next are stored as zero), validates, writes only the "notification" key back to disk (spec §4.1:
// write-back "formats only the changed keys", leaving every comment and
// every other section's formatting untouched), and publishes the new
// snapshot. Write-back calls are serialized so concurrent POSTs never
// interleave their file writes.
func (s *Store) UpdateNotification(next feedback.NotificationConfig) (*feedback.Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.Snapshot()
	updated := *cur
	updated.Notification = next
	if err := validate(&updated); err != nil {
		return nil, err
	}

	if err := s.writeBack("notification", updated.Notification); err != nil {
		return nil, err
	}
	s.publish(&updated)
	return &updated, nil
}

// writeBack splices the marshaled value of a single top-level key into the
// on-disk document in place, via replaceTopLevelKey, so every comment and
// every other key's original formatting survives unchanged.
func (s *Store) writeBack(key string, value interface{}) error {
	buf, err := json.MarshalIndent(value, "  ", "  ")
	if err != nil {
		return feedbackerr.New(feedbackerr.InvalidInput, err)
	}

	newDoc := replaceTopLevelKey(s.getRaw(), key, buf)
	if err := writeAtomic(s.path, newDoc, 0o644); err != nil {
		return feedbackerr.New(feedbackerr.TransientExternal, fmt.Errorf("write config %s: %w", s.path, err))
	}
	s.setRaw(newDoc)
	return nil
}
