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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intervene/internal/config"
	"intervene/internal/httpapi"
	"intervene/internal/notify"
	"intervene/internal/queue"
	"intervene/internal/rendezvous"
	"intervene/internal/scheduler"
	"intervene/pkg/feedback"
)

func main() {
	var (
		host    = flag.String("host", "", "override web_ui.host from the config file")
		port    = flag.Int("port", 0, "override web_ui.port from the config file")
		timeout = flag.Int("timeout", 0, "override feedback.timeout (seconds) from the config file")
		verbose = flag.Bool("verbose", false, "raise log level to debug")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	if err := run(*host, *port, *timeout, logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// run wires every component bottom-up (spec §5's ownership chain: config
// store, then queue/rendezvous/scheduler, then notification dispatcher,
// then the HTTP surface) and blocks until a shutdown signal arrives. The
// RPC tool entry is not constructed here (see the note below).
func run(hostFlag string, portFlag, timeoutFlag int, logger *slog.Logger) error {
	path, err := config.Locate()
	if err != nil {
		return fmt.Errorf("locate config: %w", err)
	}
	store, err := config.Open(path, logger)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer store.Close()
	if err := store.Watch(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := applyCLIOverrides(store, hostFlag, portFlag, timeoutFlag); err != nil {
		return fmt.Errorf("apply CLI overrides: %w", err)
	}

	q := queue.New()
	reg := rendezvous.New()
	dispatcher := notify.New(func() *feedback.Config { return store.Snapshot() }, nil, logger)

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
	sched = scheduler.New(submit, func() string { return store.Snapshot().Feedback.ResubmitPrompt }, logger)
	defer sched.Stop()

	api := httpapi.New(q, reg, sched, store, dispatcher, submit, logger)
	defer api.Close()

	// The interactive_feedback RPC framing itself is an external
	// collaborator (spec.md §1): this process owns the queue, rendezvous
	// registry, scheduler, config store, and notification dispatcher, and
	// exposes them over HTTP; an RPC host process wires the very same
	// collaborators into feedbackentry.New and calls Entry.Call to serve
	// interactive_feedback, identically to how this binary wires httpapi.

	cfg := store.Snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.WebUI.Host, cfg.WebUI.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting feedback relay server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-quit:
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg.CancelAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// applyCLIOverrides folds non-zero CLI flags into the live config snapshot
// before the server starts, per spec §6's CLI surface (--host/--port
// override web_ui, --timeout overrides feedback.timeout). Flags only ever
// take effect at startup; the config file remains authoritative for
// anything the flags don't touch, and for every later reload.
func applyCLIOverrides(store *config.Store, host string, port, timeout int) error {
	if host == "" && port == 0 && timeout == 0 {
		return nil
	}
	cfg := store.Snapshot()
	overridden := *cfg
	if host != "" {
		overridden.WebUI.Host = host
	}
	if port != 0 {
		overridden.WebUI.Port = port
	}
	if timeout != 0 {
		overridden.Feedback.Timeout = timeout
	}
	return store.ApplyOverride(&overridden)
}
