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

// Package feedbackerr carries the error taxonomy of spec §7: a small set
// of kinds that every component-level failure is classified into, so the
// HTTP surface and the feedback tool entry can map errors to the right
// outward behavior without inspecting message strings.
package feedbackerr

import "fmt"

// Kind classifies a feedbackerr.Error. See spec §7 for the contract each
// kind carries.
type Kind string

const (
	// InvalidInput: malformed request, bad options, unknown task id,
	// out-of-range numeric field. Surfaced to the immediate caller.
	InvalidInput Kind = "invalid_input"
	// PolicyRejected: ACL or rate-limit denial. No side effects occurred.
	PolicyRejected Kind = "policy_rejected"
	// Conflict: double-submit, activation of a completed task.
	Conflict Kind = "conflict"
	// Timeout: a wait or transport budget elapsed.
	Timeout Kind = "timeout"
	// TransientExternal: an external dependency (Bark endpoint, config
	// file) failed in a way that is logged and leaves prior state intact.
	TransientExternal Kind = "transient_external"
	// Fatal: the process cannot continue (cannot bind, cannot create the
	// config directory on first run).
	Fatal Kind = "fatal"
)

// Error pairs a Kind with the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New wraps err with the given classification. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf formats a message and classifies it, without an underlying error.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
