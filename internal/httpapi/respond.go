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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"intervene/internal/feedbackerr"
)

// writeJSON writes v as a JSON body with the standard Content-Type,
// adapted from internal/api/respond.go's rfWriteJSONResponse, minus the
// ETag/OData machinery that only makes sense for shoal's Redfish surface.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Warn("failed to write JSON response body", "error", err)
	}
}

// errorBody is the uniform error envelope required by spec §4.5: every
// error response carries {status: "error", message}.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError classifies err via feedbackerr.KindOf and writes the matching
// HTTP status with the uniform error envelope.
func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeJSON(w, status, errorBody{Status: "error", Message: msg})
}

func statusFor(err error) (int, string) {
	kind, ok := feedbackerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, "internal error"
	}
	switch kind {
	case feedbackerr.InvalidInput:
		return http.StatusBadRequest, err.Error()
	case feedbackerr.PolicyRejected:
		return http.StatusForbidden, err.Error()
	case feedbackerr.Conflict:
		return http.StatusConflict, err.Error()
	case feedbackerr.Timeout:
		return http.StatusGatewayTimeout, err.Error()
	case feedbackerr.TransientExternal:
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeTaskNotFound writes the 404 spec §4.5 reserves for an unknown task
// id — distinct from the generic 400 the rest of InvalidInput maps to,
// since §7's Kind taxonomy is coarser than the HTTP surface it's exposed
// through. Handlers check queue existence themselves before delegating to
// a mutating queue method, rather than trying to recover this distinction
// from the returned error.
func writeTaskNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Message: fmt.Sprintf("unknown task %q", id)})
}
