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

package notify

import (
	"context"
	"log/slog"
)

// Notifier raises a native OS notification. No cross-platform notification
// library appears anywhere in the reference corpus, so this is a narrow
// seam: the default implementation only logs, and a platform-specific
// implementation can be substituted by callers that have one available
// without this package needing to depend on it.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

type loggingNotifier struct {
	logger *slog.Logger
}

func (n loggingNotifier) Notify(ctx context.Context, title, body string) error {
	n.logger.Info("system notification", "title", title, "body", body)
	return nil
}
