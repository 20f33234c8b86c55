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
	"github.com/go-playground/validator/v10"

	"intervene/pkg/feedback"
)

// validate is shared across the package; the validator docs recommend a
// single cached instance rather than constructing one per request.
var validate = validator.New()

// updateNotificationRequest is the JSON body of POST
// /api/update-notification-config. Field tags mirror
// pkg/feedback.NotificationConfig's own validate tags (spec §3).
type updateNotificationRequest struct {
	Enabled       bool   `json:"enabled"`
	WebEnabled    bool   `json:"web_enabled"`
	SoundEnabled  bool   `json:"sound_enabled"`
	SoundVolume   int    `json:"sound_volume" validate:"gte=0,lte=100"`
	SoundMute     bool   `json:"sound_mute"`
	BarkEnabled   bool   `json:"bark_enabled"`
	BarkURL       string `json:"bark_url"`
	BarkDeviceKey string `json:"bark_device_key"`
	BarkIcon      string `json:"bark_icon"`
	BarkAction    string `json:"bark_action" validate:"omitempty,oneof=none url copy"`
}

func (req updateNotificationRequest) toConfig() feedback.NotificationConfig {
	return feedback.NotificationConfig{
		Enabled:       req.Enabled,
		WebEnabled:    req.WebEnabled,
		SoundEnabled:  req.SoundEnabled,
		SoundVolume:   req.SoundVolume,
		SoundMute:     req.SoundMute,
		BarkEnabled:   req.BarkEnabled,
		BarkURL:       req.BarkURL,
		BarkDeviceKey: req.BarkDeviceKey,
		BarkIcon:      req.BarkIcon,
		BarkAction:    req.BarkAction,
	}
}

// testBarkRequest is the JSON body of POST /api/test-bark: caller-supplied
// Bark parameters for a one-off probe push, mediated server-side to avoid
// browser CORS (spec §4.5).
type testBarkRequest struct {
	BarkURL       string `json:"bark_url" validate:"required"`
	BarkDeviceKey string `json:"bark_device_key"`
	BarkIcon      string `json:"bark_icon"`
	BarkAction    string `json:"bark_action" validate:"omitempty,oneof=none url copy"`
	Message       string `json:"message" validate:"omitempty,max=500"`
}
