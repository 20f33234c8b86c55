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

package feedback

import "time"

// NotificationConfig controls the notification fan-out (spec §3, §4.6).
type NotificationConfig struct {
	Enabled      bool   `json:"enabled"`
	WebEnabled   bool   `json:"web_enabled"`
	SoundEnabled bool   `json:"sound_enabled"`
	SoundVolume  int    `json:"sound_volume" validate:"gte=0,lte=100"`
	SoundMute    bool   `json:"sound_mute"`
	BarkEnabled  bool   `json:"bark_enabled"`
	BarkURL      string `json:"bark_url"`
	BarkDeviceKey string `json:"bark_device_key"`
	BarkIcon     string `json:"bark_icon"`
	BarkAction   string `json:"bark_action" validate:"omitempty,oneof=none url copy"`
}

// WebUIConfig controls the HTTP surface bind endpoint (spec §3).
type WebUIConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port" validate:"gte=1,lte=65535"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// NetworkSecurityConfig is the access-control policy applied to every
// HTTP request (spec §4.5).
type NetworkSecurityConfig struct {
	BindInterface       string   `json:"bind_interface"`
	AllowedNetworks     []string `json:"allowed_networks"`
	BlockedIPs          []string `json:"blocked_ips"`
	EnableAccessControl bool     `json:"enable_access_control"`
}

// FeedbackConfig holds the canned texts and overall timeout used by the
// feedback tool entry and the auto-resubmit scheduler.
type FeedbackConfig struct {
	Timeout        int    `json:"timeout" validate:"gt=0"`
	ResubmitPrompt string `json:"resubmit_prompt"`
	PromptSuffix   string `json:"prompt_suffix"`
}

// Config is the full, validated configuration document (spec §3). A
// *Config is always treated as immutable once published; callers must go
// through the config store to obtain or replace one.
type Config struct {
	Notification    NotificationConfig    `json:"notification"`
	WebUI           WebUIConfig           `json:"web_ui"`
	NetworkSecurity NetworkSecurityConfig `json:"network_security"`
	Feedback        FeedbackConfig        `json:"feedback"`

	// Unknown carries any top-level keys the document had that this
	// version of the schema doesn't recognize. Write-back does not use
	// it: it splices single keys into the on-disk bytes, so unknown keys
	// survive there untouched.
	Unknown map[string]interface{} `json:"-"`
}

// Default returns the documented default configuration (spec §3 table).
func Default() *Config {
	return &Config{
		Notification: NotificationConfig{
			Enabled:      true,
			WebEnabled:   true,
			SoundEnabled: true,
			SoundVolume:  50,
			SoundMute:    false,
			BarkEnabled:  false,
			BarkAction:   "none",
		},
		WebUI: WebUIConfig{
			Host:       "127.0.0.1",
			Port:       8765,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
		},
		NetworkSecurity: NetworkSecurityConfig{
			BindInterface:       "loopback",
			AllowedNetworks:     []string{"127.0.0.0/8", "::1/128"},
			BlockedIPs:          nil,
			EnableAccessControl: false,
		},
		Feedback: FeedbackConfig{
			Timeout:        600,
			ResubmitPrompt: "No human response was received in time; continuing with default guidance.",
			PromptSuffix:   "",
		},
	}
}
