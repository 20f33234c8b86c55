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

package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"intervene/pkg/feedback"
)

// AccessControl enforces network_security policy on every request (spec
// §4.5, §3): a client must fall within allowed_networks and must not
// appear in blocked_ips, unless enable_access_control is false (in which
// case the policy is bypassed entirely) or the request arrives over the
// loopback interface while the server is bound to loopback. An empty
// allowed_networks list admits every client not in blocked_ips. No CIDR
// library appears in the pack — stdlib net.ParseCIDR/Contains is exactly
// what this check needs and nothing more.
type AccessControl struct {
	cfg    func() feedback.NetworkSecurityConfig
	logger *slog.Logger
}

// NewAccessControl constructs an AccessControl middleware. cfg is called
// on every request so a config reload takes effect immediately.
func NewAccessControl(cfg func() feedback.NetworkSecurityConfig, logger *slog.Logger) *AccessControl {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessControl{cfg: cfg, logger: logger}
}

// Middleware returns the http middleware enforcing the current policy.
func (a *AccessControl) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := a.cfg()
		if !policy.EnableAccessControl {
			next.ServeHTTP(w, r)
			return
		}

		ip := parseRequestIP(r)
		if ip == nil {
			a.deny(w, r, "unparseable client address")
			return
		}

		if policy.BindInterface == "loopback" && ip.IsLoopback() {
			next.ServeHTTP(w, r)
			return
		}

		for _, blocked := range policy.BlockedIPs {
			if bip := net.ParseIP(blocked); bip != nil && bip.Equal(ip) {
				a.deny(w, r, "client IP is blocked")
				return
			}
		}

		if len(policy.AllowedNetworks) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		for _, cidr := range policy.AllowedNetworks {
			_, network, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				next.ServeHTTP(w, r)
				return
			}
		}

		a.deny(w, r, "client network not in allowed_networks")
	})
}

func (a *AccessControl) deny(w http.ResponseWriter, r *http.Request, reason string) {
	a.logger.Warn("access denied", "remote_addr", r.RemoteAddr, "reason", reason, "path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": "access denied by network policy",
	})
}

func parseRequestIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
