// SPDX-License-Identifier: MIT

// Package health aggregates the daemon's liveness report.
package health

import (
	"context"

	"github.com/unshackle-dl/unshackle/internal/update"
	"github.com/unshackle-dl/unshackle/internal/version"
)

// Response is the body of GET /health.
type Response struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	UpdateCheck *update.Status `json:"update_check,omitempty"`
}

// Manager produces health responses.
type Manager struct {
	updates *update.Checker
}

// NewManager builds a manager. A nil checker omits update information.
func NewManager(updates *update.Checker) *Manager {
	return &Manager{updates: updates}
}

// Check reports the daemon as healthy, with version and update status.
// The daemon serving the request is the liveness signal itself.
func (m *Manager) Check(ctx context.Context) Response {
	resp := Response{
		Status:  "ok",
		Version: version.Version,
	}
	if m.updates != nil {
		st := m.updates.Check(ctx)
		resp.UpdateCheck = &st
	}
	return resp
}
