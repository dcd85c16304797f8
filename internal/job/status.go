// SPDX-License-Identifier: MIT

// Package job provides the download job record, its lifecycle states and
// the validation of download request parameters.
package job

import (
	"encoding/json"
	"fmt"
)

// Status represents the current state of a download job.
type Status string

const (
	// StatusQueued indicates the job is waiting for a scheduler slot.
	StatusQueued Status = "queued"

	// StatusDownloading indicates a worker subprocess is executing the job.
	StatusDownloading Status = "downloading"

	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the job terminated with an error.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the job was cancelled.
	StatusCancelled Status = "cancelled"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is one of the defined constants.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the status represents a final state. A job in
// a terminal state never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status may transition to target.
//
// Valid transitions:
//   - Queued → Downloading, Cancelled
//   - Downloading → Completed, Failed, Cancelled
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return target == StatusDownloading || target == StatusCancelled
	case StatusDownloading:
		return target == StatusCompleted || target == StatusFailed || target == StatusCancelled
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := Status(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}
	*s = status
	return nil
}

// ParseStatus parses a string into a Status, returning an error if invalid.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q (valid: queued, downloading, completed, failed, cancelled)", s)
	}
	return status, nil
}

// AllStatuses returns all defined job statuses.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled}
}
