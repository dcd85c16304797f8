// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldService   = "service"
	FieldTitleID   = "title_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldProgress  = "progress"

	// DRM fields
	FieldKID      = "kid"
	FieldKeyCount = "key_count"
)
