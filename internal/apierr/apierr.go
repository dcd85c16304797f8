// SPDX-License-Identifier: MIT

// Package apierr defines the stable error taxonomy exposed by the HTTP API.
// Every failure that crosses the API boundary is either constructed here
// directly (validation) or passed through Categorize exactly once.
package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error class with a stable wire value.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidService     Code = "INVALID_SERVICE"
	CodeInvalidTitleID     Code = "INVALID_TITLE_ID"
	CodeInvalidProfile     Code = "INVALID_PROFILE"
	CodeInvalidProxy       Code = "INVALID_PROXY"
	CodeInvalidLanguage    Code = "INVALID_LANGUAGE"
	CodeInvalidParameters  Code = "INVALID_PARAMETERS"
	CodeAuthRequired       Code = "AUTH_REQUIRED"
	CodeAuthFailed         Code = "AUTH_FAILED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeGeofence           Code = "GEOFENCE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeNoContent          Code = "NO_CONTENT"
	CodeJobNotFound        Code = "JOB_NOT_FOUND"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeDownloadError      Code = "DOWNLOAD_ERROR"
	CodeWorkerError        Code = "WORKER_ERROR"
	CodeServiceError       Code = "SERVICE_ERROR"
	CodeDRMError           Code = "DRM_ERROR"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// defaults maps every code to its default HTTP status and retryable hint.
var defaults = map[Code]struct {
	status    int
	retryable bool
}{
	CodeInvalidInput:       {http.StatusBadRequest, false},
	CodeInvalidService:     {http.StatusBadRequest, false},
	CodeInvalidTitleID:     {http.StatusBadRequest, false},
	CodeInvalidProfile:     {http.StatusBadRequest, false},
	CodeInvalidProxy:       {http.StatusBadRequest, false},
	CodeInvalidLanguage:    {http.StatusBadRequest, false},
	CodeInvalidParameters:  {http.StatusBadRequest, false},
	CodeAuthRequired:       {http.StatusUnauthorized, false},
	CodeAuthFailed:         {http.StatusUnauthorized, false},
	CodeForbidden:          {http.StatusForbidden, false},
	CodeGeofence:           {http.StatusForbidden, false},
	CodeNotFound:           {http.StatusNotFound, false},
	CodeNoContent:          {http.StatusNotFound, false},
	CodeJobNotFound:        {http.StatusNotFound, false},
	CodeRateLimited:        {http.StatusTooManyRequests, true},
	CodeInternalError:      {http.StatusInternalServerError, false},
	CodeDownloadError:      {http.StatusInternalServerError, false},
	CodeWorkerError:        {http.StatusInternalServerError, false},
	CodeServiceError:       {http.StatusBadGateway, false},
	CodeDRMError:           {http.StatusBadGateway, false},
	CodeNetworkError:       {http.StatusServiceUnavailable, true},
	CodeServiceUnavailable: {http.StatusServiceUnavailable, true},
}

// IsValid reports whether the code is part of the taxonomy.
func (c Code) IsValid() bool {
	_, ok := defaults[c]
	return ok
}

// HTTPStatus returns the default HTTP status for the code.
func (c Code) HTTPStatus() int {
	if d, ok := defaults[c]; ok {
		return d.status
	}
	return http.StatusInternalServerError
}

// Retryable returns the default retryable hint for the code.
func (c Code) Retryable() bool {
	if d, ok := defaults[c]; ok {
		return d.retryable
	}
	return false
}

// Error is a categorised failure with a stable code and HTTP mapping.
type Error struct {
	Code       Code
	Message    string
	Details    string
	Retryable  bool
	HTTPStatus int

	// Debug-only context, emitted when the debug flag is set.
	TypeName  string
	Traceback string
}

// New constructs an Error with the code's default status and retryable hint.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Retryable:  code.Retryable(),
		HTTPStatus: code.HTTPStatus(),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails attaches free-form detail text.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithStatus overrides the default HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope is the JSON error body written by the API layer.
type Envelope struct {
	Status    string     `json:"status"`
	ErrorCode Code       `json:"error_code"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Details   string     `json:"details,omitempty"`
	Retryable *bool      `json:"retryable,omitempty"`
	DebugInfo *DebugInfo `json:"debug_info,omitempty"`
}

// DebugInfo carries diagnostic context, included only in debug mode.
type DebugInfo struct {
	Type      string `json:"type,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// ToEnvelope renders the error as a response body. When debug is true the
// original type name and traceback are included.
func (e *Error) ToEnvelope(debug bool) Envelope {
	env := Envelope{
		Status:    "error",
		ErrorCode: e.Code,
		Message:   e.Message,
		Timestamp: time.Now().UTC(),
		Details:   e.Details,
	}
	retryable := e.Retryable
	env.Retryable = &retryable
	if debug && (e.TypeName != "" || e.Traceback != "") {
		env.DebugInfo = &DebugInfo{Type: e.TypeName, Traceback: e.Traceback}
	}
	return env
}
