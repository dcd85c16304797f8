// SPDX-License-Identifier: MIT

package apierr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// rule maps message substrings (or type names) to a code. Rules are
// evaluated in order; the first match wins. Order is part of the contract:
// authentication dominates network, so a token endpoint timing out is
// reported as NETWORK_ERROR unless the message itself says "auth".
type rule struct {
	code       Code
	substrings []string
	typeNames  []string
}

var categorizeRules = []rule{
	{
		code:       CodeAuthFailed,
		substrings: []string{"auth", "login", "credential", "unauthorized", "forbidden", "token"},
	},
	{
		code:       CodeNetworkError,
		substrings: []string{"connection", "timeout", "network", "unreachable", "socket", "dns", "resolve"},
		typeNames:  []string{"ConnectionError", "TimeoutError", "URLError", "SSLError"},
	},
	{
		code:       CodeGeofence,
		substrings: []string{"geofence", "region", "not available in", "territory"},
	},
	{
		code:       CodeNotFound,
		substrings: []string{"not found", "404", "does not exist", "invalid id"},
	},
	{
		code:       CodeRateLimited,
		substrings: []string{"rate limit", "too many requests", "429", "throttle"},
	},
	{
		code:       CodeDRMError,
		substrings: []string{"drm", "license", "widevine", "playready", "decrypt"},
	},
	{
		code:       CodeServiceUnavailable,
		substrings: []string{"service unavailable", "503", "maintenance", "temporarily unavailable"},
	},
	{
		code:       CodeInvalidInput,
		substrings: []string{"invalid", "malformed", "validation"},
		typeNames:  []string{"ValueError", "ValidationError"},
	},
}

// Categorize maps an arbitrary failure onto the taxonomy. Errors that are
// already *Error pass through unchanged. The function is pure with respect
// to (message, type name) and the rule order is stable across versions.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	typeName := errTypeName(err)
	message := err.Error()
	lower := strings.ToLower(message)

	for _, r := range categorizeRules {
		if matches(r, lower, typeName) {
			out := New(r.code, message)
			out.TypeName = typeName
			return out
		}
	}
	out := New(CodeInternalError, message)
	out.TypeName = typeName
	return out
}

func matches(r rule, lowerMsg, typeName string) bool {
	for _, s := range r.substrings {
		if strings.Contains(lowerMsg, s) {
			return true
		}
	}
	for _, t := range r.typeNames {
		if t == typeName {
			return true
		}
	}
	return false
}

// errTypeName maps well-known Go error types onto the categorizer's type
// vocabulary, falling back to the dynamic type name.
func errTypeName(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "TimeoutError"
		}
		return "ConnectionError"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "URLError"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "SSLError"
	}
	return fmt.Sprintf("%T", err)
}
