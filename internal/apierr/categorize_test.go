// SPDX-License-Identifier: MIT

package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeRuleTable(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want Code
	}{
		{"auth", "login failed for account", CodeAuthFailed},
		{"auth dominates network", "auth token endpoint timed out", CodeAuthFailed},
		{"network", "connection reset by peer", CodeNetworkError},
		{"timeout", "request timeout after 30s", CodeNetworkError},
		{"dns", "dns lookup failed", CodeNetworkError},
		{"geofence", "this title is not available in your region", CodeGeofence},
		{"not found", "title does not exist", CodeNotFound},
		{"http 404", "server returned 404", CodeNotFound},
		{"rate limit", "429 too many requests", CodeRateLimited},
		{"drm", "widevine license denied", CodeDRMError},
		{"unavailable", "503 service unavailable", CodeServiceUnavailable},
		{"invalid", "malformed manifest", CodeInvalidInput},
		{"fallback", "something odd happened", CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Categorize(errors.New(tc.msg))
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.Code)
			assert.Equal(t, tc.msg, got.Message)
		})
	}
}

func TestCategorizeCaseInsensitive(t *testing.T) {
	got := Categorize(errors.New("WIDEVINE License DENIED"))
	assert.Equal(t, CodeDRMError, got.Code)
}

func TestCategorizeDeterministic(t *testing.T) {
	// "invalid license" matches both the DRM and the invalid-input rule;
	// DRM comes first in the table and must always win.
	for i := 0; i < 50; i++ {
		got := Categorize(errors.New("invalid license response"))
		require.Equal(t, CodeDRMError, got.Code)
	}
}

func TestCategorizePassthrough(t *testing.T) {
	orig := New(CodeGeofence, "blocked").WithDetails("cdn said no")
	wrapped := fmt.Errorf("during download: %w", orig)

	got := Categorize(wrapped)
	assert.Same(t, orig, got)
}

func TestCategorizeNil(t *testing.T) {
	assert.Nil(t, Categorize(nil))
}

func TestCategorizeGoErrorTypes(t *testing.T) {
	got := Categorize(context.DeadlineExceeded)
	assert.Equal(t, CodeNetworkError, got.Code)
	assert.Equal(t, "TimeoutError", got.TypeName)
}

func TestDefaultsCoverEveryCode(t *testing.T) {
	codes := []Code{
		CodeInvalidInput, CodeInvalidService, CodeInvalidTitleID,
		CodeInvalidProfile, CodeInvalidProxy, CodeInvalidLanguage,
		CodeInvalidParameters, CodeAuthRequired, CodeAuthFailed,
		CodeForbidden, CodeGeofence, CodeNotFound, CodeNoContent,
		CodeJobNotFound, CodeRateLimited, CodeInternalError,
		CodeDownloadError, CodeWorkerError, CodeServiceError,
		CodeDRMError, CodeNetworkError, CodeServiceUnavailable,
	}
	for _, c := range codes {
		assert.True(t, c.IsValid(), "code %s", c)
		assert.NotZero(t, c.HTTPStatus(), "code %s", c)
	}
	assert.False(t, Code("NO_SUCH_CODE").IsValid())
}

func TestRetryableHints(t *testing.T) {
	assert.True(t, CodeNetworkError.Retryable())
	assert.True(t, CodeRateLimited.Retryable())
	assert.True(t, CodeServiceUnavailable.Retryable())
	assert.False(t, CodeAuthFailed.Retryable())
	assert.False(t, CodeDRMError.Retryable())
}

func TestToEnvelope(t *testing.T) {
	ae := New(CodeJobNotFound, "job x not found")
	ae.TypeName = "KeyError"
	ae.Traceback = "stack"

	env := ae.ToEnvelope(false)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, CodeJobNotFound, env.ErrorCode)
	require.NotNil(t, env.Retryable)
	assert.False(t, *env.Retryable)
	assert.Nil(t, env.DebugInfo)
	assert.False(t, env.Timestamp.IsZero())

	debugEnv := ae.ToEnvelope(true)
	require.NotNil(t, debugEnv.DebugInfo)
	assert.Equal(t, "KeyError", debugEnv.DebugInfo.Type)
	assert.Equal(t, "stack", debugEnv.DebugInfo.Traceback)
}

func TestWithStatusOverride(t *testing.T) {
	ae := New(CodeNotFound, "missing").WithStatus(http.StatusGone)
	assert.Equal(t, http.StatusGone, ae.HTTPStatus)
}
