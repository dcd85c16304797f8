// SPDX-License-Identifier: MIT

package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unshackle-dl/unshackle/internal/apierr"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusDownloading, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusFailed, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusDownloading, StatusQueued, false},
		{StatusCompleted, StatusDownloading, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusDownloading, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusDownloading.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())

	for _, s := range AllStatuses() {
		assert.True(t, s.IsValid())
	}
	assert.False(t, Status("paused").IsValid())

	_, err := ParseStatus("queued")
	assert.NoError(t, err)
	_, err = ParseStatus("bogus")
	assert.Error(t, err)
}

func TestJobTimestampInvariants(t *testing.T) {
	j := New("EX", "TT001", Parameters{})
	v := j.Snapshot()
	assert.Equal(t, StatusQueued, v.Status)
	assert.Nil(t, v.StartedTime)
	assert.Nil(t, v.CompletedTime)
	assert.False(t, v.CreatedTime.IsZero())

	require.True(t, j.SetStatus(StatusDownloading))
	v = j.Snapshot()
	require.NotNil(t, v.StartedTime)
	assert.Nil(t, v.CompletedTime)
	assert.True(t, !v.StartedTime.Before(v.CreatedTime))

	require.True(t, j.SetStatus(StatusCompleted))
	v = j.Snapshot()
	require.NotNil(t, v.CompletedTime)
	assert.True(t, !v.CompletedTime.Before(*v.StartedTime))
	assert.Equal(t, 100.0, v.Progress)
}

func TestInvalidTransitionIgnored(t *testing.T) {
	j := New("EX", "TT001", Parameters{})
	require.True(t, j.SetStatus(StatusCancelled))
	assert.False(t, j.SetStatus(StatusDownloading))
	assert.Equal(t, StatusCancelled, j.Status())
}

func TestProgressMonotone(t *testing.T) {
	j := New("EX", "TT001", Parameters{})

	// Progress is ignored while queued.
	j.SetProgress(10)
	assert.Equal(t, 0.0, j.Progress())

	require.True(t, j.SetStatus(StatusDownloading))
	j.SetProgress(25)
	assert.Equal(t, 25.0, j.Progress())

	// Regressions and out-of-range values are dropped.
	j.SetProgress(10)
	assert.Equal(t, 25.0, j.Progress())
	j.SetProgress(-5)
	assert.Equal(t, 25.0, j.Progress())
	j.SetProgress(150)
	assert.Equal(t, 25.0, j.Progress())

	j.SetProgress(80)
	assert.Equal(t, 80.0, j.Progress())
}

func TestCancelEventWriteOnce(t *testing.T) {
	e := NewCancelEvent()
	assert.False(t, e.IsSet())

	e.Set()
	assert.True(t, e.IsSet())
	// Second Set must not panic on the closed channel.
	e.Set()
	assert.True(t, e.IsSet())

	select {
	case <-e.Done():
	default:
		t.Fatal("Done channel not closed after Set")
	}
}

func TestSetError(t *testing.T) {
	j := New("EX", "TT001", Parameters{})
	require.True(t, j.SetStatus(StatusDownloading))
	j.SetError(apierr.CodeDRMError, "license denied", "details", "trace", "stderr text")
	require.True(t, j.SetStatus(StatusFailed))

	v := j.Snapshot()
	assert.Equal(t, string(apierr.CodeDRMError), v.ErrorCode)
	assert.Equal(t, "license denied", v.ErrorMessage)
	assert.Equal(t, "stderr text", v.WorkerStderr)
}

func TestTerminalAge(t *testing.T) {
	j := New("EX", "TT001", Parameters{})
	_, terminal := j.TerminalAge(time.Now())
	assert.False(t, terminal)

	require.True(t, j.SetStatus(StatusCancelled))
	age, terminal := j.TerminalAge(time.Now().Add(2 * time.Hour))
	require.True(t, terminal)
	assert.InDelta(t, (2 * time.Hour).Seconds(), age.Seconds(), 5)
}

func TestUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		j := New("EX", "TT001", Parameters{})
		assert.False(t, seen[j.ID()])
		seen[j.ID()] = true
	}
}
