// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
)

// fakeWorkerBinary writes a shell script invoked like the real worker:
// argv is "worker" <payload> <result> <progress>.
func fakeWorkerBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func startedJob(t *testing.T) *job.Job {
	t.Helper()
	j := job.New("EX", "movie-1", job.Parameters{})
	require.True(t, j.SetStatus(job.StatusDownloading))
	return j
}

func TestSubprocessExecutorSuccess(t *testing.T) {
	script := `printf '{"progress":42,"status":"downloading"}' > "$4"
sleep 1
printf '{"status":"success","output_files":["/out/movie.mkv"]}' > "$3"
`
	e := &SubprocessExecutor{
		Binary:       fakeWorkerBinary(t, script),
		TempDir:      t.TempDir(),
		ProgressPoll: 10 * time.Millisecond,
	}
	j := startedJob(t)

	require.NoError(t, e.Execute(context.Background(), j))
	v := j.Snapshot()
	assert.Equal(t, []string{"/out/movie.mkv"}, v.OutputFiles)
	// The supervisor polled the progress file while the child slept.
	assert.Equal(t, 42.0, v.Progress)
}

func TestSubprocessExecutorErrorResult(t *testing.T) {
	script := `printf '{"status":"error","message":"title is geo restricted","error_code":"GEOFENCE"}' > "$3"
exit 1
`
	e := &SubprocessExecutor{
		Binary:       fakeWorkerBinary(t, script),
		TempDir:      t.TempDir(),
		ProgressPoll: 10 * time.Millisecond,
	}
	j := startedJob(t)

	require.Error(t, e.Execute(context.Background(), j))
	v := j.Snapshot()
	assert.Equal(t, string(apierr.CodeGeofence), v.ErrorCode)
	assert.Equal(t, "title is geo restricted", v.ErrorMessage)
}

func TestSubprocessExecutorMissingResult(t *testing.T) {
	script := `echo "panic: kaboom" >&2
exit 3
`
	e := &SubprocessExecutor{
		Binary:       fakeWorkerBinary(t, script),
		TempDir:      t.TempDir(),
		ProgressPoll: 10 * time.Millisecond,
	}
	j := startedJob(t)

	require.Error(t, e.Execute(context.Background(), j))
	v := j.Snapshot()
	assert.Equal(t, string(apierr.CodeWorkerError), v.ErrorCode)
	assert.Contains(t, v.ErrorMessage, "without a result")
	assert.Contains(t, v.ErrorMessage, "3")
	assert.Contains(t, v.WorkerStderr, "kaboom")
}

func TestSubprocessExecutorCancelTerminates(t *testing.T) {
	e := &SubprocessExecutor{
		Binary:         fakeWorkerBinary(t, "sleep 30\n"),
		TempDir:        t.TempDir(),
		ProgressPoll:   10 * time.Millisecond,
		TerminateGrace: time.Second,
	}
	j := startedJob(t)

	done := make(chan error, 1)
	go func() { done <- e.Execute(context.Background(), j) }()

	// Give the child time to start before cancelling.
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	j.Cancel().Set()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(6 * time.Second):
		t.Fatal("worker survived cancellation")
	}
	assert.Less(t, time.Since(start), 6*time.Second)
}

func TestSubprocessExecutorShutdownTerminates(t *testing.T) {
	e := &SubprocessExecutor{
		Binary:         fakeWorkerBinary(t, "sleep 30\n"),
		TempDir:        t.TempDir(),
		ProgressPoll:   10 * time.Millisecond,
		TerminateGrace: time.Second,
	}
	j := startedJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Execute(ctx, j) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(6 * time.Second):
		t.Fatal("worker survived shutdown")
	}
}
