// SPDX-License-Identifier: MIT

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/metrics"
	"github.com/unshackle-dl/unshackle/internal/procgroup"
	"github.com/unshackle-dl/unshackle/internal/worker"
)

// ErrCancelled signals that an execution stopped because the job's cancel
// event fired (or the daemon is shutting down). The manager maps it to the
// Cancelled status instead of Failed.
var ErrCancelled = errors.New("job cancelled")

// Executor runs one job to completion. Implementations set output files
// and error fields on the job; the manager owns the status transitions.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) error
}

// maxStderr bounds how much child stderr is retained per job.
const maxStderr = 64 * 1024

// SubprocessExecutor runs a job in a re-exec'd worker subprocess, handing
// the job over through temp files and polling the progress file while the
// child runs.
type SubprocessExecutor struct {
	// Binary is the worker executable. Empty means re-exec ourselves.
	Binary string

	// TempDir holds the payload/result/progress files. Empty means the
	// OS temp dir.
	TempDir string

	// ProgressPoll is the interval between progress file reads.
	ProgressPoll time.Duration

	// TerminateGrace is how long a cancelled child gets between SIGTERM
	// and SIGKILL.
	TerminateGrace time.Duration
}

// Execute spawns the worker subprocess for j and supervises it until exit
// or cancellation.
func (e *SubprocessExecutor) Execute(ctx context.Context, j *job.Job) error {
	logger := log.WithComponent("scheduler").With().Str(log.FieldJobID, j.ID()).Logger()

	binary := e.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return e.fail(j, apierr.New(apierr.CodeWorkerError, "cannot locate worker binary").WithDetails(err.Error()), "")
		}
		binary = self
	}

	tf, err := worker.CreateTempFiles(e.TempDir, j.ID())
	if err != nil {
		return e.fail(j, apierr.New(apierr.CodeWorkerError, "cannot allocate worker temp files").WithDetails(err.Error()), "")
	}
	defer tf.Remove()

	payload := worker.Payload{
		JobID:      j.ID(),
		Service:    j.Service(),
		TitleID:    j.TitleID(),
		Parameters: j.Params(),
	}
	if err := worker.WritePayload(tf.Payload, payload); err != nil {
		return e.fail(j, apierr.New(apierr.CodeWorkerError, "cannot write worker payload").WithDetails(err.Error()), "")
	}

	cmd := exec.Command(binary, "worker", tf.Payload, tf.Result, tf.Progress) // #nosec G204 -- re-exec of our own binary
	var stderr bytes.Buffer
	cmd.Stderr = &capWriter{w: &stderr, limit: maxStderr}
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		metrics.RecordWorkerSpawn("error")
		return e.fail(j, apierr.New(apierr.CodeWorkerError, "cannot spawn worker subprocess").WithDetails(err.Error()), "")
	}
	metrics.RecordWorkerSpawn("ok")
	logger.Info().Int(log.FieldPID, cmd.Process.Pid).Msg("worker started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	waitErr, cancelled := e.supervise(ctx, j, tf.Progress, waitCh, cmd, logger)
	if cancelled {
		return ErrCancelled
	}

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			exitCode = ee.ExitCode()
		}
	}
	metrics.RecordWorkerExit(strconv.Itoa(exitCode))
	logger.Info().Int(log.FieldExitCode, exitCode).Msg("worker exited")

	res, resErr := worker.ReadResult(tf.Result)
	if resErr != nil {
		ae := apierr.Newf(apierr.CodeWorkerError, "worker exited with code %d without a result", exitCode).
			WithDetails(resErr.Error())
		return e.fail(j, ae, stderr.String())
	}
	if exitCode != 0 || res.Status != "success" {
		code := apierr.Code(res.ErrorCode)
		if !code.IsValid() {
			code = apierr.CodeWorkerError
		}
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("worker exited with code %d", exitCode)
		}
		ae := apierr.New(code, msg).WithDetails(res.ErrorDetails)
		ae.Traceback = res.Traceback
		return e.fail(j, ae, stderr.String())
	}

	j.SetOutputFiles(res.OutputFiles)
	return nil
}

// supervise polls the progress file and watches for cancellation until the
// child exits. It returns the wait error and whether the run ended through
// cancellation.
func (e *SubprocessExecutor) supervise(ctx context.Context, j *job.Job, progressPath string, waitCh chan error, cmd *exec.Cmd, logger zerolog.Logger) (error, bool) {
	poll := e.ProgressPoll
	if poll <= 0 {
		poll = defaultProgressPoll
	}
	grace := e.TerminateGrace
	if grace <= 0 {
		grace = defaultTerminateGrace
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			if p, ok := worker.ReadProgress(progressPath); ok {
				j.SetProgress(p.Progress)
			}
			return err, false

		case <-ticker.C:
			if p, ok := worker.ReadProgress(progressPath); ok {
				j.SetProgress(p.Progress)
			}

		case <-j.Cancel().Done():
			logger.Info().Msg("cancelling worker")
			if err := procgroup.Terminate(cmd, waitCh, grace); err != nil {
				logger.Warn().Err(err).Msg("worker did not terminate cleanly")
			}
			return nil, true

		case <-ctx.Done():
			logger.Info().Msg("shutdown, terminating worker")
			if err := procgroup.Terminate(cmd, waitCh, grace); err != nil {
				logger.Warn().Err(err).Msg("worker did not terminate cleanly")
			}
			return nil, true
		}
	}
}

// fail records the error on the job and returns it.
func (e *SubprocessExecutor) fail(j *job.Job, ae *apierr.Error, stderr string) error {
	j.SetError(ae.Code, ae.Message, ae.Details, ae.Traceback, stderr)
	return ae
}

// capWriter discards writes past its limit so a chatty child cannot grow
// the stderr buffer without bound.
type capWriter struct {
	w     io.Writer
	limit int
	n     int
}

func (c *capWriter) Write(p []byte) (int, error) {
	if c.n >= c.limit {
		return len(p), nil
	}
	keep := p
	if c.n+len(keep) > c.limit {
		keep = keep[:c.limit-c.n]
	}
	n, err := c.w.Write(keep)
	c.n += n
	return len(p), err
}
