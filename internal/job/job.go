// SPDX-License-Identifier: MIT

package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unshackle-dl/unshackle/internal/apierr"
)

// CancelEvent is a single-shot, thread-safe cancellation signal. Once set
// it is never cleared. It is in-memory state only and never persisted.
type CancelEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelEvent returns an unset event.
func NewCancelEvent() *CancelEvent {
	return &CancelEvent{ch: make(chan struct{})}
}

// Set fires the event. Safe to call multiple times.
func (e *CancelEvent) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has fired.
func (e *CancelEvent) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event fires.
func (e *CancelEvent) Done() <-chan struct{} {
	return e.ch
}

// Job is the record of one download request and its lifecycle. Mutations
// go through the setters, which guard the status DAG and the progress
// monotonicity invariant.
type Job struct {
	mu sync.RWMutex

	id            string
	status        Status
	createdTime   time.Time
	startedTime   *time.Time
	completedTime *time.Time
	service       string
	titleID       string
	params        Parameters
	progress      float64
	outputFiles   []string

	errMessage   string
	errDetails   string
	errCode      apierr.Code
	errTraceback string
	workerStderr string

	cancel *CancelEvent
}

// New creates a job in the Queued state with a fresh random identifier.
func New(service, titleID string, params Parameters) *Job {
	return &Job{
		id:          uuid.NewString(),
		status:      StatusQueued,
		createdTime: time.Now().UTC(),
		service:     service,
		titleID:     titleID,
		params:      params,
		cancel:      NewCancelEvent(),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Cancel returns the job's cancellation event.
func (j *Job) Cancel() *CancelEvent { return j.cancel }

// Service returns the service tag.
func (j *Job) Service() string { return j.service }

// TitleID returns the title identifier.
func (j *Job) TitleID() string { return j.titleID }

// Params returns the job's download parameters.
func (j *Job) Params() Parameters {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.params
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the current progress percentage.
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// SetStatus transitions the job and maintains the timestamp invariants:
// started_time is set on first entry into Downloading, completed_time on
// entry into any terminal state. Invalid transitions are ignored and
// reported as false.
func (j *Job) SetStatus(target Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransitionTo(target) {
		return false
	}
	j.status = target
	now := time.Now().UTC()
	if target == StatusDownloading && j.startedTime == nil {
		j.startedTime = &now
	}
	if target.IsTerminal() {
		j.completedTime = &now
	}
	if target == StatusCompleted {
		j.progress = 100.0
	}
	return true
}

// SetProgress updates progress; values outside [0, 100] or below the
// current value are ignored, keeping progress weakly monotone while the
// job is downloading.
func (j *Job) SetProgress(p float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDownloading {
		return
	}
	if p < 0 || p > 100 || p < j.progress {
		return
	}
	j.progress = p
}

// SetOutputFiles records the produced files. Only meaningful for jobs
// entering Completed.
func (j *Job) SetOutputFiles(files []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outputFiles = append([]string(nil), files...)
}

// SetError records error fields for a failed job.
func (j *Job) SetError(code apierr.Code, message, details, traceback, stderr string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errCode = code
	j.errMessage = message
	j.errDetails = details
	j.errTraceback = traceback
	j.workerStderr = stderr
}

// TerminalAge returns how long the job has been terminal relative to now,
// falling back to created_time if the job never completed. The second
// return is false for non-terminal jobs.
func (j *Job) TerminalAge(now time.Time) (time.Duration, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.status.IsTerminal() {
		return 0, false
	}
	ref := j.createdTime
	if j.completedTime != nil {
		ref = *j.completedTime
	}
	return now.Sub(ref), true
}

// View is an immutable JSON-ready snapshot of a job.
type View struct {
	ID            string     `json:"job_id"`
	Status        Status     `json:"status"`
	CreatedTime   time.Time  `json:"created_time"`
	StartedTime   *time.Time `json:"started_time,omitempty"`
	CompletedTime *time.Time `json:"completed_time,omitempty"`
	Service       string     `json:"service"`
	TitleID       string     `json:"title_id"`
	Progress      float64    `json:"progress"`
	OutputFiles   []string   `json:"output_files,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ErrorDetails  string     `json:"error_details,omitempty"`
	Traceback     string     `json:"traceback,omitempty"`
	WorkerStderr  string     `json:"worker_stderr,omitempty"`
}

// Snapshot returns a consistent view of the job.
func (j *Job) Snapshot() View {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := View{
		ID:           j.id,
		Status:       j.status,
		CreatedTime:  j.createdTime,
		Service:      j.service,
		TitleID:      j.titleID,
		Progress:     j.progress,
		OutputFiles:  append([]string(nil), j.outputFiles...),
		ErrorCode:    string(j.errCode),
		ErrorMessage: j.errMessage,
		ErrorDetails: j.errDetails,
		Traceback:    j.errTraceback,
		WorkerStderr: j.workerStderr,
	}
	if j.startedTime != nil {
		t := *j.startedTime
		v.StartedTime = &t
	}
	if j.completedTime != nil {
		t := *j.completedTime
		v.CompletedTime = &t
	}
	return v
}
