// SPDX-License-Identifier: MIT

// Package scheduler owns the download job table and the bounded worker
// pool that executes jobs in worker subprocesses. Jobs are in-memory only:
// a daemon restart forgets them, and stale worker temp files are swept at
// startup.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/metrics"
	"github.com/unshackle-dl/unshackle/internal/worker"
)

const (
	defaultMaxConcurrent  = 2
	defaultQueueCapacity  = 256
	defaultProgressPoll   = 500 * time.Millisecond
	defaultTerminateGrace = 5 * time.Second
	defaultSweepInterval  = time.Hour
	defaultRetention      = 24 * time.Hour
)

// Config tunes the scheduler.
type Config struct {
	// MaxConcurrent is the number of jobs executing at once.
	MaxConcurrent int

	// QueueCapacity bounds the number of queued jobs before submissions
	// are rejected.
	QueueCapacity int

	// Retention is how long terminal jobs stay listable before the
	// sweeper removes them.
	Retention time.Duration

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration

	// TempDir is where worker temp files live. Empty means the OS temp
	// dir. Swept for leftovers at startup.
	TempDir string
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// Manager schedules download jobs onto a fixed pool of workers.
type Manager struct {
	cfg  Config
	exec Executor

	mu   sync.RWMutex
	jobs map[string]*job.Job

	queue chan *job.Job
}

// New builds a manager. The executor runs individual jobs; pass a
// SubprocessExecutor in production.
func New(cfg Config, exec Executor) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:   cfg,
		exec:  exec,
		jobs:  make(map[string]*job.Job),
		queue: make(chan *job.Job, cfg.QueueCapacity),
	}
}

// Run starts the worker pool and the retention sweeper and blocks until
// ctx is done and every in-flight job has stopped. Leftover worker temp
// files from a previous crash are removed first.
func (m *Manager) Run(ctx context.Context) error {
	if n := worker.SweepLeftovers(m.cfg.TempDir); n > 0 {
		logger := log.WithComponent("scheduler")
		logger.Info().Int("files", n).Msg("removed stale worker temp files")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.MaxConcurrent; i++ {
		g.Go(func() error {
			m.workerLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		m.sweepLoop(ctx)
		return nil
	})
	return g.Wait()
}

// Submit validates nothing (the API layer already has) and enqueues a new
// job in the Queued state. A full queue is reported as SERVICE_UNAVAILABLE.
func (m *Manager) Submit(service, titleID string, params job.Parameters) (*job.Job, *apierr.Error) {
	j := job.New(service, titleID, params)

	m.mu.Lock()
	m.jobs[j.ID()] = j
	m.mu.Unlock()

	select {
	case m.queue <- j:
	default:
		m.mu.Lock()
		delete(m.jobs, j.ID())
		m.mu.Unlock()
		return nil, apierr.New(apierr.CodeServiceUnavailable, "download queue is full")
	}

	metrics.RecordJobSubmitted(service)
	metrics.QueuedJobs.Inc()
	logger := log.WithComponent("scheduler")
	logger.Info().
		Str(log.FieldJobID, j.ID()).
		Str(log.FieldService, service).
		Str(log.FieldTitleID, titleID).
		Msg("job queued")
	return j, nil
}

// Get returns the job with the given id.
func (m *Manager) Get(id string) (*job.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// ListFilter narrows and orders List results.
type ListFilter struct {
	Status  *job.Status
	Service string

	// SortBy is created_time (default), status or service.
	SortBy string

	// SortOrder is asc or desc (default).
	SortOrder string
}

// List returns snapshots of the jobs matching the filter, sorted.
func (m *Manager) List(f ListFilter) []job.View {
	m.mu.RLock()
	views := make([]job.View, 0, len(m.jobs))
	for _, j := range m.jobs {
		v := j.Snapshot()
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		if f.Service != "" && !strings.EqualFold(v.Service, f.Service) {
			continue
		}
		views = append(views, v)
	}
	m.mu.RUnlock()

	asc := strings.EqualFold(f.SortOrder, "asc")
	sort.Slice(views, func(a, b int) bool {
		var less bool
		switch f.SortBy {
		case "status":
			less = views[a].Status < views[b].Status
		case "service":
			less = views[a].Service < views[b].Service
		default:
			less = views[a].CreatedTime.Before(views[b].CreatedTime)
		}
		if asc {
			return less
		}
		return !less
	})
	return views
}

// CancelJob requests cancellation of a job. Cancelling a queued job is
// immediate; a downloading job has its cancel event set and the supervising
// worker terminates the subprocess. Terminal jobs report cancelled=false.
// Repeated cancels of the same job are idempotent.
func (m *Manager) CancelJob(id string) (bool, *apierr.Error) {
	j, ok := m.Get(id)
	if !ok {
		return false, apierr.Newf(apierr.CodeJobNotFound, "job %s not found", id)
	}

	logger := log.WithComponent("scheduler")
	switch j.Status() {
	case job.StatusQueued:
		j.Cancel().Set()
		if j.SetStatus(job.StatusCancelled) {
			metrics.QueuedJobs.Dec()
			metrics.RecordJobFinished("cancelled")
			logger.Info().Str(log.FieldJobID, id).Msg("queued job cancelled")
			return true, nil
		}
		// Lost the race against a worker picking it up; fall through to
		// the downloading path via the already-set event.
		return true, nil

	case job.StatusDownloading:
		j.Cancel().Set()
		logger.Info().Str(log.FieldJobID, id).Msg("cancellation requested")
		return true, nil

	default:
		return false, nil
	}
}

// workerLoop takes jobs off the queue until ctx is done.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-m.queue:
			m.runJob(ctx, j)
		}
	}
}

// runJob drives one job through the executor and applies the terminal
// transition.
func (m *Manager) runJob(ctx context.Context, j *job.Job) {
	logger := log.WithComponent("scheduler").With().Str(log.FieldJobID, j.ID()).Logger()

	// Cancelled while queued: the status already flipped and CancelJob
	// accounted for the queue gauge, nothing to run.
	if !j.SetStatus(job.StatusDownloading) {
		return
	}
	metrics.QueuedJobs.Dec()
	if j.Cancel().IsSet() {
		// Cancel raced the pickup; honour it without spawning a worker.
		j.SetStatus(job.StatusCancelled)
		metrics.RecordJobFinished("cancelled")
		return
	}

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()
	logger.Info().
		Str(log.FieldOldStatus, job.StatusQueued.String()).
		Str(log.FieldNewStatus, job.StatusDownloading.String()).
		Msg("job started")

	err := m.exec.Execute(ctx, j)
	switch {
	case err == nil:
		j.SetStatus(job.StatusCompleted)
		metrics.RecordJobFinished("completed")
		logger.Info().Str(log.FieldNewStatus, job.StatusCompleted.String()).Msg("job completed")

	case errors.Is(err, ErrCancelled) || j.Cancel().IsSet():
		j.SetStatus(job.StatusCancelled)
		metrics.RecordJobFinished("cancelled")
		logger.Info().Str(log.FieldNewStatus, job.StatusCancelled.String()).Msg("job cancelled")

	default:
		if j.Snapshot().ErrorCode == "" {
			ae := apierr.Categorize(err)
			j.SetError(ae.Code, ae.Message, ae.Details, ae.Traceback, "")
		}
		j.SetStatus(job.StatusFailed)
		metrics.RecordJobFinished("failed")
		logger.Error().Err(err).Str(log.FieldNewStatus, job.StatusFailed.String()).Msg("job failed")
	}
}

// sweepLoop periodically removes terminal jobs past the retention window.
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now().UTC())
		}
	}
}

// Sweep removes terminal jobs whose terminal age exceeds the retention
// duration and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if age, terminal := j.TerminalAge(now); terminal && age > m.cfg.Retention {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.JobsSweptTotal.Add(float64(removed))
		logger := log.WithComponent("scheduler")
		logger.Info().Int("removed", removed).Msg("swept expired jobs")
	}
	return removed
}
