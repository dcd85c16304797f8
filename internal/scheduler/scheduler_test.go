// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
	"github.com/unshackle-dl/unshackle/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubExecutor drives jobs without spawning subprocesses.
type stubExecutor struct {
	mu      sync.Mutex
	active  int
	maxSeen int

	block   chan struct{} // when set, Execute waits for close or cancel
	failErr error
}

func (s *stubExecutor) Execute(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	block := s.block
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-j.Cancel().Done():
			return ErrCancelled
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	if s.failErr != nil {
		return s.failErr
	}
	j.SetProgress(100)
	j.SetOutputFiles([]string{"/out/movie.mkv"})
	return nil
}

func startManager(t *testing.T, cfg Config, exec Executor) (*Manager, context.CancelFunc) {
	t.Helper()
	cfg.TempDir = t.TempDir()
	m := New(cfg, exec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, cancel
}

func waitStatus(t *testing.T, m *Manager, id string, want job.Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		j, ok := m.Get(id)
		require.True(t, ok)
		if j.Status() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s stuck in %s, want %s", id, j.Status(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{})

	j, ae := m.Submit("EX", "TT001", job.Parameters{})
	require.Nil(t, ae)
	assert.Equal(t, job.StatusQueued, j.Status())

	waitStatus(t, m, j.ID(), job.StatusCompleted)
	v := j.Snapshot()
	assert.Equal(t, 100.0, v.Progress)
	assert.Equal(t, []string{"/out/movie.mkv"}, v.OutputFiles)
	require.NotNil(t, v.StartedTime)
	require.NotNil(t, v.CompletedTime)
}

func TestFailureRecordsError(t *testing.T) {
	exec := &stubExecutor{failErr: errors.New("connection reset")}
	m, _ := startManager(t, Config{MaxConcurrent: 1}, exec)

	j, ae := m.Submit("EX", "TT001", job.Parameters{})
	require.Nil(t, ae)

	waitStatus(t, m, j.ID(), job.StatusFailed)
	v := j.Snapshot()
	assert.Equal(t, string(apierr.CodeNetworkError), v.ErrorCode)
	assert.Equal(t, "connection reset", v.ErrorMessage)
}

func TestConcurrencyBounded(t *testing.T) {
	block := make(chan struct{})
	exec := &stubExecutor{block: block}
	m, _ := startManager(t, Config{MaxConcurrent: 2}, exec)

	var jobs []*job.Job
	for i := 0; i < 5; i++ {
		j, ae := m.Submit("EX", "TT", job.Parameters{})
		require.Nil(t, ae)
		jobs = append(jobs, j)
	}

	// Two slots fill; the rest stay queued.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.active == 2
	}, 5*time.Second, 10*time.Millisecond)

	queued := 0
	for _, j := range jobs {
		if j.Status() == job.StatusQueued {
			queued++
		}
	}
	assert.Equal(t, 3, queued)

	close(block)
	for _, j := range jobs {
		waitStatus(t, m, j.ID(), job.StatusCompleted)
	}
	exec.mu.Lock()
	assert.LessOrEqual(t, exec.maxSeen, 2)
	exec.mu.Unlock()
}

func TestCancelQueuedJob(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{block: block})

	// Occupy the single slot so the second job stays queued.
	running, ae := m.Submit("EX", "TT1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, running.ID(), job.StatusDownloading)

	queued, ae := m.Submit("EX", "TT2", job.Parameters{})
	require.Nil(t, ae)

	cancelled, cErr := m.CancelJob(queued.ID())
	require.Nil(t, cErr)
	assert.True(t, cancelled)
	assert.Equal(t, job.StatusCancelled, queued.Status())

	// Cancelled-while-queued jobs never enter Downloading.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, job.StatusCancelled, queued.Status())
	assert.Nil(t, queued.Snapshot().StartedTime)
}

func TestCancelDownloadingJob(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{block: block})

	j, ae := m.Submit("EX", "TT1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, j.ID(), job.StatusDownloading)

	cancelled, cErr := m.CancelJob(j.ID())
	require.Nil(t, cErr)
	assert.True(t, cancelled)
	waitStatus(t, m, j.ID(), job.StatusCancelled)
}

func TestCancelIdempotent(t *testing.T) {
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{})

	j, ae := m.Submit("EX", "TT1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, j.ID(), job.StatusCompleted)

	// Cancelling a terminal job reports false without error, every time.
	for i := 0; i < 3; i++ {
		cancelled, cErr := m.CancelJob(j.ID())
		require.Nil(t, cErr)
		assert.False(t, cancelled)
	}
	assert.Equal(t, job.StatusCompleted, j.Status())
}

func TestCancelUnknownJob(t *testing.T) {
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{})
	_, cErr := m.CancelJob("no-such-job")
	require.NotNil(t, cErr)
	assert.Equal(t, apierr.CodeJobNotFound, cErr.Code)
}

func TestListFiltersAndSorts(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m, _ := startManager(t, Config{MaxConcurrent: 1}, &stubExecutor{block: block})

	a, ae := m.Submit("AMZN", "T1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, a.ID(), job.StatusDownloading)
	b, ae := m.Submit("NF", "T2", job.Parameters{})
	require.Nil(t, ae)
	_ = b

	all := m.List(ListFilter{})
	assert.Len(t, all, 2)

	downloading := job.StatusDownloading
	got := m.List(ListFilter{Status: &downloading})
	require.Len(t, got, 1)
	assert.Equal(t, a.ID(), got[0].ID)

	got = m.List(ListFilter{Service: "nf"})
	require.Len(t, got, 1)
	assert.Equal(t, "NF", got[0].Service)

	asc := m.List(ListFilter{SortBy: "created_time", SortOrder: "asc"})
	require.Len(t, asc, 2)
	assert.True(t, !asc[0].CreatedTime.After(asc[1].CreatedTime))

	desc := m.List(ListFilter{SortBy: "service", SortOrder: "desc"})
	require.Len(t, desc, 2)
	assert.Equal(t, "NF", desc[0].Service)
}

func TestRetentionSweep(t *testing.T) {
	m, _ := startManager(t, Config{MaxConcurrent: 1, Retention: time.Hour}, &stubExecutor{})

	j, ae := m.Submit("EX", "TT1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, j.ID(), job.StatusCompleted)

	// Within retention: survives.
	assert.Zero(t, m.Sweep(time.Now().UTC()))
	_, ok := m.Get(j.ID())
	assert.True(t, ok)

	// Past retention: removed.
	assert.Equal(t, 1, m.Sweep(time.Now().UTC().Add(2*time.Hour)))
	_, ok = m.Get(j.ID())
	assert.False(t, ok)
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m, _ := startManager(t, Config{MaxConcurrent: 1, QueueCapacity: 1}, &stubExecutor{block: block})

	first, ae := m.Submit("EX", "T1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, first.ID(), job.StatusDownloading)

	// Queue slot 1 fills...
	_, ae = m.Submit("EX", "T2", job.Parameters{})
	require.Nil(t, ae)

	// ...and the next submission is rejected.
	var rejected *apierr.Error
	require.Eventually(t, func() bool {
		_, ae := m.Submit("EX", "T3", job.Parameters{})
		if ae != nil {
			rejected = ae
			return true
		}
		return false
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, apierr.CodeServiceUnavailable, rejected.Code)
}

func TestQueuedGaugeBalancedAfterCancel(t *testing.T) {
	base := testutil.ToFloat64(metrics.QueuedJobs)

	cfg := Config{MaxConcurrent: 1}
	cfg.TempDir = t.TempDir()
	m := New(cfg, &stubExecutor{})

	// Submit and cancel before the manager runs: the cancel path accounts
	// for the queue gauge.
	j, ae := m.Submit("EX", "T1", job.Parameters{})
	require.Nil(t, ae)
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.QueuedJobs))

	cancelled, cErr := m.CancelJob(j.ID())
	require.Nil(t, cErr)
	assert.True(t, cancelled)
	assert.Equal(t, base, testutil.ToFloat64(metrics.QueuedJobs))

	// Draining the already-cancelled job must not decrement again.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	require.Eventually(t, func() bool { return len(m.queue) == 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, base, testutil.ToFloat64(metrics.QueuedJobs))
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	exec := &stubExecutor{block: block}
	cfg := Config{MaxConcurrent: 1}
	cfg.TempDir = t.TempDir()
	m := New(cfg, exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	j, ae := m.Submit("EX", "T1", job.Parameters{})
	require.Nil(t, ae)
	waitStatus(t, m, j.ID(), job.StatusDownloading)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not shut down")
	}
	assert.Equal(t, job.StatusCancelled, j.Status())
}
