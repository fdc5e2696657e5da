// File: internal/jobs/supervisor.go

// Package jobs supervises enrollment runs as addressable background jobs.
// Each job owns an append-only event log; subscribers get the full history
// replayed in order before live events, and a slow subscriber loses events
// rather than slowing the run.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/enroll"
	"github.com/veilkit/pane/internal/metrics"
)

var (
	// ErrUnknownJob is returned for lookups of ids the supervisor never
	// issued (or restarted away; jobs live in memory only).
	ErrUnknownJob = errors.New("unknown job id")
	// ErrSupervisorClosed is returned by Enroll after Shutdown has begun.
	ErrSupervisorClosed = errors.New("job supervisor is shut down")
	// ErrNoTarget is returned by Enroll for an empty target URL.
	ErrNoTarget = errors.New("enrollment target url required")
)

// Runner executes one enrollment to a terminal result. The enroll.Machine
// is the production implementation; tests script a fake.
type Runner interface {
	Run(ctx context.Context, targetURL string, ec schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult
}

// Supervisor creates, tracks and cancels jobs. Jobs are retained for the
// process lifetime so late status queries and replays keep working after
// completion.
type Supervisor struct {
	logger  *zap.Logger
	runner  Runner
	metrics metrics.Sink

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor wires a supervisor around a runner. A nil metrics sink
// disables recording; a nil logger discards logs.
func NewSupervisor(runner Runner, sink metrics.Sink, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:     logger.Named("jobs"),
		runner:     runner,
		metrics:    sink,
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*Job),
	}
}

// Enroll starts one enrollment as a background job and returns its handle
// immediately. The run is bounded by the supervisor's lifetime and by the
// job's own cancellation.
func (s *Supervisor) Enroll(targetURL string, ec schemas.EnrollmentContext) (*Job, error) {
	if targetURL == "" {
		return nil, ErrNoTarget
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSupervisorClosed
	}
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	job := newJob(uuid.NewString(), targetURL, ec.Name, cancel)
	s.jobs[job.id] = job
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.JobStarted()
	s.logger.Info("Job started.",
		zap.String("jobID", job.id),
		zap.String("target", targetURL),
		zap.String("enrollContext", ec.Name))

	go s.runJob(jobCtx, job, ec)
	return job, nil
}

func (s *Supervisor) runJob(ctx context.Context, job *Job, ec schemas.EnrollmentContext) {
	defer s.wg.Done()
	defer job.cancel()
	started := time.Now()

	progress := func(pe schemas.ProgressEvent) {
		if job.append(pe) {
			s.metrics.EventEmitted()
		}
	}
	result := s.runner.Run(ctx, job.targetURL, ec, progress)

	status := StatusComplete
	outcome := enroll.OutcomeLabel(result)
	switch {
	case job.wasCancelRequested():
		status = StatusCanceled
		outcome = metrics.OutcomeCanceled
	case result == nil || result.Error != "":
		status = StatusFailed
	}
	job.finish(result, status)

	duration := time.Since(started)
	s.metrics.JobFinished(outcome, duration)
	s.logger.Info("Job finished.",
		zap.String("jobID", job.id),
		zap.String("status", string(status)),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
}

// Get returns the job for an id.
func (s *Supervisor) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrUnknownJob
	}
	return job, nil
}

// List snapshots all jobs, newest first.
func (s *Supervisor) List() []Snapshot {
	s.mu.Lock()
	snaps := make([]Snapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		snaps = append(snaps, job.Snapshot())
	}
	s.mu.Unlock()

	sort.Slice(snaps, func(i, k int) bool {
		if snaps[i].StartedAt.Equal(snaps[k].StartedAt) {
			return snaps[i].ID < snaps[k].ID
		}
		return snaps[i].StartedAt.After(snaps[k].StartedAt)
	})
	return snaps
}

// Subscribe attaches a reader to the job's event stream: full history
// first, then live events, channel closed after the terminal event. The
// returned func detaches early; calling it after the close is a no-op.
func (s *Supervisor) Subscribe(id string) (<-chan Event, func(), error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := job.subscribe()
	return ch, unsubscribe, nil
}

// Cancel requests cancellation of a running job. Idempotent; canceling a
// finished job is a no-op.
func (s *Supervisor) Cancel(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	job.requestCancel()
	return nil
}

// Shutdown cancels every running job and waits for them to reach terminal
// state, bounded by ctx. New jobs are refused from the first moment.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		running = append(running, job)
	}
	s.mu.Unlock()

	for _, job := range running {
		job.requestCancel()
	}
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
