package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/madfam-io/penny/internal/backoff"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/pkg/models"
)

// SchedulerConfig configures the C9 worker pool: bounded concurrency, an
// intervalCap admission gate (max starts per interval window), a hard
// per-job timeout, and the retry backoff policy. Field names and defaults
// follow spec.md §6's config enumeration.
type SchedulerConfig struct {
	Concurrency  int
	IntervalCap  int
	Interval     time.Duration
	JobTimeout   time.Duration
	MaxRetries   int
	Backoff      backoff.BackoffPolicy
	QueueSize    int
	DrainTimeout time.Duration
}

// DefaultSchedulerConfig mirrors spec.md §6's documented defaults
// (MAX_CONCURRENCY=10, QUEUE_INTERVAL_MS=1000, QUEUE_INTERVAL_CAP=20,
// DEFAULT_TIMEOUT_MS=30000, MAX_RETRIES=3).
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency:  10,
		IntervalCap:  20,
		Interval:     time.Second,
		JobTimeout:   2 * 30 * time.Second, // queue timeout = 2·defaultTimeout, per spec.md §5
		MaxRetries:   3,
		Backoff:      backoff.DefaultPolicy(),
		QueueSize:    0,
		DrainTimeout: 30 * time.Second,
	}
}

// Handler processes one ExecutionJob. Returning an error marks the job
// failed (and eligible for retry, if the error is retryable and attempts
// remain); ctx is cancelled if the job is cancelled mid-flight or exceeds
// JobTimeout.
type Handler func(ctx context.Context, job *models.ExecutionJob) error

// RetryableFunc reports whether an error returned by Handler should trigger
// a retry rather than a terminal failure.
type RetryableFunc func(err error) bool

// AlwaysRetryable treats every handler error as retryable, subject to
// MaxRetries.
func AlwaysRetryable(error) bool { return true }

// Scheduler pulls ready jobs from a PriorityQueue and runs them with bounded
// concurrency, admission-gated by an intervalCap token bucket, implementing
// spec.md §4.9 in full.
type Scheduler struct {
	cfg       SchedulerConfig
	queue     *PriorityQueue
	handler   Handler
	retryable RetryableFunc
	gate      *ratelimit.Bucket
	sem       chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler builds a Scheduler over queue, dispatching ready jobs to
// handler.
func NewScheduler(cfg SchedulerConfig, queue *PriorityQueue, handler Handler, retryable RetryableFunc) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.IntervalCap <= 0 {
		cfg.IntervalCap = 20
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if retryable == nil {
		retryable = AlwaysRetryable
	}

	gate := ratelimit.NewBucket(ratelimit.Config{
		RequestsPerSecond: float64(cfg.IntervalCap) / cfg.Interval.Seconds(),
		BurstSize:         cfg.IntervalCap,
		Enabled:           true,
	})

	return &Scheduler{
		cfg:       cfg,
		queue:     queue,
		handler:   handler,
		retryable: retryable,
		gate:      gate,
		sem:       make(chan struct{}, cfg.Concurrency),
		running:   make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
}

// Run dispatches jobs until the queue closes or ctx is cancelled. It blocks
// the calling goroutine — callers typically run it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		job, ok := s.queue.Pop()
		if !ok {
			return
		}

		for !s.gate.Allow() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(parent context.Context, job *models.ExecutionJob) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	jobCtx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	s.mu.Lock()
	s.running[job.JobID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, job.JobID)
		s.mu.Unlock()
	}()

	job.Status = models.JobRunning
	err := s.handler(jobCtx, job)

	switch {
	case err == nil:
		job.Status = models.JobSucceeded
	case jobCtx.Err() == context.Canceled:
		job.Status = models.JobCancelled
	case s.retryable(err) && job.Attempts < s.cfg.MaxRetries:
		job.Attempts++
		job.NextAttemptAt = time.Now().Add(backoff.ComputeBackoff(s.cfg.Backoff, job.Attempts))
		job.Status = models.JobQueued
		_ = s.queue.Push(job)
		return
	default:
		job.Status = models.JobFailed
	}
}

// CancelRunning sends a cancellation signal to an in-flight job, expecting
// it to terminate within the scheduler's drain grace period.
func (s *Scheduler) CancelRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Shutdown pauses admission and gives in-flight jobs up to DrainTimeout to
// finish before the caller's context is cancelled around any remaining
// workers, per spec.md §4.9's shutdown sequence.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout):
		s.mu.Lock()
		for _, cancel := range s.running {
			cancel()
		}
		s.mu.Unlock()
		<-done
	}
}
