// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch runs units of work on named queues with bounded
// concurrency, retrying failures with exponential backoff. A job that
// exhausts its attempts is marked failed with the last error retained;
// the caller decides whether that aborts anything larger.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Status is the lifecycle state of one job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Func is one unit of work. report publishes progress in [0,100];
// regressions are ignored so observers always see monotonic progress.
// A retried job re-executes the full unit of work; downstream versioned
// writes make the redundancy harmless.
type Func func(ctx context.Context, report func(int)) error

// Config holds the retry policy shared by jobs on a dispatcher.
type Config struct {
	// MaxAttempts is the total number of executions before a job is
	// marked failed (default 3).
	MaxAttempts int

	// BackoffBase is the delay before the second attempt; it doubles
	// per attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
	return c
}

// Job is a handle to one submitted unit of work.
type Job struct {
	ID    string
	Queue string

	mu       sync.Mutex
	status   Status
	progress int
	attempts int
	lastErr  error
	done     chan struct{}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns the last reported progress in [0,100].
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Err returns the retained last error of a failed job, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Attempts returns how many executions have started.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Wait blocks until the job reaches a terminal state or ctx expires.
// It returns the job's failure error, nil on completion, or ctx.Err()
// when the wait itself timed out (the job keeps running).
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		if j.status == StatusFailed {
			return j.lastErr
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setProgress keeps progress monotonic and capped.
func (j *Job) setProgress(p int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p > 100 {
		p = 100
	}
	if p > j.progress {
		j.progress = p
	}
}

// Dispatcher owns the queues. Construct one at process start and pass
// it into whoever enqueues work; there is no package-level instance.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*semaphore.Weighted
	jobs   map[string]*Job
	cfg    Config
	logger *zap.Logger
}

// New builds a dispatcher with the given retry policy.
func New(logger *zap.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queues: make(map[string]*semaphore.Weighted),
		jobs:   make(map[string]*Job),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// AddQueue registers a queue with its own concurrency ceiling.
// Registering an existing name replaces the ceiling for future jobs.
func (d *Dispatcher) AddQueue(name string, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[name] = semaphore.NewWeighted(int64(concurrency))
}

// Job returns the handle for a previously submitted job id.
func (d *Dispatcher) Job(id string) (*Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[id]
	return j, ok
}

// Submit admits a unit of work to a queue and returns its handle. The
// job starts as soon as the queue has capacity. Submission fails only
// for an unknown queue or a duplicate id.
func (d *Dispatcher) Submit(ctx context.Context, queue, id string, fn Func) (*Job, error) {
	d.mu.Lock()
	sem, ok := d.queues[queue]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	if _, exists := d.jobs[id]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("duplicate job id %q", id)
	}
	job := &Job{
		ID:     id,
		Queue:  queue,
		status: StatusQueued,
		done:   make(chan struct{}),
	}
	d.jobs[id] = job
	d.mu.Unlock()

	go d.run(ctx, sem, job, fn)
	return job, nil
}

func (d *Dispatcher) run(ctx context.Context, sem *semaphore.Weighted, job *Job, fn Func) {
	defer close(job.done)

	if err := sem.Acquire(ctx, 1); err != nil {
		d.finish(job, fmt.Errorf("acquiring queue slot: %w", err))
		return
	}
	defer sem.Release(1)

	job.mu.Lock()
	job.status = StatusRunning
	job.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.backoff(attempt)
			d.logger.Debug("retrying job",
				zap.String("job", job.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				d.finish(job, fmt.Errorf("cancelled before attempt %d: %w", attempt, ctx.Err()))
				return
			case <-time.After(backoff):
			}
		}

		job.mu.Lock()
		job.attempts = attempt
		job.mu.Unlock()

		err := fn(ctx, job.setProgress)
		if err == nil {
			job.mu.Lock()
			job.status = StatusCompleted
			job.progress = 100
			job.mu.Unlock()
			return
		}
		lastErr = err
		d.logger.Warn("job attempt failed",
			zap.String("job", job.ID),
			zap.String("queue", job.Queue),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	d.finish(job, lastErr)
}

func (d *Dispatcher) finish(job *Job, err error) {
	job.mu.Lock()
	job.status = StatusFailed
	job.lastErr = err
	job.mu.Unlock()
	d.logger.Warn("job failed",
		zap.String("job", job.ID),
		zap.String("queue", job.Queue),
		zap.Error(err))
}

// backoff doubles per attempt, bounded by BackoffMax.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := time.Duration(math.Pow(2, float64(attempt-2))) * d.cfg.BackoffBase
	if b > d.cfg.BackoffMax {
		return d.cfg.BackoffMax
	}
	return b
}
