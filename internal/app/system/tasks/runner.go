// Package tasks runs periodic maintenance jobs in the background.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"go.uber.org/zap"
)

// ErrUnknownJob is returned by RunOnce for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a task run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	// Delay postpones the first run. Zero runs it immediately.
	Delay time.Duration
	Run   func(ctx context.Context) error
}

// Runner executes registered jobs until stopped.
type Runner struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	jobs     []Job
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	running  atomic.Int32
	jobNames sync.Map

	mu      sync.Mutex
	lastRun map[string]Status
}

// Status describes a registered job and its most recent run.
type Status struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// New creates a task runner. m may be nil.
func New(logger *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		logger:  logger,
		metrics: m,
		lastRun: make(map[string]Status),
	}
}

// Register adds a job. Jobs registered after Start are not run.
func (r *Runner) Register(job Job) {
	r.jobs = append(r.jobs, job)
}

// Start launches every registered job. Call Stop to shut down.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.runJob(ctx, job)
	}

	r.logger.Info("background task runner started",
		zap.Int("job_count", len(r.jobs)))
}

// Stop cancels all jobs and waits for them until ctx is done. It returns
// ctx.Err() if jobs are still running at the deadline.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("background task runner stopped gracefully")
		return nil
	case <-ctx.Done():
		var stillRunning []string
		r.jobNames.Range(func(key, _ any) bool {
			stillRunning = append(stillRunning, key.(string))
			return true
		})
		r.logger.Warn("background task runner shutdown timed out",
			zap.Strings("jobs_still_running", stillRunning),
			zap.Int32("running_count", r.running.Load()))
		return ctx.Err()
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	defer r.wg.Done()

	if job.Delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.Delay):
		}
	}
	r.executeJob(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			r.executeJob(ctx, job)
		}
	}
}

func (r *Runner) executeJob(ctx context.Context, job Job) {
	r.running.Add(1)
	r.jobNames.Store(job.Name, struct{}{})
	defer func() {
		r.running.Add(-1)
		r.jobNames.Delete(job.Name)
	}()

	start := time.Now()
	r.logger.Debug("job starting", zap.String("job", job.Name))

	err := r.call(ctx, job)
	if ctx.Err() == nil {
		r.record(job, start, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("job cancelled during shutdown",
				zap.String("job", job.Name),
				zap.Duration("duration", time.Since(start)))
			return
		}
		r.metrics.Job(job.Name, "error")
		r.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	r.metrics.Job(job.Name, "ok")
	r.logger.Debug("job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)))
}

// call runs the job, turning a panic into an error so one bad run does not
// take the process down.
func (r *Runner) call(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}
	}()
	return job.Run(ctx)
}

// RunOnce runs the named job immediately on the caller's goroutine.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	for _, job := range r.jobs {
		if job.Name == name {
			start := time.Now()
			err := r.call(ctx, job)
			r.record(job, start, err)
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (r *Runner) record(job Job, start time.Time, err error) {
	st := Status{Name: job.Name, Interval: job.Interval, LastRun: &start, LastDuration: time.Since(start)}
	if err != nil {
		st.LastError = err.Error()
	}
	r.mu.Lock()
	r.lastRun[job.Name] = st
	r.mu.Unlock()
}

// Statuses lists registered jobs in registration order.
func (r *Runner) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.jobs))
	for _, job := range r.jobs {
		st, ok := r.lastRun[job.Name]
		if !ok {
			st = Status{Name: job.Name, Interval: job.Interval}
		}
		_, st.Running = r.jobNames.Load(job.Name)
		out = append(out, st)
	}
	return out
}
