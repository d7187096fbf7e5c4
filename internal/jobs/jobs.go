// Package jobs defines the background job queue used by the monitor service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"insiderwatch/internal/metrics"
)

var (
	ErrUnknownJob   = errors.New("jobs: unknown job")
	ErrDuplicateJob = errors.New("jobs: duplicate job")
	ErrInvalidJob   = errors.New("jobs: invalid job")
)

type Func func(ctx context.Context) error

// Job is a named unit of work. Spec is a schedule understood by the queue
// implementation; the inline queue ignores it.
type Job struct {
	Name string
	Spec string
	Run  Func
}

func (j Job) validate() error {
	if strings.TrimSpace(j.Name) == "" || j.Run == nil {
		return ErrInvalidJob
	}
	return nil
}

// Queue schedules registered jobs. Trigger runs a job immediately and
// returns its final error.
type Queue interface {
	Register(job Job) error
	Trigger(ctx context.Context, name string) error
	Start()
	Stop()
}

// RetryPolicy retries failed runs with linear backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Execute runs a job under the retry policy, recording metrics and logs.
func Execute(ctx context.Context, logger *zap.Logger, job Job, policy RetryPolicy) error {
	started := time.Now()
	defer func() { metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(started).Seconds()) }()

	var err error
	for attempt := 0; ; attempt++ {
		err = job.Run(ctx)
		if err == nil {
			metrics.JobRuns.WithLabelValues(job.Name, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil || attempt >= policy.MaxRetries {
			break
		}
		if logger != nil {
			logger.Warn("job attempt failed",
				zap.String("job", job.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
		wait := policy.Backoff * time.Duration(attempt+1)
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
	}
	metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
	if logger != nil {
		logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
	}
	return fmt.Errorf("job %s: %w", job.Name, err)
}

// Inline runs jobs only when triggered, on the caller's goroutine. It backs
// one-shot commands and tests.
type Inline struct {
	Logger *zap.Logger
	Policy RetryPolicy

	mu   sync.Mutex
	jobs map[string]Job
	// order keeps registration order for RunAll.
	order []string
}

func NewInline(logger *zap.Logger, policy RetryPolicy) *Inline {
	return &Inline{Logger: logger, Policy: policy, jobs: map[string]Job{}}
}

func (q *Inline) Register(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = map[string]Job{}
	}
	if _, ok := q.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	q.jobs[job.Name] = job
	q.order = append(q.order, job.Name)
	return nil
}

func (q *Inline) Trigger(ctx context.Context, name string) error {
	q.mu.Lock()
	job, ok := q.jobs[name]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return Execute(ctx, q.Logger, job, q.Policy)
}

// RunAll triggers every job once in registration order and joins the errors.
func (q *Inline) RunAll(ctx context.Context) error {
	q.mu.Lock()
	names := append([]string(nil), q.order...)
	q.mu.Unlock()
	var errs []error
	for _, name := range names {
		if err := q.Trigger(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *Inline) Start() {}

func (q *Inline) Stop() {}

var _ Queue = (*Inline)(nil)
