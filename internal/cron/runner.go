package cronrunner

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"insiderwatch/internal/jobs"
)

// Runner is the cron-backed job queue. Overlapping runs of the same job are
// skipped, and panics are recovered and logged.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	policy  jobs.RetryPolicy

	mu      sync.Mutex
	jobs    map[string]jobs.Job
	entries map[string]cron.EntryID
}

func New(logger *zap.Logger, baseCtx context.Context, policy jobs.RetryPolicy) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	clog := cronLogger{l: zap.NewNop().Sugar()}
	if logger != nil {
		clog.l = logger.Sugar()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
			cron.WithLogger(clog),
		),
		logger:  logger,
		baseCtx: baseCtx,
		policy:  policy,
		jobs:    map[string]jobs.Job{},
		entries: map[string]cron.EntryID{},
	}
}

func (r *Runner) Register(job jobs.Job) error {
	if job.Name == "" || job.Run == nil {
		return jobs.ErrInvalidJob
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", jobs.ErrDuplicateJob, job.Name)
	}
	id, err := r.cron.AddFunc(job.Spec, func() {
		_ = jobs.Execute(r.baseCtx, r.logger, job, r.policy)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	r.jobs[job.Name] = job
	r.entries[job.Name] = id
	if r.logger != nil {
		r.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}
	return nil
}

// Trigger runs a registered job now, outside its schedule.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrUnknownJob, name)
	}
	return jobs.Execute(ctx, r.logger, job, r.policy)
}

// Entries lists the scheduled job names.
func (r *Runner) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started")
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ jobs.Queue = (*Runner)(nil)
