package cronjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/hearth/pkg/logger"
)

var (
	ErrDuplicateJob = errors.New("cronjob: duplicate job name")
	ErrUnknownJob   = errors.New("cronjob: unknown job")
	ErrInvalidJob   = errors.New("cronjob: invalid job")
)

// Job is one scheduled function. Run receives a context bounded by Timeout
// and canceled when the scheduler stops.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules in UTC. A job that is still running
// when its next tick arrives skips that tick.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu     sync.Mutex
	jobs   map[string]Job
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log:  slog.Default(),
		jobs: make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("cron"))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add registers job. The spec uses the standard five field syntax or
// descriptors such as "@every 15m".
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: name and run func are required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) }); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidJob, job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Trigger runs the named job once, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(job)
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.InfoContext(ctx, "scheduler stopped")
	return nil
}

func (s *Scheduler) execute(job Job) error {
	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	log := s.log.With(logger.Job(job.Name))
	started := time.Now()
	if err := job.Run(ctx); err != nil {
		log.ErrorContext(ctx, "job failed", logger.Error(err), logger.Duration(time.Since(started)))
		return err
	}
	log.DebugContext(ctx, "job finished", logger.Duration(time.Since(started)))
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
