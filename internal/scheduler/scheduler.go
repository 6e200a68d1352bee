package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrUnknownJob is returned for job names that were never added.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job already running")
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	logger   *slog.Logger
	timeout  time.Duration

	mu   sync.Mutex
	jobs map[string]entry
	base context.Context
}

type entry struct {
	id       cron.EntryID
	schedule string
	job      Job
	// busy is held for the duration of any run, scheduled or RunNow.
	busy *sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithJobTimeout bounds every job run. The default is 30 minutes.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a new scheduler with the given timezone
func New(timezone string, opts ...Option) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	s := &Scheduler{
		timezone: loc,
		logger:   slog.Default(),
		timeout:  30 * time.Minute,
		jobs:     make(map[string]entry),
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s, nil
}

// AddJob adds a job with a standard five field cron schedule, e.g.
// "0 */6 * * *" or a descriptor such as "@hourly".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	busy := &sync.Mutex{}
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.execute(name, job, busy)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: entryID, schedule: schedule, job: job, busy: busy}
	s.logger.Info("added job", "job", name, "schedule", schedule, "timezone", s.timezone.String())
	return nil
}

// RemoveJob removes a scheduled job and reports whether it existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	s.logger.Info("removed job", "job", name)
	return true
}

// Start begins running scheduled jobs. Job contexts derive from ctx, so
// cancelling it cancels running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes the named job outside of its schedule. It
// never overlaps a scheduled run of the same job: ErrJobRunning is
// returned while one is in progress, and scheduled firings are skipped
// while RunNow holds the job.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !e.busy.TryLock() {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer e.busy.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("running job now", "job", name)
	return e.job(ctx)
}

// ListJobs returns info about scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// NextRun returns when the named job fires next. It is the zero time
// before Start.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.cron.Entry(e.id).Next, nil
}

func (s *Scheduler) execute(name string, job Job, busy *sync.Mutex) {
	if !busy.TryLock() {
		s.logger.Info("skipping job, previous run still in progress", "job", name)
		return
	}
	defer busy.Unlock()

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	s.logger.Info("starting job", "job", name)
	start := time.Now()

	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Info("job completed", "job", name, "elapsed", time.Since(start))
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
