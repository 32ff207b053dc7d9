// Package scheduler runs periodic flowmetrics jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// JobFunc is a scheduled job. The context is cancelled on Stop.
type JobFunc func(ctx context.Context) error

var (
	// ErrUnknownJob is returned by RunNow for a name that was never added.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by RunNow while the same job is still running.
	ErrJobRunning = errors.New("job already running")
	// ErrStopped is returned by RunNow after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// job runs at most once at a time, whether triggered by cron or RunNow.
type job struct {
	fn      JobFunc
	running sync.Mutex
}

type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
	manual sync.WaitGroup // RunNow calls in flight

	mu      sync.Mutex
	stopped bool
	jobs    map[string]*job
	entries map[string]cron.EntryID
}

// New creates a scheduler evaluating schedules in loc (UTC when nil).
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cron.PrintfLogger(log.GetLogger())),
		),
		loc:     loc,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers fn under name on a standard five-field cron spec or a
// descriptor such as "@hourly" or "@every 10m".
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	if name == "" {
		return errors.New("job name is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression '%s' for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return errors.Errorf("job %s already registered", name)
	}
	j := &job{fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, j) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	s.jobs[name] = j
	s.entries[name] = id
	log.GetLogger().Infof("Scheduled job %s with '%s'", name, spec)
	return nil
}

func (s *Scheduler) run(name string, j *job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.invoke(name, j)
	if errors.Is(err, ErrJobRunning) {
		log.GetLogger().Infof("Skipping scheduled job %s: previous run still in progress", name)
		return
	}
	if err != nil {
		log.GetLogger().Errorf("Scheduled job %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.GetLogger().Debugf("Scheduled job %s finished in %s", name, time.Since(start).Round(time.Millisecond))
}

// invoke runs j unless it is already running, turning a panic into an error.
func (s *Scheduler) invoke(name string, j *job) (err error) {
	if !j.running.TryLock() {
		return ErrJobRunning
	}
	defer j.running.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()
	return j.fn(s.ctx)
}

// RunNow runs a registered job synchronously outside its schedule. It fails
// with ErrJobRunning instead of overlapping a run in progress, and Stop waits
// for it like for scheduled runs.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	stopped := s.stopped
	if ok && !stopped {
		s.manual.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}
	if stopped {
		return ErrStopped
	}
	defer s.manual.Done()
	return s.invoke(name, j)
}

// Next returns the next activation of a job, or the zero time for an unknown job.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	e := s.cron.Entry(id)
	if e.Next.IsZero() && e.Schedule != nil {
		return e.Schedule.Next(time.Now().In(s.loc))
	}
	return e.Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for scheduled and RunNow runs to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
