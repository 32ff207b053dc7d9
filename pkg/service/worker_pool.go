package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// default job timeout is 5m
	DefaultJobTimeout = 5 * time.Minute
	retryDelay        = 100 * time.Millisecond
)

// ErrPoolStopped is reported for jobs submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of work, keyed by an ID in Run.
type Job func(ctx context.Context) error

// runState holds state for a single Run call
type runState struct {
	errors       map[string]error
	pendingCount int           // Jobs not yet finished
	completeChan chan struct{} // Closed once every job finished
	mu           sync.Mutex
	cleanupOnce  sync.Once
}

func (s *runState) finish(id string, err error) {
	s.mu.Lock()
	if err != nil {
		s.errors[id] = err
	}
	s.pendingCount--
	done := s.pendingCount == 0
	s.mu.Unlock()
	if done {
		s.cleanupOnce.Do(func() { close(s.completeChan) })
	}
}

type jobContext struct {
	id    string
	job   Job
	ctx   context.Context
	state *runState
}

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	logger  Logger
	timeout time.Duration
	retries int
	jobChan chan jobContext
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
}

type PoolOption func(*WorkerPool)

// WithJobTimeout bounds every job attempt.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(wp *WorkerPool) {
		if d > 0 {
			wp.timeout = d
		}
	}
}

// WithJobRetries retries failed jobs up to n more times.
func WithJobRetries(n int) PoolOption {
	return func(wp *WorkerPool) {
		if n >= 0 {
			wp.retries = n
		}
	}
}

func NewWorkerPool(mainCtx context.Context, logger Logger, opts ...PoolOption) *WorkerPool {
	wp := &WorkerPool{
		logger:  logger,
		timeout: DefaultJobTimeout,
		ctx:     mainCtx,
	}
	for _, opt := range opts {
		opt(wp)
	}
	return wp
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.jobChan = make(chan jobContext, workers)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop stops accepting jobs and waits for the workers to drain the queue
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobChan)
	wp.mu.Unlock()

	wp.wg.Wait()
}

// Run executes jobs concurrently and blocks until all of them finished. The
// returned map holds the error of every failed job by ID.
func (wp *WorkerPool) Run(ctx context.Context, jobs map[string]Job) map[string]error {
	state := &runState{
		errors:       make(map[string]error),
		pendingCount: len(jobs),
		completeChan: make(chan struct{}),
	}
	if len(jobs) == 0 {
		return state.errors
	}

	wp.mu.RLock()
	if wp.stopped || wp.jobChan == nil {
		wp.mu.RUnlock()
		for id := range jobs {
			state.errors[id] = ErrPoolStopped
		}
		return state.errors
	}
	for id, job := range jobs {
		select {
		case wp.jobChan <- jobContext{id: id, job: job, ctx: ctx, state: state}:
		case <-ctx.Done():
			state.finish(id, ctx.Err())
		}
	}
	wp.mu.RUnlock()

	<-state.completeChan

	state.mu.Lock()
	defer state.mu.Unlock()
	errs := make(map[string]error, len(state.errors))
	for k, err := range state.errors {
		errs[k] = err
	}
	return errs
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for jobCtx := range wp.jobChan {
		if err := wp.ctx.Err(); err != nil {
			wp.logger.Infof("Skipping job %s: worker pool context done", jobCtx.id)
			jobCtx.state.finish(jobCtx.id, err)
			continue
		}
		if err := jobCtx.ctx.Err(); err != nil {
			wp.logger.Infof("Skipping job %s: %v", jobCtx.id, err)
			jobCtx.state.finish(jobCtx.id, err)
			continue
		}
		jobCtx.state.finish(jobCtx.id, wp.execute(jobCtx))
	}
}

func (wp *WorkerPool) execute(jobCtx jobContext) error {
	// cancelled when either the caller context or the pool context is done
	execCtx, cancel := context.WithCancel(jobCtx.ctx)
	defer cancel()
	stop := context.AfterFunc(wp.ctx, cancel)
	defer stop()

	var err error
	for attempt := 0; attempt <= wp.retries; attempt++ {
		err = wp.attempt(execCtx, jobCtx)
		if err == nil {
			return nil
		}
		if execCtx.Err() != nil {
			break
		}
		if attempt < wp.retries {
			wp.logger.Infof("Retrying job %s (attempt %d/%d): %v", jobCtx.id, attempt+1, wp.retries, err)
			select {
			case <-time.After(retryDelay):
			case <-execCtx.Done():
			}
		}
	}
	wp.logger.Errorf("Job %s failed: %v", jobCtx.id, err)
	return err
}

func (wp *WorkerPool) attempt(ctx context.Context, jobCtx jobContext) (err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, wp.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", jobCtx.id, r)
		}
	}()
	if err := jobCtx.job(timeoutCtx); err != nil {
		return err
	}
	return nil
}
