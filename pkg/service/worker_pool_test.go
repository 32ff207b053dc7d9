package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

// testLogger implements Logger interface for testing
type testLogger struct{}

func newLogger() service.Logger {
	return &testLogger{}
}

func (l *testLogger) Infof(format string, args ...interface{}) {}

func (l *testLogger) Errorf(format string, args ...interface{}) {}

func TestWorkerPool_JobExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts int32
	tests := []struct {
		name          string
		job           service.Job
		opts          []service.PoolOption
		cancelAfter   time.Duration
		expectedError string
	}{
		{
			name: "Successful job",
			job: func(ctx context.Context) error {
				return nil
			},
		},
		{
			name: "Job timeout",
			job: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			opts:          []service.PoolOption{service.WithJobTimeout(50 * time.Millisecond)},
			expectedError: "context deadline exceeded",
		},
		{
			name: "Job cancellation",
			job: func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					return nil
				}
			},
			cancelAfter:   50 * time.Millisecond,
			expectedError: "context canceled",
		},
		{
			name: "Job retry success",
			job: func(ctx context.Context) error {
				// Fail on first attempt, succeed on retry
				if atomic.AddInt32(&attempts, 1) == 1 {
					return fmt.Errorf("temporary error")
				}
				return nil
			},
			opts: []service.PoolOption{service.WithJobRetries(1)},
		},
		{
			name: "Job retry failure",
			job: func(ctx context.Context) error {
				return fmt.Errorf("permanent error")
			},
			opts:          []service.PoolOption{service.WithJobRetries(1)},
			expectedError: "permanent error",
		},
		{
			name: "Job panic",
			job: func(ctx context.Context) error {
				panic("boom")
			},
			expectedError: "job test_job panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wp := service.NewWorkerPool(context.Background(), newLogger(), tt.opts...)
			wp.Start(1)
			defer wp.Stop()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelAfter > 0 {
				time.AfterFunc(tt.cancelAfter, cancel)
			}

			errs := wp.Run(ctx, map[string]service.Job{"test_job": tt.job})
			if tt.expectedError == "" {
				assert.Empty(t, errs)
				return
			}
			if assert.Contains(t, errs, "test_job") {
				assert.Contains(t, errs["test_job"].Error(), tt.expectedError)
			}
		})
	}
}

func TestWorkerPool_RunsJobsConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	wp := service.NewWorkerPool(context.Background(), newLogger())
	wp.Start(4)
	defer wp.Stop()

	var running, peak int32
	jobs := map[string]service.Job{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("job-%d", i)
		jobs[id] = func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			if id == "job-3" {
				return fmt.Errorf("%s failed", id)
			}
			return nil
		}
	}

	errs := wp.Run(context.Background(), jobs)
	assert.Len(t, errs, 1)
	assert.EqualError(t, errs["job-3"], "job-3 failed")
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestWorkerPool_Stopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	wp := service.NewWorkerPool(context.Background(), newLogger())
	wp.Start(2)
	wp.Stop()
	wp.Stop()

	errs := wp.Run(context.Background(), map[string]service.Job{"late": func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, errs["late"], service.ErrPoolStopped)
	assert.Empty(t, wp.Run(context.Background(), nil))
}

func TestWorkerPool_PoolContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	poolCtx, cancel := context.WithCancel(context.Background())
	wp := service.NewWorkerPool(poolCtx, newLogger())
	wp.Start(1)
	defer wp.Stop()
	cancel()

	var ran int32
	errs := wp.Run(context.Background(), map[string]service.Job{
		"a": func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
	})
	assert.ErrorIs(t, errs["a"], context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&ran))
}
