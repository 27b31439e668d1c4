package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/54b3r/connectq/internal/logging"
)

// ErrRunnerClosed is returned by Submit once Close has been called.
var ErrRunnerClosed = errors.New("search: runner closed")

// Runner executes orchestrator operations on a bounded worker pool and hands
// back a Job the caller may await or ignore.
type Runner struct {
	// pool bounds how many jobs run at once.
	pool *ants.Pool
	// wg tracks submitted jobs that have not finished.
	wg sync.WaitGroup
	// mu orders wg.Add in Submit against the closed flip in Close.
	mu sync.Mutex
	// closed is set by Close; Submit rejects new work once it is true.
	closed bool
}

// NewRunner creates a Runner with size workers (minimum 1).
func NewRunner(size int) (*Runner, error) {
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("search: create worker pool: %w", err)
	}
	return &Runner{pool: pool}, nil
}

// Job is a handle on work submitted to a Runner.
type Job struct {
	// Name labels the job in logs (e.g. "embed_single:<id>").
	Name string

	// done is closed after result has been written.
	done chan struct{}
	// result is the job's outcome; read it only after done is closed.
	result Result
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx is done. Abandoning the wait does
// not cancel the job.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("search: wait for %s: %w", j.Name, ctx.Err())
	}
}

// Submit schedules fn on the pool. The job runs with a context that keeps
// ctx's values (logger, request id) but not its cancellation, so detached
// jobs outlive the request that started them. Submit blocks while every
// worker is busy.
func (r *Runner) Submit(ctx context.Context, name string, fn func(context.Context) Result) (*Job, error) {
	job := &Job{Name: name, done: make(chan struct{})}
	jobCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("submit %s: %w", name, ErrRunnerClosed)
	}
	r.wg.Add(1)
	r.mu.Unlock()

	err := r.pool.Submit(func() {
		defer r.wg.Done()
		defer close(job.done)
		defer func() {
			if p := recover(); p != nil {
				logging.FromContext(jobCtx).Error("search: job panicked",
					slog.String("job", name),
					slog.Any("panic", p),
				)
				job.result = Result{Success: false, Message: "internal error", Err: fmt.Errorf("search: job %s panicked: %v", name, p)}
			}
		}()
		job.result = fn(jobCtx)
	})
	if err != nil {
		r.wg.Done()
		return nil, fmt.Errorf("search: submit %s: %w", name, err)
	}
	return job, nil
}

// Close waits for submitted jobs to finish, or for ctx to end, and releases
// the pool. Submit fails after Close.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = fmt.Errorf("search: runner close: %w", ctx.Err())
	}
	r.pool.Release()
	return err
}
