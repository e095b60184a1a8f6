// Package fanout provides the bounded executor used for parallel collaborator
// calls: policy analyses, group expansion, tag lookups and diagnostics.
//
// A fixed set of workers drains a bounded queue. Submitting beyond the queue
// capacity fails with a retriable RESOURCE_EXHAUSTED error instead of
// blocking, so an overloaded service sheds load at the edge.
package fanout

import (
	"context"
	"log"
	"sync"

	"github.com/ocx/elevate/internal/apierr"
)

// Task is a unit of work dispatched to the pool.
type Task func(ctx context.Context) error

// Executor is a fixed-size worker pool with a bounded queue.
type Executor struct {
	queue  chan job
	wg     sync.WaitGroup
	logger *log.Logger

	closeOnce sync.Once
}

type job struct {
	ctx  context.Context
	run  Task
	done func(error)
}

// New starts an executor with the given worker count and queue depth.
func New(workers, queueDepth int) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < workers {
		queueDepth = workers
	}
	e := &Executor{
		queue:  make(chan job, queueDepth),
		logger: log.New(log.Writer(), "[FANOUT] ", log.LstdFlags),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		if err := j.ctx.Err(); err != nil {
			j.done(err)
			continue
		}
		j.done(j.run(j.ctx))
	}
}

// Close stops the workers after the queue drains.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.queue) })
	e.wg.Wait()
}

// Do dispatches all tasks in parallel and joins them. The first error (by
// task order) is returned; the context passed to every task is cancelled as
// soon as one fails. If the queue cannot absorb the tasks the operation fails
// at once with RESOURCE_EXHAUSTED: its context is cancelled, workers skip the
// tasks it already queued that have not started, and the call does not wait
// for them.
func (e *Executor) Do(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		i, t := i, t
		wg.Add(1)
		j := job{
			ctx: ctx,
			run: t,
			done: func(err error) {
				if err != nil {
					errs[i] = err
					cancel()
				}
				wg.Done()
			},
		}
		select {
		case e.queue <- j:
		default:
			// Queue full. Cancel and return without waiting: workers skip
			// queued tasks once the context is cancelled, and any result
			// they still produce is discarded with the operation.
			wg.Done()
			cancel()
			e.logger.Printf("queue saturated, rejecting operation with %d tasks", len(tasks))
			return apierr.New(apierr.ResourceExhausted, "executor saturated, retry later")
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Collect runs one producer per input slot in parallel and returns the
// results in submission order.
func Collect[T any](ctx context.Context, e *Executor, producers []func(ctx context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(producers))
	tasks := make([]Task, len(producers))
	for i, p := range producers {
		i, p := i, p
		tasks[i] = func(ctx context.Context) error {
			v, err := p(ctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		}
	}
	if err := e.Do(ctx, tasks...); err != nil {
		return nil, err
	}
	return results, nil
}
