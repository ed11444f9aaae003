// Package parallel runs a function over a collection on independent
// goroutines and joins on the results.
//
// Every call builds its own errgroup, so there is no pool shared across
// stages. A failing task does not cancel its siblings: the call waits for
// all of them and then reports the first failure.
package parallel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

// TaskError identifies the task that failed a Map or Do call.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("parallel: task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PanicError is the cause recorded when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Observer receives the duration of every call.
type Observer func(stage string, tasks int, elapsed time.Duration, err error)

type options struct {
	limit    int
	stage    string
	observer Observer
}

// Option configures a Map or Do call.
type Option func(*options)

// WithLimit bounds the number of concurrently running tasks. n <= 0 means
// unbounded.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithStage names the call in duration logs.
func WithStage(name string) Option {
	return func(o *options) { o.stage = name }
}

// WithObserver registers a hook invoked once per call with its duration.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Map runs fn on every item and returns the results in completion order,
// not submission order. If any task returns an error or panics, Map
// returns a *TaskError for the first failure and no results.
func Map[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...Option) ([]R, error) {
	o := options{stage: "parallel"}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	var (
		mu      sync.Mutex
		results = make([]R, 0, len(items))
		g       errgroup.Group
	)
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = &TaskError{Index: i, Err: &PanicError{Value: rec, Stack: debug.Stack()}}
				}
			}()
			r, err := fn(ctx, item)
			if err != nil {
				return &TaskError{Index: i, Err: err}
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	elapsed := time.Since(start)
	logger.Debug("parallel stage finished",
		"stage", o.stage,
		"tasks", len(items),
		"duration_ms", elapsed.Milliseconds(),
		"failed", err != nil,
	)
	if o.observer != nil {
		o.observer(o.stage, len(items), elapsed, err)
	}

	if err != nil {
		return nil, err
	}
	return results, nil
}

// Do runs fn on a single item on its own worker and returns its result.
func Do[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error), opts ...Option) (R, error) {
	var zero R
	out, err := Map(ctx, []T{item}, fn, opts...)
	if err != nil {
		return zero, err
	}
	return out[0], nil
}
