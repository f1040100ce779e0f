// Package task provides the completion handle returned by asynchronous
// pipeline methods.
//
// A Task is either already completed (FromResult, FromError, Completed) or
// backed by a goroutine started with Run. Generated code never blocks on a
// task without a context.
package task

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Task is the eventual result of an operation.
type Task struct {
	done  chan struct{}
	value any
	err   error
}

// PanicError is the error a task completes with when its function panics.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task: panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Run starts fn on a new goroutine and returns the task tracking it.
func Run(fn func() (any, error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.value, t.err = nil, &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		t.value, t.err = fn()
	}()
	return t
}

// FromResult returns a completed task holding v.
func FromResult(v any) *Task {
	return &Task{done: closed, value: v}
}

// FromError returns a completed task that failed with err.
func FromError(err error) *Task {
	return &Task{done: closed, err: err}
}

// Completed returns a completed task without a value.
func Completed() *Task {
	return &Task{done: closed}
}

// Done returns a channel that is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsCompleted reports whether the task has finished.
func (t *Task) IsCompleted() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Await waits for the task to complete or ctx to be done, whichever is first.
// A nil task awaits as completed.
func (t *Task) Await(ctx context.Context) (any, error) {
	if t == nil {
		return nil, nil
	}
	select {
	case <-t.done:
		return t.value, t.err
	default:
	}
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// As awaits t and asserts its value to T. A nil value yields the zero T.
func As[T any](ctx context.Context, t *Task) (T, error) {
	var zero T
	v, err := t.Await(ctx)
	if err != nil || v == nil {
		return zero, err
	}
	r, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task: result is %T, not %T", v, zero)
	}
	return r, nil
}

// WhenAll awaits every task and returns their values in order. The first
// error observed is returned.
func WhenAll(ctx context.Context, tasks ...*Task) ([]any, error) {
	values := make([]any, len(tasks))
	for i, t := range tasks {
		v, err := t.Await(ctx)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
