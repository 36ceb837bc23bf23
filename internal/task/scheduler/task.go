package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPanic is wrapped by the error returned for a task body that panicked.
var ErrPanic = errors.New("task panicked")

// Task is an asynchronous, fallible unit of work.
//
// Execute may be invoked from a different goroutine than the one that
// scheduled the task. Implementations must not carry unsynchronized mutable state.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

type namedTask struct {
	name string
	fn   TaskFunc
}

func (t namedTask) Name() string                      { return t.name }
func (t namedTask) Execute(ctx context.Context) error { return t.fn(ctx) }

// Func builds a named task. The name shows up in logs, events and snapshots.
func Func(name string, fn func(ctx context.Context) error) Task {
	return namedTask{name: name, fn: fn}
}

// TaskName returns the display name of t.
func TaskName(t Task) string {
	if n, ok := t.(interface{ Name() string }); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", t)
}

// TaskError wraps whatever a task body returned. errors.Is/As see through it.
type TaskError struct {
	Task string
	ID   ID
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s): %v", e.Task, e.ID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID       ID
	Task     string
	Mode     Mode
	Started  time.Time
	Duration time.Duration
	Err      error
}
