package app

import (
	"context"
	"errors"
	"time"

	"bgsched/internal/eventbus"
	"bgsched/internal/storage"
	"bgsched/internal/task/scheduler"
	logx "bgsched/pkg/logx"
)

// recordRuns appends every finished or failed task execution to the store.
func (a *App) recordRuns(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.appendRun(ctx, e)
		}
	}
}

// flushRuns appends the runs already buffered in events and returns without
// waiting for more. A nil channel is a no-op.
func (a *App) flushRuns(ctx context.Context, events <-chan eventbus.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			a.appendRun(ctx, e)
		default:
			return
		}
	}
}

func (a *App) appendRun(ctx context.Context, e eventbus.Event) {
	if e.Type != eventbus.TaskFinished && e.Type != eventbus.TaskFailed {
		return
	}
	ev, ok := e.Data.(scheduler.TaskEvent)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(wctx, runRecord(ev)); err != nil {
		a.log.Warn("run history append failed", logx.String("task", ev.Task), logx.Any("err", err))
	}
}

func runRecord(ev scheduler.TaskEvent) storage.RunRecord {
	r := storage.RunRecord{
		TaskID:   string(ev.ID),
		Task:     ev.Task,
		Mode:     ev.Mode.String(),
		Started:  ev.Started,
		Duration: ev.Duration,
	}
	if ev.Err != nil {
		var te *scheduler.TaskError
		if errors.As(ev.Err, &te) {
			r.Error = te.Err.Error()
		} else {
			r.Error = ev.Err.Error()
		}
	}
	return r
}
